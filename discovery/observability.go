package discovery

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/a2aflow/a2aflow/telemetry"
)

type operation string

const (
	opFindAgentForSkill operation = "find_agent_for_skill"
	opFindWorkflow      operation = "find_workflow"
	opClearCache        operation = "clear_cache"
)

type outcome string

const (
	outcomeSuccess  outcome = "success"
	outcomeError    outcome = "error"
	outcomeCacheHit outcome = "cache_hit"
)

type operationEvent struct {
	op       operation
	key      string
	duration time.Duration
	outcome  outcome
	err      error
}

// observability provides structured logging, metrics, and tracing for
// discovery lookups, mirroring ociregistry's observability helper.
type observability struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

func newObservability(l telemetry.Logger, m telemetry.Metrics, t telemetry.Tracer) *observability {
	obs := &observability{logger: l, metrics: m, tracer: t}
	if obs.logger == nil {
		obs.logger = telemetry.NewNoopLogger()
	}
	if obs.metrics == nil {
		obs.metrics = telemetry.NewNoopMetrics()
	}
	if obs.tracer == nil {
		obs.tracer = telemetry.NewNoopTracer()
	}
	return obs
}

func (o *observability) startSpan(ctx context.Context, op operation, key string) (context.Context, telemetry.Span) {
	return o.tracer.Start(ctx, "discovery."+string(op), trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("key", key)))
}

func (o *observability) finish(ctx context.Context, span telemetry.Span, ev operationEvent) {
	keyvals := []any{
		"operation", string(ev.op),
		"outcome", string(ev.outcome),
		"duration_ms", ev.duration.Milliseconds(),
		"key", ev.key,
	}
	if ev.err != nil {
		keyvals = append(keyvals, "error", ev.err.Error())
	}

	tags := []string{"operation", string(ev.op), "outcome", string(ev.outcome)}
	o.metrics.RecordTimer("discovery.operation.duration", ev.duration, tags...)

	switch ev.outcome {
	case outcomeSuccess, outcomeCacheHit:
		o.logger.Info(ctx, "discovery lookup completed", keyvals...)
		o.metrics.IncCounter("discovery.operation.success", 1, tags...)
		span.SetStatus(codes.Ok, string(ev.outcome))
	case outcomeError:
		o.logger.Error(ctx, "discovery lookup failed", keyvals...)
		o.metrics.IncCounter("discovery.operation.error", 1, tags...)
		span.RecordError(ev.err)
		span.SetStatus(codes.Error, ev.err.Error())
	}
	span.End()
}
