package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/a2aflow/a2aflow/telemetry"
)

type outcome string

const (
	outcomeSuccess outcome = "success"
	outcomeError   outcome = "error"
	outcomeSkipped outcome = "skipped"
)

type stepEvent struct {
	stepID   string
	stepType string
	duration time.Duration
	outcome  outcome
	err      error
}

// observability provides structured logging, metrics, and tracing for step
// execution, mirroring the pattern used by ociregistry and discovery.
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

func (o *observability) startSpan(ctx context.Context, stepID, stepType string) (context.Context, telemetry.Span) {
	return o.tracer.Start(ctx, "engine.step", trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("step_id", stepID), attribute.String("step_type", stepType)))
}

func (o *observability) finish(ctx context.Context, span telemetry.Span, ev stepEvent) {
	keyvals := []any{
		"step_id", ev.stepID,
		"step_type", ev.stepType,
		"outcome", string(ev.outcome),
		"duration_ms", ev.duration.Milliseconds(),
	}
	if ev.err != nil {
		keyvals = append(keyvals, "error", ev.err.Error())
	}

	tags := []string{"step_type", ev.stepType, "outcome", string(ev.outcome)}
	o.metrics.RecordTimer("engine.step.duration", ev.duration, tags...)

	switch ev.outcome {
	case outcomeSuccess, outcomeSkipped:
		o.logger.Info(ctx, "step completed", keyvals...)
		o.metrics.IncCounter("engine.step.success", 1, tags...)
		span.SetStatus(codes.Ok, string(ev.outcome))
	case outcomeError:
		o.logger.Error(ctx, "step failed", keyvals...)
		o.metrics.IncCounter("engine.step.error", 1, tags...)
		span.RecordError(ev.err)
		span.SetStatus(codes.Error, ev.err.Error())
	}
	span.End()
}
