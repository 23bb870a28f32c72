package ociregistry

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
	opListRepositories operation = "list_repositories"
	opBlobExists       operation = "blob_exists"
	opUploadBlob       operation = "upload_blob"
	opUploadManifest   operation = "upload_manifest"
	opPullArtifact     operation = "pull_artifact"
)

type outcome string

const (
	outcomeSuccess  outcome = "success"
	outcomeError    outcome = "error"
	outcomeCacheHit outcome = "cache_hit"
)

type operationEvent struct {
	op       operation
	repo     string
	duration time.Duration
	outcome  outcome
	err      error
	count    int
}

// observability provides structured logging, metrics, and tracing for
// registry client operations, mirroring the teacher's registry.Observability.
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

func (o *observability) startSpan(ctx context.Context, op operation, attrs ...string) (context.Context, telemetry.Span) {
	kvs := make([]attribute.KeyValue, 0, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		kvs = append(kvs, attribute.String(attrs[i], attrs[i+1]))
	}
	return o.tracer.Start(ctx, "ociregistry."+string(op), trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(kvs...))
}

func (o *observability) finish(ctx context.Context, span telemetry.Span, ev operationEvent) {
	keyvals := []any{
		"operation", string(ev.op),
		"outcome", string(ev.outcome),
		"duration_ms", ev.duration.Milliseconds(),
	}
	if ev.repo != "" {
		keyvals = append(keyvals, "repo", ev.repo)
	}
	if ev.count > 0 {
		keyvals = append(keyvals, "count", ev.count)
	}
	if ev.err != nil {
		keyvals = append(keyvals, "error", ev.err.Error())
	}

	tags := []string{"operation", string(ev.op), "outcome", string(ev.outcome)}
	o.metrics.RecordTimer("ociregistry.operation.duration", ev.duration, tags...)

	switch ev.outcome {
	case outcomeSuccess, outcomeCacheHit:
		o.logger.Info(ctx, "registry operation completed", keyvals...)
		o.metrics.IncCounter("ociregistry.operation.success", 1, tags...)
		span.SetStatus(codes.Ok, string(ev.outcome))
	case outcomeError:
		o.logger.Error(ctx, "registry operation failed", keyvals...)
		o.metrics.IncCounter("ociregistry.operation.error", 1, tags...)
		span.RecordError(ev.err)
		span.SetStatus(codes.Error, ev.err.Error())
	}
	span.End()
}
