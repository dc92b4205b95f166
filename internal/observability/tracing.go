package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ewoodruff/tacit"

// Tracer wraps the globally installed OpenTelemetry tracer provider.
// When no provider is installed the spans are no-ops, so callers never
// need to branch on whether tracing is configured.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a tracer drawing from the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

// StartTask opens a span covering one full agent task.
func (t *Tracer) StartTask(ctx context.Context, taskID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "agent.task",
		trace.WithAttributes(attribute.String("task.id", taskID)))
}

// StartLLM opens a span for one provider request.
func (t *Tracer) StartLLM(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "llm.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		))
}

// StartTool opens a span for one tool execution.
func (t *Tracer) StartTool(ctx context.Context, tool string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool.execute",
		trace.WithAttributes(attribute.String("tool.name", tool)))
}

// EndSpan closes the span, recording err when present.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
