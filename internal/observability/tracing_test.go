package observability

import (
	"context"
	"errors"
	"testing"
)

func TestTracerNoopWithoutProvider(t *testing.T) {
	tr := NewTracer()
	ctx := context.Background()

	ctx, span := tr.StartTask(ctx, "task-1")
	EndSpan(span, nil)

	_, span = tr.StartLLM(ctx, "anthropic", "claude-sonnet-4-20250514")
	EndSpan(span, errors.New("timeout"))

	_, span = tr.StartTool(ctx, "bash")
	EndSpan(span, nil)
}
