package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerFallsBackToNoop(t *testing.T) {
	if Logger(context.Background()) != NoopLogger() {
		t.Fatalf("expected noop logger for empty context")
	}
	logger := zap.NewExample()
	ctx := WithLogger(context.Background(), logger)
	if Logger(ctx) != logger {
		t.Fatalf("expected stored logger")
	}
}

func TestTraceAndTrigger(t *testing.T) {
	ctx := WithTrace(context.Background(), TraceInfo{TraceID: "abc", SpanID: "1"})
	if TraceID(ctx) != "abc" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
	if got := TriggerFrom(ctx); got.Source != "unknown" {
		t.Fatalf("expected unknown trigger, got %+v", got)
	}
	ctx = WithTrigger(ctx, "admin", "uid-1")
	if got := TriggerFrom(ctx); got.Source != "admin" || got.Actor != "uid-1" {
		t.Fatalf("unexpected trigger %+v", got)
	}
}
