package logctx

import (
	"context"
	"testing"

	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
	"go.opentelemetry.io/otel/trace"
)

// recordingLogger keeps the fields it was derived with.
type recordingLogger struct {
	observability.Logger
	fields []observability.Field
}

func (l recordingLogger) With(fields ...observability.Field) observability.Logger {
	return recordingLogger{Logger: l.Logger, fields: append(append([]observability.Field{}, l.fields...), fields...)}
}

func fieldValue(l observability.Logger, key string) any {
	for _, f := range l.(recordingLogger).fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

func TestFromOrFallsBack(t *testing.T) {
	if FromOr(context.Background(), nil) == nil {
		t.Fatal("FromOr with no logger and nil fallback returned nil")
	}
	base := recordingLogger{Logger: observability.NopLogger()}
	ctx := With(context.Background(), base.With(observability.F("request_id", "r1")))
	if got := fieldValue(FromOr(ctx, base), "request_id"); got != "r1" {
		t.Fatalf("request_id = %v, want r1", got)
	}
}

func TestEnrichNestsAndAddsSpanIDs(t *testing.T) {
	base := recordingLogger{Logger: observability.NopLogger()}
	traceID := trace.TraceID{1}
	spanID := trace.SpanID{2}
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	ctx, _ = Enrich(ctx, base, observability.F("request_id", "r1"))
	_, logger := Enrich(ctx, base, observability.F("message_id", "m1"))

	if got := fieldValue(logger, "request_id"); got != "r1" {
		t.Fatalf("request_id = %v, want r1 inherited from outer logger", got)
	}
	if got := fieldValue(logger, "message_id"); got != "m1" {
		t.Fatalf("message_id = %v", got)
	}
	if got := fieldValue(logger, "trace_id"); got != traceID.String() {
		t.Fatalf("trace_id = %v", got)
	}
	if got := fieldValue(logger, "span_id"); got != spanID.String() {
		t.Fatalf("span_id = %v", got)
	}
}
