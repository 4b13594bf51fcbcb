package logctx

import (
	"context"

	"github.com/Zhima-Mochi/minishop-allocation/internal/observability"
	"go.opentelemetry.io/otel/trace"
)

type loggerKey struct{}

// With stores logger on ctx. Nested handlers pick it up through FromOr.
func With(ctx context.Context, logger observability.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromOr returns the logger stored on ctx, or fallback.
func FromOr(ctx context.Context, fallback observability.Logger) observability.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(observability.Logger); ok {
		return logger
	}
	if fallback == nil {
		return observability.NopLogger()
	}
	return fallback
}

// Enrich derives a logger from the one on ctx (or fallback), adds fields and
// the ids of the active span, and stores it on the returned context.
func Enrich(ctx context.Context, fallback observability.Logger, fields ...observability.Field) (context.Context, observability.Logger) {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	logger := FromOr(ctx, fallback).With(fields...)
	return With(ctx, logger), logger
}
