// Package logger carries structured logging fields through a context so that
// every log line of a request shares the same request and trace identifiers.
package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
)

type contextKey int

const (
	loggerFieldsKey contextKey = iota
	contextLoggerKey
)

// field is one key/value pair. Fields keep insertion order.
type field struct {
	key   string
	value any
}

func fieldsFrom(ctx context.Context) []field {
	fs, _ := ctx.Value(loggerFieldsKey).([]field)
	return fs
}

func withField(ctx context.Context, key string, value any) context.Context {
	old := fieldsFrom(ctx)
	fs := make([]field, 0, len(old)+1)
	for _, f := range old {
		if f.key != key {
			fs = append(fs, f)
		}
	}
	fs = append(fs, field{key: key, value: value})
	return context.WithValue(ctx, loggerFieldsKey, fs)
}

// WithRequestID adds request_id to the context logger fields.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return withField(ctx, "request_id", requestID)
}

// WithFields adds key/value pairs to the context. A trailing odd key and
// non-string keys are ignored.
func WithFields(ctx context.Context, keysAndValues ...any) context.Context {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			ctx = withField(ctx, key, keysAndValues[i+1])
		}
	}
	return ctx
}

// ExtractOpenTelemetryFields copies trace_id and span_id from the active span.
func ExtractOpenTelemetryFields(ctx context.Context) context.Context {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ctx
	}
	ctx = withField(ctx, "trace_id", sc.TraceID().String())
	return withField(ctx, "span_id", sc.SpanID().String())
}

// GetContextFields returns the context fields as a flat key/value slice.
func GetContextFields(ctx context.Context) []any {
	fs := fieldsFrom(ctx)
	if len(fs) == 0 {
		return nil
	}
	out := make([]any, 0, len(fs)*2)
	for _, f := range fs {
		out = append(out, f.key, f.value)
	}
	return out
}

// GetLogger returns the logger stored by WithLogger, or the global logger
// decorated with the context fields.
func GetLogger(ctx context.Context) core.Logger {
	if l, ok := ctx.Value(contextLoggerKey).(core.Logger); ok {
		return l
	}
	fields := GetContextFields(ctx)
	if len(fields) == 0 {
		return logger.Global()
	}
	return logger.Global().With(fields...)
}

// WithLogger stores a pre-configured logger in the context.
func WithLogger(ctx context.Context, log core.Logger) context.Context {
	return context.WithValue(ctx, contextLoggerKey, log)
}
