package tracing

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by the query and ingest spans.
const (
	RequestID     = "rag.request_id"
	DocumentID    = "rag.document_id"
	Version       = "rag.version"
	TopK          = "rag.top_k"
	TokenBudget   = "rag.token_budget"
	Candidates    = "rag.candidates"
	Chunks        = "rag.chunks"
	TokensUsed    = "rag.tokens"
	CacheHit      = "rag.cache_hit"
	HTTPRoute     = "http.route"
	HTTPStatus    = "http.status_code"
	HTTPRequestID = "http.request_id"
)

// RecordError records err on the span in ctx and marks the span failed.
// A nil error is a no-op.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceIDFromContext extracts the trace ID from the context.
// Returns an empty string if no trace is active.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanIDFromContext extracts the span ID from the context.
func SpanIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}
