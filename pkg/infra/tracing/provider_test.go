package tracing

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	tracingopts "github.com/kart-io/sentinel-rag/pkg/options/tracing"
)

func enabledOptions(exporter tracingopts.ExporterType) *tracingopts.Options {
	opts := tracingopts.NewOptions()
	opts.Enabled = true
	opts.ServiceName = "sentinel-rag-test"
	opts.Exporter.Type = exporter
	opts.Sampler.Type = tracingopts.SamplerAlwaysOn
	opts.Batch.Timeout = time.Second
	return opts
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *tracingopts.Options)
		errs   int
	}{
		{"disabled is always valid", func(o *tracingopts.Options) { o.Enabled = false; o.ServiceName = "" }, 0},
		{"noop exporter", func(o *tracingopts.Options) {}, 0},
		{"missing service name", func(o *tracingopts.Options) { o.ServiceName = "" }, 1},
		{"otlp requires endpoint", func(o *tracingopts.Options) {
			o.Exporter.Type = tracingopts.ExporterOTLPHTTP
			o.Exporter.Endpoint = ""
		}, 1},
		{"unknown exporter", func(o *tracingopts.Options) { o.Exporter.Type = "zipkin" }, 1},
		{"unknown sampler", func(o *tracingopts.Options) { o.Sampler.Type = "sometimes" }, 1},
		{"ratio out of range", func(o *tracingopts.Options) {
			o.Sampler.Type = tracingopts.SamplerRatio
			o.Sampler.Ratio = 1.5
		}, 1},
		{"queue smaller than batch", func(o *tracingopts.Options) { o.Batch.QueueSize = 1 }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := enabledOptions(tracingopts.ExporterNoop)
			tt.mutate(opts)
			assert.Len(t, opts.Validate(), tt.errs)
		})
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	global := otel.GetTracerProvider()
	provider, err := NewProvider(context.Background(), nil)
	require.NoError(t, err)

	_, span := provider.Tracer("test").Start(context.Background(), "rag.answer")
	assert.False(t, span.IsRecording())
	span.End()
	assert.Equal(t, global, otel.GetTracerProvider(), "a disabled provider is not installed")
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProvider_InvalidOptions(t *testing.T) {
	opts := enabledOptions(tracingopts.ExporterOTLPGRPC)
	opts.ServiceName = ""
	opts.Exporter.Endpoint = ""
	_, err := NewProvider(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service-name")
	assert.Contains(t, err.Error(), "endpoint")
}

func TestNewProvider_NoopExporterRecordsSpans(t *testing.T) {
	ctx := context.Background()
	provider, err := NewProvider(ctx, enabledOptions(tracingopts.ExporterNoop))
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(ctx) }()

	spanCtx, span := provider.Tracer("test").Start(ctx, "rag.answer")
	assert.True(t, span.IsRecording())
	assert.NotEmpty(t, TraceIDFromContext(spanCtx))
	assert.NotEmpty(t, SpanIDFromContext(spanCtx))
	RecordError(spanCtx, assert.AnError)
	span.End()

	assert.Same(t, provider.tp, otel.GetTracerProvider())
	assert.NoError(t, provider.ForceFlush(ctx))
}

func TestNewProvider_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	prev := debugOutput
	debugOutput = &buf
	defer func() { debugOutput = prev }()

	ctx := context.Background()
	opts := enabledOptions(tracingopts.ExporterStdout)
	opts.ResourceAttributes = map[string]string{"rag.index": "docs"}
	provider, err := NewProvider(ctx, opts)
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(ctx) }()

	_, span := provider.Tracer("test").Start(ctx, "rag.retrieve")
	span.End()

	assert.Contains(t, buf.String(), "rag.retrieve")
	assert.Contains(t, buf.String(), "sentinel-rag-test")
}

func TestContextHelpersWithoutSpan(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TraceIDFromContext(ctx))
	assert.Empty(t, SpanIDFromContext(ctx))
	RecordError(ctx, nil)
	RecordError(ctx, assert.AnError)
}
