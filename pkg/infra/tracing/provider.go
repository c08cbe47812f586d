// Package tracing initializes the OpenTelemetry tracer provider used by the
// query and ingest paths.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	tracingopts "github.com/kart-io/sentinel-rag/pkg/options/tracing"
)

// debugOutput receives spans of the stdout exporter. Stdout itself carries
// the JSON printed by CLI commands.
var debugOutput io.Writer = os.Stderr

// Provider owns the SDK tracer provider and its exporter.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds a tracer provider from opts and installs it as the
// global provider together with the W3C trace context propagator.
//
// When tracing is disabled the returned provider is private and its spans
// are never recorded.
func NewProvider(ctx context.Context, opts *tracingopts.Options) (*Provider, error) {
	if opts == nil {
		opts = tracingopts.NewOptions()
	}
	if err := opts.Complete(); err != nil {
		return nil, fmt.Errorf("failed to complete tracing options: %w", err)
	}
	if err := utilerrors.NewAggregate(opts.Validate()); err != nil {
		return nil, fmt.Errorf("invalid tracing options: %w", err)
	}
	if !opts.Enabled {
		return &Provider{tp: sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))}, nil
	}

	res, err := newResource(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(opts)),
	}
	processor, err := newProcessor(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s exporter: %w", opts.Exporter.Type, err)
	}
	// noop 导出器：span 仍然记录（日志可关联 trace id），但不导出
	if processor != nil {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(processor))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

// Tracer returns a named tracer of this provider.
func (p *Provider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return p.tp.Tracer(name, opts...)
}

// ForceFlush exports every finished span still queued.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

func newResource(ctx context.Context, opts *tracingopts.Options) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(opts.ServiceVersion),
	}
	if opts.ServiceNamespace != "" {
		attrs = append(attrs, semconv.ServiceNamespace(opts.ServiceNamespace))
	}
	if opts.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(opts.Environment))
	}
	for k, v := range opts.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithProcess(),
	)
}

// newProcessor 返回导出器对应的 span 处理器；noop 返回 nil。
// stdout 使用同步处理器，span 结束即输出。
func newProcessor(ctx context.Context, opts *tracingopts.Options) (sdktrace.SpanProcessor, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch opts.Exporter.Type {
	case tracingopts.ExporterNoop:
		return nil, nil
	case tracingopts.ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(debugOutput))
		if err != nil {
			return nil, err
		}
		return sdktrace.NewSimpleSpanProcessor(exporter), nil
	case tracingopts.ExporterOTLPGRPC:
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Exporter.Endpoint), otlptracegrpc.WithHeaders(opts.Exporter.Headers)}
		if opts.Exporter.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		exporter, err = otlptracegrpc.New(ctx, grpcOpts...)
	case tracingopts.ExporterOTLPHTTP:
		httpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Exporter.Endpoint), otlptracehttp.WithHeaders(opts.Exporter.Headers)}
		if opts.Exporter.Insecure {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unsupported exporter type %q", opts.Exporter.Type)
	}
	if err != nil {
		return nil, err
	}

	return sdktrace.NewBatchSpanProcessor(exporter,
		sdktrace.WithBatchTimeout(opts.Batch.Timeout),
		sdktrace.WithMaxExportBatchSize(opts.Batch.MaxSize),
		sdktrace.WithExportTimeout(opts.Batch.ExportTimeout),
		sdktrace.WithMaxQueueSize(opts.Batch.QueueSize),
	), nil
}

func newSampler(opts *tracingopts.Options) sdktrace.Sampler {
	switch opts.Sampler.Type {
	case tracingopts.SamplerAlwaysOn:
		return sdktrace.AlwaysSample()
	case tracingopts.SamplerAlwaysOff:
		return sdktrace.NeverSample()
	case tracingopts.SamplerRatio:
		return sdktrace.TraceIDRatioBased(opts.Sampler.Ratio)
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.Sampler.Ratio))
	}
}
