// Package tracing defines OpenTelemetry tracing options.
package tracing

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// SamplerType selects the root sampling strategy.
type SamplerType string

const (
	SamplerAlwaysOn  SamplerType = "always_on"
	SamplerAlwaysOff SamplerType = "always_off"
	SamplerRatio     SamplerType = "ratio"

	// SamplerParentBased follows the caller's decision and samples roots by ratio.
	SamplerParentBased SamplerType = "parent_based"
)

// ExporterType selects where finished spans go.
type ExporterType string

const (
	ExporterOTLPGRPC ExporterType = "otlp_grpc"
	ExporterOTLPHTTP ExporterType = "otlp_http"

	// ExporterStdout pretty-prints spans to stderr.
	ExporterStdout ExporterType = "stdout"

	// ExporterNoop records spans for log correlation without exporting them.
	ExporterNoop ExporterType = "noop"
)

// ExporterOptions configures the span exporter.
type ExporterOptions struct {
	Type ExporterType `json:"type" mapstructure:"type"`
	// Endpoint host:port for both OTLP transports, e.g. localhost:4317.
	Endpoint string            `json:"endpoint" mapstructure:"endpoint"`
	Insecure bool              `json:"insecure" mapstructure:"insecure"`
	Headers  map[string]string `json:"headers" mapstructure:"headers"`
}

// SamplerOptions configures sampling.
type SamplerOptions struct {
	Type  SamplerType `json:"type" mapstructure:"type"`
	Ratio float64     `json:"ratio" mapstructure:"ratio"`
}

// BatchOptions configures the batch span processor of the OTLP exporters.
type BatchOptions struct {
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxSize       int           `json:"max-size" mapstructure:"max-size"`
	ExportTimeout time.Duration `json:"export-timeout" mapstructure:"export-timeout"`
	QueueSize     int           `json:"queue-size" mapstructure:"queue-size"`
}

// Options OpenTelemetry 追踪配置。
type Options struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	ServiceName      string `json:"service-name" mapstructure:"service-name"`
	ServiceVersion   string `json:"service-version" mapstructure:"service-version"`
	ServiceNamespace string `json:"service-namespace" mapstructure:"service-namespace"`
	Environment      string `json:"environment" mapstructure:"environment"`

	Exporter ExporterOptions `json:"exporter" mapstructure:"exporter"`
	Sampler  SamplerOptions  `json:"sampler" mapstructure:"sampler"`
	Batch    BatchOptions    `json:"batch" mapstructure:"batch"`

	// ResourceAttributes 附加到所有 span 的资源属性。
	ResourceAttributes map[string]string `json:"resource-attributes" mapstructure:"resource-attributes"`
}

// NewOptions creates default tracing options. Tracing is off by default.
func NewOptions() *Options {
	return &Options{
		ServiceName:    "sentinel-rag",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Exporter: ExporterOptions{
			Type:     ExporterOTLPGRPC,
			Endpoint: "localhost:4317",
			Insecure: true,
			Headers:  map[string]string{},
		},
		Sampler: SamplerOptions{Type: SamplerParentBased, Ratio: 1.0},
		Batch: BatchOptions{
			Timeout:       5 * time.Second,
			MaxSize:       512,
			ExportTimeout: 30 * time.Second,
			QueueSize:     2048,
		},
		ResourceAttributes: map[string]string{},
	}
}

// AddFlags adds flags for tracing options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "tracing."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Enable OpenTelemetry tracing.")
	fs.StringVar(&o.ServiceName, p+"service-name", o.ServiceName, "service.name resource attribute.")
	fs.StringVar(&o.ServiceVersion, p+"service-version", o.ServiceVersion, "service.version resource attribute.")
	fs.StringVar(&o.ServiceNamespace, p+"service-namespace", o.ServiceNamespace, "service.namespace resource attribute.")
	fs.StringVar(&o.Environment, p+"environment", o.Environment, "deployment.environment resource attribute.")
	fs.StringToStringVar(&o.ResourceAttributes, p+"resource-attributes", o.ResourceAttributes, "Extra resource attributes (k=v,...).")

	fs.StringVar((*string)(&o.Exporter.Type), p+"exporter.type", string(o.Exporter.Type), "Span exporter: otlp_grpc, otlp_http, stdout or noop.")
	fs.StringVar(&o.Exporter.Endpoint, p+"exporter.endpoint", o.Exporter.Endpoint, "OTLP collector host:port.")
	fs.BoolVar(&o.Exporter.Insecure, p+"exporter.insecure", o.Exporter.Insecure, "Disable TLS to the collector.")
	fs.StringToStringVar(&o.Exporter.Headers, p+"exporter.headers", o.Exporter.Headers, "Headers sent with every OTLP export (k=v,...).")

	fs.StringVar((*string)(&o.Sampler.Type), p+"sampler.type", string(o.Sampler.Type), "Sampler: always_on, always_off, ratio or parent_based.")
	fs.Float64Var(&o.Sampler.Ratio, p+"sampler.ratio", o.Sampler.Ratio, "Root sampling ratio in [0, 1].")

	fs.DurationVar(&o.Batch.Timeout, p+"batch.timeout", o.Batch.Timeout, "Longest wait before a batch is exported.")
	fs.IntVar(&o.Batch.MaxSize, p+"batch.max-size", o.Batch.MaxSize, "Spans per export batch.")
	fs.DurationVar(&o.Batch.ExportTimeout, p+"batch.export-timeout", o.Batch.ExportTimeout, "Timeout of one export call.")
	fs.IntVar(&o.Batch.QueueSize, p+"batch.queue-size", o.Batch.QueueSize, "Finished spans buffered for export; overflow is dropped.")
}

// Complete fills in nil maps.
func (o *Options) Complete() error {
	if o.Exporter.Headers == nil {
		o.Exporter.Headers = map[string]string{}
	}
	if o.ResourceAttributes == nil {
		o.ResourceAttributes = map[string]string{}
	}
	return nil
}

// Validate validates the tracing options. Disabled options are always valid.
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	var errs []error
	if o.ServiceName == "" {
		errs = append(errs, fmt.Errorf("tracing.service-name is required when tracing is enabled"))
	}

	switch o.Exporter.Type {
	case ExporterOTLPGRPC, ExporterOTLPHTTP:
		if o.Exporter.Endpoint == "" {
			errs = append(errs, fmt.Errorf("tracing.exporter.endpoint is required for %s", o.Exporter.Type))
		}
	case ExporterStdout, ExporterNoop:
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter.type %q is not supported", o.Exporter.Type))
	}

	switch o.Sampler.Type {
	case SamplerAlwaysOn, SamplerAlwaysOff:
	case SamplerRatio, SamplerParentBased:
		if o.Sampler.Ratio < 0 || o.Sampler.Ratio > 1 {
			errs = append(errs, fmt.Errorf("tracing.sampler.ratio must be in [0, 1], got %g", o.Sampler.Ratio))
		}
	default:
		errs = append(errs, fmt.Errorf("tracing.sampler.type %q is not supported", o.Sampler.Type))
	}

	if o.Batch.Timeout <= 0 || o.Batch.ExportTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tracing.batch timeouts must be positive"))
	}
	if o.Batch.MaxSize <= 0 || o.Batch.QueueSize < o.Batch.MaxSize {
		errs = append(errs, fmt.Errorf("tracing.batch.max-size must be positive and not exceed tracing.batch.queue-size"))
	}
	return errs
}
