// Package options contains flags and options for initializing the RAG server.
package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	cliflag "github.com/kart-io/sentinel-rag/pkg/app/cliflag"
	"github.com/kart-io/sentinel-rag/pkg/options"
	cacheopts "github.com/kart-io/sentinel-rag/pkg/options/cache"
	httpopts "github.com/kart-io/sentinel-rag/pkg/options/http"
	llmopts "github.com/kart-io/sentinel-rag/pkg/options/llm"
	logopts "github.com/kart-io/sentinel-rag/pkg/options/logger"
	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	redisopts "github.com/kart-io/sentinel-rag/pkg/options/redis"
	storeopts "github.com/kart-io/sentinel-rag/pkg/options/store"
	tracingopts "github.com/kart-io/sentinel-rag/pkg/options/tracing"
)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// TracingOptions contains OpenTelemetry configuration.
	TracingOptions *tracingopts.Options `json:"tracing" mapstructure:"tracing"`

	// RedisOptions contains Redis configuration for the persistent caches.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// MilvusOptions contains Milvus database configuration.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// StoreOptions selects the vector index backend.
	StoreOptions *storeopts.Options `json:"store" mapstructure:"store"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// RAGOptions contains RAG-specific configuration.
	RAGOptions *ragopts.Options `json:"rag" mapstructure:"rag"`

	// CacheOptions contains cache configuration.
	CacheOptions *cacheopts.Options `json:"cache" mapstructure:"cache"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:      httpopts.NewOptions(),
		LogOptions:       logopts.NewOptions(),
		TracingOptions:   tracingopts.NewOptions(),
		RedisOptions:     redisopts.NewOptions(),
		MilvusOptions:    milvusopts.NewOptions(),
		StoreOptions:     storeopts.NewOptions(),
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		ChatOptions:      llmopts.NewChatOptions(),
		RAGOptions:       ragopts.NewOptions(),
		CacheOptions:     cacheopts.NewOptions(),
	}
}

// Flags returns flags for a specific server by section name.
func (o *ServerOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.TracingOptions.AddFlags(fss.FlagSet("tracing"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.MilvusOptions.AddFlags(fss.FlagSet("milvus"))
	o.StoreOptions.AddFlags(fss.FlagSet("store"))
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"))
	o.ChatOptions.AddFlags(fss.FlagSet("chat"))
	o.RAGOptions.AddFlags(fss.FlagSet("rag"))
	o.CacheOptions.AddFlags(fss.FlagSet("cache"))
	return fss
}

// sections lists every config section in flag order.
func (o *ServerOptions) sections() []options.Section {
	return []options.Section{
		{Name: "http", Options: o.HTTPOptions},
		{Name: "log", Options: o.LogOptions},
		{Name: "tracing", Options: o.TracingOptions},
		{Name: "redis", Options: o.RedisOptions},
		{Name: "milvus", Options: o.MilvusOptions},
		{Name: "store", Options: o.StoreOptions},
		{Name: "embedding", Options: o.EmbeddingOptions},
		{Name: "chat", Options: o.ChatOptions},
		{Name: "rag", Options: o.RAGOptions},
		{Name: "cache", Options: o.CacheOptions},
	}
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	return options.CompleteAll(o.sections()...)
}

// Validate checks whether the options in ServerOptions are valid.
// 外部存储只在被使用时校验。
func (o *ServerOptions) Validate() error {
	active := make([]options.Section, 0, len(o.sections()))
	for _, s := range o.sections() {
		switch {
		case s.Name == "redis" && !o.CacheOptions.NeedsRedis():
		case s.Name == "milvus" && o.StoreOptions.Backend != storeopts.BackendMilvus:
		default:
			active = append(active, s)
		}
	}
	return utilerrors.NewAggregate(options.ValidateAll(active...))
}

// Config builds a ragsvc.Config based on ServerOptions.
func (o *ServerOptions) Config() (*ragsvc.Config, error) {
	return &ragsvc.Config{
		HTTPOptions:      o.HTTPOptions,
		LogOptions:       o.LogOptions,
		TracingOptions:   o.TracingOptions,
		RedisOptions:     o.RedisOptions,
		MilvusOptions:    o.MilvusOptions,
		StoreOptions:     o.StoreOptions,
		EmbeddingOptions: o.EmbeddingOptions,
		ChatOptions:      o.ChatOptions,
		RAGOptions:       o.RAGOptions,
		CacheOptions:     o.CacheOptions,
	}, nil
}
