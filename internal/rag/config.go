// Package ragsvc assembles the RAG service from its options: vector index,
// providers, query cache, orchestrator and the HTTP server in front of them.
package ragsvc

import (
	"time"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/pkg/llm/resilience"
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

// Name is the name of the application.
const Name = "sentinel-rag"

// MetricsNamespace 是 Prometheus 指标的命名空间。
const MetricsNamespace = "sentinel"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	TracingOptions   *tracingopts.Options
	RedisOptions     *redisopts.Options
	MilvusOptions    *milvusopts.Options
	StoreOptions     *storeopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	RAGOptions       *ragopts.Options
	CacheOptions     *cacheopts.Options
}

// ServiceConfig 把 rag 选项转换为编排器配置。
func (cfg *Config) ServiceConfig() *biz.ServiceConfig {
	o := cfg.RAGOptions
	return &biz.ServiceConfig{
		ChunkMaxTokens:     o.ChunkSize,
		ChunkOverlapTokens: o.ChunkOverlap,
		TopK:               o.TopK,
		TokenBudget:        o.TokenBudget,
		Model:              cfg.ChatOptions.Model,
		MaxOutputTokens:    o.MaxOutputTokens,
		IngestBatchSize:    o.IngestBatchSize,
	}
}

// QueryCacheConfig 把 cache 选项转换为查询缓存配置。
func (cfg *Config) QueryCacheConfig() *biz.QueryCacheConfig {
	o := cfg.CacheOptions
	return &biz.QueryCacheConfig{
		TTL:           o.TTL,
		KeyPrefix:     o.KeyPrefix,
		SweepInterval: o.SweepInterval,
	}
}

// Tokenizer 返回 rag.tokenizer 对应的分词器。
func (cfg *Config) Tokenizer() biz.Tokenizer {
	if cfg.RAGOptions.Tokenizer == ragopts.TokenizerChars {
		return biz.CharTokenizer{}
	}
	return biz.WordTokenizer{}
}

// retryPolicy 根据供应商选项构造限速、熔断与重试策略。
func retryPolicy(o *llmopts.ProviderOptions) *resilience.Policy {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = o.MaxRetries + 1
	retry.InitialDelay = o.RetryInitialDelay
	retry.MaxDelay = max(o.RetryMaxDelay, o.RetryInitialDelay)
	retry.AttemptTimeout = o.Timeout

	breaker := resilience.DefaultCircuitBreakerConfig()
	if o.BreakerFailures > 0 {
		breaker.MaxFailures = o.BreakerFailures
	}
	return resilience.NewPolicy(o.Name(), retry, breaker, o.RateLimit, burstFor(o.RateLimit))
}

func burstFor(ratePerSecond float64) int {
	return max(int(ratePerSecond), 1)
}

// embeddingNamespace 区分不同模型的向量缓存。
func embeddingNamespace(o *llmopts.ProviderOptions) string {
	return o.Provider + "/" + o.Model
}

// closeTimeout bounds the shutdown of every component.
const closeTimeout = 10 * time.Second
