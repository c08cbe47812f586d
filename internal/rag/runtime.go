package ragsvc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/component/milvus"
	"github.com/kart-io/sentinel-rag/pkg/component/redis"
	"github.com/kart-io/sentinel-rag/pkg/component/storage"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/llm/resilience"
	storeopts "github.com/kart-io/sentinel-rag/pkg/options/store"

	// 注册 LLM 供应商
	_ "github.com/kart-io/sentinel-rag/pkg/llm/ollama"
	_ "github.com/kart-io/sentinel-rag/pkg/llm/openai"
)

// Runtime 持有一个进程内的全部 RAG 组件，供 HTTP 服务和命令行子命令共用。
type Runtime struct {
	Config    *Config
	Service   *biz.RAGService
	Index     store.VectorIndex
	Cache     *biz.QueryCache
	Embedder  biz.EmbeddingPort
	Generator biz.GenerationPort
	Metrics   *metrics.RAGMetrics
	Storage   *storage.Manager

	embeddingCache *llm.CachedEmbeddingProvider
	background     *pool.Pool
	ingest         *pool.Pool
	tracer         *tracing.Provider
	closers        []func(ctx context.Context) error
}

// NewRuntime 按配置初始化日志、追踪、存储、供应商、缓存与编排器。
// 任一步骤失败时已创建的组件会被释放。
func (cfg *Config) NewRuntime(ctx context.Context) (_ *Runtime, err error) {
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt := &Runtime{
		Config:  cfg,
		Metrics: metrics.New(MetricsNamespace),
		Storage: storage.NewManager(),
	}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	if rt.tracer, err = tracing.NewProvider(ctx, cfg.TracingOptions); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	rt.onClose(rt.tracer.Shutdown)

	var rdb goredis.UniversalClient
	if cfg.CacheOptions.NeedsRedis() {
		client, err := redis.New(ctx, cfg.RedisOptions)
		if err != nil {
			return nil, err
		}
		if err := rt.Storage.Register(client); err != nil {
			return nil, err
		}
		rdb = client.Client()
		logger.Infow("Redis client initialized", "addr", cfg.RedisOptions.Addr())
	}

	if rt.Index, err = rt.openIndex(ctx); err != nil {
		return nil, err
	}

	if err := rt.initPorts(rdb); err != nil {
		return nil, err
	}

	if rt.background, err = pool.NewPool("background", pool.BackgroundPool, pool.BackgroundPoolConfig()); err != nil {
		return nil, err
	}
	rt.onClose(releasePool(rt.background))
	if rt.ingest, err = pool.NewPool("ingest", pool.IngestPool, pool.IngestPoolConfig(cfg.RAGOptions.IngestWorkers)); err != nil {
		return nil, err
	}
	rt.onClose(releasePool(rt.ingest))

	if cfg.CacheOptions.Enabled {
		var persist goredis.UniversalClient
		if cfg.CacheOptions.Persist {
			persist = rdb
		}
		rt.Cache = biz.NewQueryCache(rt.Index, persist, cfg.QueryCacheConfig(), rt.Metrics)
		if n, err := rt.Cache.Warm(ctx); err != nil {
			logger.Warnw("failed to warm query cache", "error", err.Error())
		} else if n > 0 {
			logger.Infow("Query cache warmed", "entries", n)
		}
		rt.Cache.StartSweeper(rt.background)
		rt.onClose(func(context.Context) error {
			rt.Cache.Close()
			return nil
		})
	}

	planner := biz.NewRetrievalPlanner(rt.Embedder, rt.Index, cfg.RAGOptions.Floor(), rt.Metrics)
	rt.Service, err = biz.NewRAGService(biz.Dependencies{
		Index:      rt.Index,
		Embedder:   rt.Embedder,
		Generator:  rt.Generator,
		Chunker:    biz.NewChunker(cfg.Tokenizer()),
		Cache:      rt.Cache,
		Planner:    planner,
		IngestPool: rt.ingest,
		Metrics:    rt.Metrics,
	}, cfg.ServiceConfig())
	if err != nil {
		return nil, err
	}

	stats := rt.Index.Stats()
	logger.Infow("RAG service initialized",
		"store.backend", cfg.StoreOptions.Backend,
		"documents", stats.Documents,
		"chunks", stats.Chunks,
		"cache.enabled", cfg.CacheOptions.Enabled,
		"embedding", embeddingNamespace(cfg.EmbeddingOptions),
		"chat", embeddingNamespace(cfg.ChatOptions),
	)
	return rt, nil
}

// openIndex 打开配置的向量索引后端，并从持久层恢复内存索引。
func (rt *Runtime) openIndex(ctx context.Context) (store.VectorIndex, error) {
	o := rt.Config.StoreOptions

	var persister store.Persister
	switch o.Backend {
	case storeopts.BackendMemory:
		return store.NewMemoryIndex(o.Dimension), nil
	case storeopts.BackendSQLite:
		if dir := filepath.Dir(o.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		p, err := store.NewSQLitePersister(o.SQLitePath)
		if err != nil {
			return nil, err
		}
		persister = p
	case storeopts.BackendMilvus:
		client, err := milvus.New(rt.Config.MilvusOptions)
		if err != nil {
			return nil, err
		}
		if err := rt.Storage.Register(client); err != nil {
			_ = client.Close(ctx)
			return nil, err
		}
		p, err := store.NewMilvusPersister(ctx, client, o.Collection, o.Dimension)
		if err != nil {
			return nil, err
		}
		persister = p
	default:
		return nil, fmt.Errorf("unknown store backend %q", o.Backend)
	}

	idx := store.NewPersistentIndex(o.Dimension, persister)
	rt.onClose(func(context.Context) error { return idx.Close() })
	if err := idx.Restore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore vector index: %w", err)
	}
	return idx, nil
}

// initPorts 创建 Embedding 与 Chat 供应商，依次包裹重试策略和 Redis 向量缓存。
func (rt *Runtime) initPorts(rdb goredis.UniversalClient) error {
	cfg := rt.Config

	embedding, err := llm.NewEmbeddingProvider(cfg.EmbeddingOptions.Provider, cfg.EmbeddingOptions.ToConfigMap())
	if err != nil {
		return fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	embedding = resilience.NewResilientEmbeddingProvider(embedding, retryPolicy(cfg.EmbeddingOptions))
	if rdb != nil && cfg.CacheOptions.EmbeddingTTL > 0 {
		rt.embeddingCache = llm.NewCachedEmbeddingProvider(embedding, rdb, &llm.EmbeddingCacheConfig{
			TTL:       cfg.CacheOptions.EmbeddingTTL,
			KeyPrefix: "rag:emb:",
			Namespace: embeddingNamespace(cfg.EmbeddingOptions),
		})
		embedding = rt.embeddingCache
	}
	rt.Embedder = biz.NewEmbeddingPort(embedding)

	chat, err := llm.NewChatProvider(cfg.ChatOptions.Provider, cfg.ChatOptions.ToConfigMap())
	if err != nil {
		return fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	chat = resilience.NewResilientChatProvider(chat, retryPolicy(cfg.ChatOptions))
	rt.Generator = biz.NewGenerationPort(chat, cfg.RAGOptions.SystemPrompt)
	return nil
}

// ClearCaches 清空查询缓存与向量缓存。
func (rt *Runtime) ClearCaches(ctx context.Context) error {
	var errs []error
	if rt.Cache != nil {
		errs = append(errs, rt.Cache.Clear(ctx))
	}
	if rt.embeddingCache != nil {
		n, err := rt.embeddingCache.ClearCache(ctx)
		errs = append(errs, err)
		logger.Infow("Embedding cache cleared", "keys", n)
	}
	return utilerrors.NewAggregate(errs)
}

// Ready 报告所有外部存储是否可达。
func (rt *Runtime) Ready(ctx context.Context) ([]storage.HealthStatus, bool) {
	statuses := rt.Storage.HealthCheckAll(ctx, closeTimeout)
	return statuses, storage.AllHealthy(statuses)
}

func (rt *Runtime) onClose(fn func(ctx context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close 按创建的逆序释放组件。
func (rt *Runtime) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()

	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i](ctx))
	}
	rt.closers = nil
	errs = append(errs, rt.Storage.CloseAll(ctx))
	return utilerrors.NewAggregate(errs)
}

func releasePool(p *pool.Pool) func(context.Context) error {
	return func(context.Context) error {
		return p.ReleaseTimeout(closeTimeout)
	}
}
