package biz

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/logger"
	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/errno"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/errors"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	"github.com/kart-io/sentinel-rag/pkg/utils/id"
)

// NoContextMarker 检索不到任何分块时传给生成模型的上下文。
const NoContextMarker = "[no supporting context found]"

// State 是一次问答请求的状态。
type State string

const (
	StateReceived   State = "RECEIVED"
	StateCacheCheck State = "CACHE_CHECK"
	StateHit        State = "HIT"
	StateMiss       State = "MISS"
	StateRetrieving State = "RETRIEVING"
	StateGenerating State = "GENERATING"
	StateCacheWrite State = "CACHE_WRITE"
	StateDone       State = "DONE"
	StateError      State = "ERROR"
)

// AnswerOptions 单次问答参数，零值字段使用服务默认值。
type AnswerOptions struct {
	// TopK 检索的分块数量。
	TopK int
	// TokenBudget 上下文 token 预算。
	TokenBudget int
	// TTL 缓存时间，0 使用缓存默认值，负数表示不缓存本次答案。
	TTL time.Duration
	// Model 覆盖默认生成模型。
	Model string
	// MaxOutputTokens 输出 token 上限。
	MaxOutputTokens int
	// DocumentIDs 限定检索的文档范围。
	DocumentIDs []string
}

// ServiceConfig RAG 服务配置。
type ServiceConfig struct {
	// ChunkMaxTokens 分块 token 上限。
	ChunkMaxTokens int
	// ChunkOverlapTokens 相邻分块重叠的 token 数。
	ChunkOverlapTokens int
	// TopK 默认检索数量。
	TopK int
	// TokenBudget 默认上下文 token 预算。
	TokenBudget int
	// Model 默认生成模型，为空由供应商决定。
	Model string
	// MaxOutputTokens 默认输出 token 上限。
	MaxOutputTokens int
	// IngestBatchSize 入库时每批计算向量的分块数。
	IngestBatchSize int
}

// DefaultServiceConfig 返回默认服务配置。
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		ChunkMaxTokens:     800,
		ChunkOverlapTokens: 100,
		TopK:               3,
		TokenBudget:        3000,
		MaxOutputTokens:    500,
		IngestBatchSize:    16,
	}
}

// Validate 校验配置。
func (c *ServiceConfig) Validate() error {
	if err := ValidateChunking(c.ChunkMaxTokens, c.ChunkOverlapTokens); err != nil {
		return err
	}
	switch {
	case c.TopK < 1:
		return errno.ErrConfiguration.WithMessagef("top_k must be at least 1, got %d", c.TopK)
	case c.TokenBudget < 1:
		return errno.ErrConfiguration.WithMessagef("token_budget must be at least 1, got %d", c.TokenBudget)
	case c.IngestBatchSize < 1:
		return errno.ErrConfiguration.WithMessagef("ingest_batch_size must be at least 1, got %d", c.IngestBatchSize)
	}
	return nil
}

// Dependencies 是 RAGService 依赖的组件。
type Dependencies struct {
	Index     store.VectorIndex
	Embedder  EmbeddingPort
	Generator GenerationPort
	Chunker   *Chunker
	// Cache 为 nil 时不缓存，也不合并并发请求。
	Cache *QueryCache
	// Planner 为 nil 时基于 Embedder 和 Index 创建。
	Planner *RetrievalPlanner
	// IngestPool 为 nil 时入库串行计算向量。
	IngestPool *pool.Pool
	Metrics    *metrics.RAGMetrics
}

// RAGService 编排问答与入库流程。
type RAGService struct {
	index     store.VectorIndex
	embedder  EmbeddingPort
	generator GenerationPort
	chunker   *Chunker
	cache     *QueryCache
	planner   *RetrievalPlanner
	pool      *pool.Pool
	metrics   *metrics.RAGMetrics
	config    *ServiceConfig
}

// NewRAGService 创建 RAG 服务实例。
func NewRAGService(deps Dependencies, config *ServiceConfig) (*RAGService, error) {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Index == nil || deps.Embedder == nil || deps.Generator == nil {
		return nil, errno.ErrConfiguration.WithMessage("index, embedder and generator are required")
	}
	if deps.Chunker == nil {
		deps.Chunker = NewChunker(WordTokenizer{})
	}
	if deps.Planner == nil {
		deps.Planner = NewRetrievalPlanner(deps.Embedder, deps.Index, nil, deps.Metrics)
	}
	return &RAGService{
		index:     deps.Index,
		embedder:  deps.Embedder,
		generator: deps.Generator,
		chunker:   deps.Chunker,
		cache:     deps.Cache,
		planner:   deps.Planner,
		pool:      deps.IngestPool,
		metrics:   deps.Metrics,
		config:    config,
	}, nil
}

// Config 返回服务配置。
func (s *RAGService) Config() ServiceConfig {
	return *s.config
}

// Answer 回答问题。
//
// 缓存命中时不做检索和生成；未命中时同一问题的并发请求只计算一次。
// 端口失败在重试耗尽后以 ErrQuery 返回，不会返回过期或不完整的答案。
func (s *RAGService) Answer(ctx context.Context, question string, opts AnswerOptions) (_ *model.Answer, err error) {
	ctx, rid := id.EnsureRequestID(ctx)
	ctx, span := tracer.Start(ctx, "rag.answer")
	defer span.End()

	st := newStateLog(rid, "")
	st.enter(StateReceived)

	var hit bool
	defer func() {
		s.metrics.RecordQuery(hit, err)
		if err != nil {
			st.fail(err)
			tracing.RecordError(ctx, err)
		}
	}()

	opts = s.withDefaults(opts)
	if strings.TrimSpace(question) == "" {
		return nil, errno.ErrEmptyQuestion
	}
	if opts.TopK < 1 {
		return nil, errno.ErrInvalidTopK.WithMessagef("top_k must be at least 1, got %d", opts.TopK)
	}
	if opts.TokenBudget < 1 {
		return nil, errno.ErrInvalidArgument.WithMessagef("token_budget must be at least 1, got %d", opts.TokenBudget)
	}
	span.SetAttributes(attribute.String(tracing.RequestID, rid), attribute.Int(tracing.TopK, opts.TopK))

	fingerprint := s.index.Fingerprint()
	if s.cache == nil {
		opts.TTL = -1
		st.enter(StateMiss)
		return s.compute(ctx, st, question, fingerprint, opts)
	}
	// 缓存键只含问题与指纹，检索参数偏离默认值的请求不读写缓存，只合并并发计算
	if scope := s.scope(opts); scope != "" {
		opts.TTL = -1
		st.enter(StateMiss)
		key := s.cache.ScopedKey(question, fingerprint, scope)
		return s.coalesce(ctx, st, key, func(ctx context.Context) (*model.Answer, error) {
			return s.compute(ctx, newStateLog(rid, StateMiss), question, fingerprint, opts)
		})
	}

	st.enter(StateCacheCheck)
	if answer, ok := s.cache.Lookup(ctx, question, fingerprint); ok {
		hit = true
		span.SetAttributes(attribute.Bool(tracing.CacheHit, true))
		st.enter(StateHit)
		answer.FromCache = true
		answer.TokensUsed = 0
		st.enter(StateDone)
		return answer, nil
	}

	st.enter(StateMiss)
	return s.coalesce(ctx, st, s.cache.Key(question, fingerprint), func(ctx context.Context) (*model.Answer, error) {
		// 上一个计算可能刚刚写入缓存
		if cached, ok := s.cache.Lookup(ctx, question, fingerprint); ok {
			cached.FromCache = true
			cached.TokensUsed = 0
			return cached, nil
		}
		return s.compute(ctx, newStateLog(rid, StateMiss), question, fingerprint, opts)
	})
}

// coalesce 让相同 key 的并发请求共享一次计算。
func (s *RAGService) coalesce(ctx context.Context, st *stateLog, key string, fn func(ctx context.Context) (*model.Answer, error)) (*model.Answer, error) {
	answer, shared, err := s.cache.Do(ctx, key, fn)
	if err != nil {
		return nil, err
	}
	if shared {
		s.metrics.RecordCoalesced()
		logger.Debugw("rag answer shared with in-flight request", "request_id", st.requestID)
	}
	st.enter(StateDone)
	return answer, nil
}

// compute 执行 RETRIEVING → GENERATING → CACHE_WRITE。
func (s *RAGService) compute(ctx context.Context, st *stateLog, question, fingerprint string, opts AnswerOptions) (*model.Answer, error) {
	st.enter(StateRetrieving)
	plan, err := s.planner.Plan(ctx, PlanRequest{
		Question:    question,
		TopK:        opts.TopK,
		TokenBudget: opts.TokenBudget,
		DocumentIDs: opts.DocumentIDs,
	})
	if err != nil {
		return nil, queryError(err)
	}

	st.enter(StateGenerating)
	start := time.Now()
	gen, err := s.generator.Generate(ctx, GenerateRequest{
		Question:        question,
		Context:         BuildContext(plan.Chunks),
		Model:           opts.Model,
		MaxOutputTokens: opts.MaxOutputTokens,
	})
	tokens := 0
	if gen != nil {
		tokens = gen.TokensUsed
	}
	s.metrics.RecordGeneration(time.Since(start), tokens, err)
	if err != nil {
		return nil, queryError(err)
	}

	answer := &model.Answer{
		Text:       gen.Text,
		Citations:  citations(plan.Chunks),
		TokensUsed: gen.TokensUsed,
		Ungrounded: len(plan.Chunks) == 0,
		Model:      gen.Model,
	}
	if plan.BudgetExceeded {
		answer.Warnings = append(answer.Warnings, model.Warning{
			Code: errno.ErrBudgetExceeded.Code,
			Message: fmt.Sprintf("chunk %s (%d tokens) exceeds token budget %d",
				plan.Chunks[0].Chunk.ID, plan.TokensUsed, opts.TokenBudget),
		})
	}

	if s.cache != nil && opts.TTL > 0 {
		st.enter(StateCacheWrite)
		if err := s.cache.Store(ctx, question, fingerprint, answer, plan.ChunkIDs(), opts.TTL); err != nil {
			logger.Warnw("failed to store answer in cache", "request_id", st.requestID, "error", err.Error())
		}
	}
	return answer, nil
}

func (s *RAGService) withDefaults(opts AnswerOptions) AnswerOptions {
	if opts.TopK == 0 {
		opts.TopK = s.config.TopK
	}
	if opts.TokenBudget == 0 {
		opts.TokenBudget = s.config.TokenBudget
	}
	if opts.Model == "" {
		opts.Model = s.config.Model
	}
	if opts.MaxOutputTokens == 0 {
		opts.MaxOutputTokens = s.config.MaxOutputTokens
	}
	if opts.TTL == 0 && s.cache != nil {
		opts.TTL = s.cache.DefaultTTL()
	}
	return opts
}

// scope 返回偏离默认值的检索与生成参数的规范化描述，全部为默认值时返回空串。
func (s *RAGService) scope(opts AnswerOptions) string {
	if len(opts.DocumentIDs) == 0 &&
		opts.TopK == s.config.TopK &&
		opts.TokenBudget == s.config.TokenBudget &&
		opts.Model == s.config.Model &&
		opts.MaxOutputTokens == s.config.MaxOutputTokens {
		return ""
	}
	docs := slices.Clone(opts.DocumentIDs)
	slices.Sort(docs)
	docs = slices.Compact(docs)
	return fmt.Sprintf("top_k=%d\x00budget=%d\x00model=%s\x00max_out=%d\x00docs=%s",
		opts.TopK, opts.TokenBudget, opts.Model, opts.MaxOutputTokens, strings.Join(docs, "\x00"))
}

// BuildContext 按排名拼接上下文，每段带文档 ID 与字节偏移。没有分块时返回 NoContextMarker。
func BuildContext(chunks []store.ScoredChunk) string {
	if len(chunks) == 0 {
		return NoContextMarker
	}
	var b strings.Builder
	for i, sc := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] doc=%s offsets=[%d,%d)\n%s",
			i+1, sc.Chunk.DocumentID, sc.Chunk.Start, sc.Chunk.End, sc.Chunk.Content)
	}
	return b.String()
}

func citations(chunks []store.ScoredChunk) []model.Citation {
	out := make([]model.Citation, len(chunks))
	for i, sc := range chunks {
		out[i] = model.Citation{
			DocumentID: sc.Chunk.DocumentID,
			Version:    sc.Chunk.Version,
			ChunkID:    sc.Chunk.ID,
			Offsets:    model.Offsets{Start: sc.Chunk.Start, End: sc.Chunk.End},
			Score:      sc.Score,
		}
	}
	return out
}

// queryError 把端口失败包装为终止性的 ErrQuery，其余错误原样返回。
func queryError(err error) error {
	if errors.IsCode(err, errno.ErrEmbeddingUnavailable.Code) || errors.IsCode(err, errno.ErrGenerationUnavailable.Code) {
		return errno.ErrQuery.WithCause(err)
	}
	return err
}

// Stats 返回索引与缓存的统计信息。
func (s *RAGService) Stats() map[string]any {
	stats := map[string]any{"index": s.index.Stats()}
	if s.cache != nil {
		stats["cache"] = s.cache.Stats()
	}
	return stats
}

// stateLog 以 debug 级别记录状态迁移，不可跨 goroutine 共享。
type stateLog struct {
	requestID string
	current   State
	started   time.Time
}

func newStateLog(requestID string, current State) *stateLog {
	return &stateLog{requestID: requestID, current: current, started: time.Now()}
}

func (l *stateLog) enter(next State) {
	logger.Debugw("rag state transition",
		"request_id", l.requestID,
		"from", string(l.current),
		"to", string(next),
		"elapsed", time.Since(l.started).String())
	l.current = next
}

func (l *stateLog) fail(err error) {
	logger.Debugw("rag state transition",
		"request_id", l.requestID,
		"from", string(l.current),
		"to", string(StateError),
		"error", err.Error())
	l.current = StateError
}
