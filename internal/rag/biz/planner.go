package biz

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/logger"
	"github.com/kart-io/sentinel-rag/internal/rag/errno"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
)

var tracer = otel.Tracer("github.com/kart-io/sentinel-rag/internal/rag/biz")

// Plan 是一次检索规划的结果。
type Plan struct {
	// Chunks 按排名保留的分块，总 token 数不超过预算（BudgetExceeded 时除外）。
	Chunks []store.ScoredChunk
	// Candidates 预算裁剪前的候选数。
	Candidates int
	// TokensUsed 保留分块的 token 总数。
	TokensUsed int
	// BudgetExceeded 为 true 表示排名第一的分块单独超出预算，仍被单独保留。
	BudgetExceeded bool
}

// ChunkIDs 返回保留分块的 ID。
func (p *Plan) ChunkIDs() []string {
	ids := make([]string, len(p.Chunks))
	for i, c := range p.Chunks {
		ids[i] = c.Chunk.ID
	}
	return ids
}

// PlanRequest 检索规划参数。
type PlanRequest struct {
	Question    string
	TopK        int
	TokenBudget int
	// DocumentIDs 限定检索的文档范围，为空不限制。
	DocumentIDs []string
}

// RetrievalPlanner 对问题做一次向量化，检索 top-k 分块并按 token 预算裁剪。
type RetrievalPlanner struct {
	embedder       EmbeddingPort
	index          store.VectorIndex
	relevanceFloor *float32
	metrics        *metrics.RAGMetrics
}

// NewRetrievalPlanner 创建检索规划器。relevanceFloor 为 nil 时不过滤低相关结果。
func NewRetrievalPlanner(embedder EmbeddingPort, index store.VectorIndex, relevanceFloor *float32, m *metrics.RAGMetrics) *RetrievalPlanner {
	return &RetrievalPlanner{
		embedder:       embedder,
		index:          index,
		relevanceFloor: relevanceFloor,
		metrics:        m,
	}
}

// Plan 执行检索规划。
func (p *RetrievalPlanner) Plan(ctx context.Context, req PlanRequest) (_ *Plan, err error) {
	if req.TopK < 1 {
		return nil, errno.ErrInvalidTopK.WithMessagef("top_k must be at least 1, got %d", req.TopK)
	}
	if req.TokenBudget < 1 {
		return nil, errno.ErrInvalidArgument.WithMessagef("token_budget must be at least 1, got %d", req.TokenBudget)
	}

	ctx, span := tracer.Start(ctx, "rag.plan")
	defer span.End()
	span.SetAttributes(attribute.Int(tracing.TopK, req.TopK), attribute.Int(tracing.TokenBudget, req.TokenBudget))

	start := time.Now()
	var plan *Plan
	defer func() {
		exceeded := plan != nil && plan.BudgetExceeded
		p.metrics.RecordRetrieval(time.Since(start), exceeded, err)
		if err != nil {
			tracing.RecordError(ctx, err)
		}
	}()

	vector, err := p.embedder.Embed(ctx, req.Question)
	if err != nil {
		p.metrics.RecordEmbeddingError()
		return nil, err
	}

	results, err := p.index.Search(ctx, vector, req.TopK, &store.SearchFilter{
		DocumentIDs: req.DocumentIDs,
		MinScore:    p.relevanceFloor,
	})
	if err != nil {
		return nil, err
	}

	plan = TrimToBudget(results, req.TokenBudget)
	span.SetAttributes(
		attribute.Int(tracing.Candidates, plan.Candidates),
		attribute.Int(tracing.Chunks, len(plan.Chunks)),
		attribute.Int(tracing.TokensUsed, plan.TokensUsed),
	)
	if plan.BudgetExceeded {
		logger.Warnw("top-ranked chunk exceeds token budget",
			"chunk_id", plan.Chunks[0].Chunk.ID,
			"chunk_tokens", plan.TokensUsed,
			"token_budget", req.TokenBudget)
	}
	return plan, nil
}

// TrimToBudget 按排名累加分块，在累计 token 数将要超过预算前停止。
// 第一个分块单独超出预算时单独保留并标记 BudgetExceeded。
func TrimToBudget(results []store.ScoredChunk, budget int) *Plan {
	plan := &Plan{Candidates: len(results), Chunks: []store.ScoredChunk{}}
	for i, r := range results {
		if plan.TokensUsed+r.Chunk.TokenCount > budget {
			if i == 0 {
				plan.Chunks = append(plan.Chunks, r)
				plan.TokensUsed = r.Chunk.TokenCount
				plan.BudgetExceeded = true
			}
			break
		}
		plan.Chunks = append(plan.Chunks, r)
		plan.TokensUsed += r.Chunk.TokenCount
	}
	return plan
}
