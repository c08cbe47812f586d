package ragsvc

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
)

// 审计结论。
const (
	AuditOK   = "ok"
	AuditWarn = "warn"
	AuditInfo = "info"
)

// 审计阈值，超过后提示成本风险。
const (
	recommendedChunkSize = 800
	recommendedTopK      = 3
)

var (
	economicalChatModels      = []string{"gpt-4o-mini", "gpt-4.1-mini", "qwen2.5:7b", "llama3.2"}
	expensiveChatModels       = []string{"gpt-4", "gpt-4-turbo", "gpt-4-turbo-preview", "gpt-4o"}
	economicalEmbeddingModels = []string{"text-embedding-3-small", "nomic-embed-text", "bge-m3"}
	expensiveEmbeddingModels  = []string{"text-embedding-3-large", "text-embedding-ada-002"}
)

// AuditFinding 单项审计结果。
type AuditFinding struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Status string `json:"status"`
	Hint   string `json:"hint,omitempty"`
}

// AuditReport 配置成本审计报告。
type AuditReport struct {
	Findings    []AuditFinding `json:"findings"`
	Optimized   []string       `json:"optimized"`
	Recommended []string       `json:"recommended"`
}

// FullyOptimized reports whether no finding needs attention.
func (r *AuditReport) FullyOptimized() bool {
	return len(r.Recommended) == 0
}

func (r *AuditReport) add(f AuditFinding) {
	r.Findings = append(r.Findings, f)
	switch f.Status {
	case AuditOK:
		r.Optimized = append(r.Optimized, f.Name)
	case AuditWarn:
		r.Recommended = append(r.Recommended, f.Hint)
	}
}

// Audit 检查影响调用成本的配置项：模型选择、分块大小、检索数量与查询缓存。
// 不访问任何外部服务。
func (cfg *Config) Audit() *AuditReport {
	r := &AuditReport{}

	r.add(modelFinding("chat.model", cfg.ChatOptions.Model, economicalChatModels, expensiveChatModels))
	r.add(modelFinding("embedding.model", cfg.EmbeddingOptions.Model, economicalEmbeddingModels, expensiveEmbeddingModels))

	rag := cfg.RAGOptions
	chunk := AuditFinding{Name: "rag.chunk-size", Value: strconv.Itoa(rag.ChunkSize), Status: AuditOK}
	if rag.ChunkSize > recommendedChunkSize {
		chunk.Status = AuditWarn
		chunk.Hint = fmt.Sprintf("reduce rag.chunk-size to %d to embed fewer tokens per chunk", recommendedChunkSize)
	}
	r.add(chunk)

	topK := AuditFinding{Name: "rag.top-k", Value: strconv.Itoa(rag.TopK), Status: AuditOK}
	if rag.TopK > recommendedTopK {
		topK.Status = AuditWarn
		topK.Hint = fmt.Sprintf("reduce rag.top-k to %d to send less context per question", recommendedTopK)
	}
	r.add(topK)

	r.add(AuditFinding{Name: "rag.token-budget", Value: strconv.Itoa(rag.TokenBudget), Status: AuditInfo})
	r.add(AuditFinding{Name: "rag.max-output-tokens", Value: strconv.Itoa(rag.MaxOutputTokens), Status: AuditInfo})

	c := cfg.CacheOptions
	if c.Enabled {
		r.add(AuditFinding{Name: "cache.enabled", Value: "true (ttl " + c.TTL.String() + ")", Status: AuditOK})
	} else {
		r.add(AuditFinding{
			Name:   "cache.enabled",
			Value:  "false",
			Status: AuditWarn,
			Hint:   "enable the query cache so repeated questions skip generation",
		})
	}
	if c.Enabled && !c.Persist {
		r.add(AuditFinding{
			Name:   "cache.persist",
			Value:  "false",
			Status: AuditInfo,
			Hint:   "cached answers are lost on restart",
		})
	}
	return r
}

func modelFinding(name, model string, economical, expensive []string) AuditFinding {
	f := AuditFinding{Name: name, Value: model, Status: AuditInfo}
	switch {
	case slices.Contains(economical, model):
		f.Status = AuditOK
	case slices.Contains(expensive, model):
		f.Status = AuditWarn
		f.Hint = fmt.Sprintf("switch %s to a smaller model such as %s", name, economical[0])
	}
	return f
}

// ProbeResult 供应商连通性探测结果。
type ProbeResult struct {
	EmbeddingModel     string        `json:"embedding_model"`
	EmbeddingDimension int           `json:"embedding_dimension"`
	EmbeddingLatency   time.Duration `json:"embedding_latency"`
	DimensionMatches   bool          `json:"dimension_matches"`
	ChatModel          string        `json:"chat_model"`
	Reply              string        `json:"reply"`
	TokensUsed         int           `json:"tokens_used"`
	GenerationLatency  time.Duration `json:"generation_latency"`
}

// probeMaxTokens 限制探测请求的输出长度。
const probeMaxTokens = 10

// Probe 对 Embedding 与 Chat 供应商各发起一次最小请求，
// 报告向量维度、回复内容与消耗的 token 数。不会打开索引或缓存。
func (cfg *Config) Probe(ctx context.Context) (*ProbeResult, error) {
	rt := &Runtime{Config: cfg}
	if err := rt.initPorts(nil); err != nil {
		return nil, err
	}

	res := &ProbeResult{
		EmbeddingModel: cfg.EmbeddingOptions.Model,
		ChatModel:      cfg.ChatOptions.Model,
	}

	start := time.Now()
	vec, err := rt.Embedder.Embed(ctx, "Test embedding")
	if err != nil {
		return res, fmt.Errorf("embedding probe failed: %w", err)
	}
	res.EmbeddingLatency = time.Since(start)
	res.EmbeddingDimension = len(vec)
	dim := cfg.StoreOptions.Dimension
	res.DimensionMatches = dim == 0 || len(vec) == dim

	start = time.Now()
	gen, err := rt.Generator.Generate(ctx, biz.GenerateRequest{
		Question:        "Say 'API test successful' in exactly 3 words.",
		Context:         "(none)",
		MaxOutputTokens: probeMaxTokens,
	})
	if err != nil {
		return res, fmt.Errorf("generation probe failed: %w", err)
	}
	res.GenerationLatency = time.Since(start)
	res.Reply = gen.Text
	res.TokensUsed = gen.TokensUsed
	return res, nil
}
