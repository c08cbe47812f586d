package biz

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/kart-io/sentinel-rag/internal/rag/errno"
	"github.com/kart-io/sentinel-rag/pkg/llm"
)

// EmbeddingPort 将文本映射为固定维度的向量。失败时返回 ErrEmbeddingUnavailable。
type EmbeddingPort interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder 是 EmbeddingPort 的可选扩展，入库时按批计算向量。
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GenerateRequest 生成请求。
type GenerateRequest struct {
	// Question 用户问题。
	Question string
	// Context 按排名拼接、带出处的上下文。
	Context string
	// Model 模型名称，为空使用默认模型。
	Model string
	// MaxOutputTokens 输出 token 上限，0 表示不限制。
	MaxOutputTokens int
}

// Generation 生成结果。
type Generation struct {
	Text       string
	TokensUsed int
	Model      string
}

// GenerationPort 根据问题和上下文生成答案。失败时返回 ErrGenerationUnavailable。
type GenerationPort interface {
	Generate(ctx context.Context, req GenerateRequest) (*Generation, error)
}

// DefaultPromptTemplate 默认提示词模板，{{context}} 和 {{question}} 会被替换。
const DefaultPromptTemplate = `You are a helpful assistant answering questions from a private knowledge base.
Answer using only the numbered context passages below and cite them as [n].
If the context does not contain the answer, say so plainly.

Context:
{{context}}

Question: {{question}}

Answer:`

// providerEmbedder 用 llm.EmbeddingProvider 实现 EmbeddingPort。
type providerEmbedder struct {
	provider llm.EmbeddingProvider
}

// NewEmbeddingPort 基于 LLM 供应商创建 EmbeddingPort。
// 重试与熔断由 resilience 包装层负责，这里只做错误归类。
func NewEmbeddingPort(provider llm.EmbeddingProvider) EmbeddingPort {
	return &providerEmbedder{provider: provider}
}

func (e *providerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.provider.EmbedSingle(ctx, text)
	if err != nil {
		return nil, portError(err, errno.ErrEmbeddingUnavailable.WithCause(err))
	}
	return vec, nil
}

func (e *providerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.provider.Embed(ctx, texts)
	if err != nil {
		return nil, portError(err, errno.ErrEmbeddingUnavailable.WithCause(err))
	}
	return vecs, nil
}

// providerGenerator 用 llm.ChatProvider 实现 GenerationPort。
type providerGenerator struct {
	provider llm.ChatProvider
	template string
}

// NewGenerationPort 基于对话供应商创建 GenerationPort。template 为空时使用 DefaultPromptTemplate。
func NewGenerationPort(provider llm.ChatProvider, template string) GenerationPort {
	if strings.TrimSpace(template) == "" {
		template = DefaultPromptTemplate
	}
	return &providerGenerator{provider: provider, template: template}
}

func (g *providerGenerator) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	prompt := strings.NewReplacer("{{context}}", req.Context, "{{question}}", req.Question).Replace(g.template)
	resp, err := g.provider.Generate(ctx, prompt, "", &llm.GenerateOptions{
		Model:     req.Model,
		MaxTokens: req.MaxOutputTokens,
	})
	if err != nil {
		return nil, portError(err, errno.ErrGenerationUnavailable.WithCause(err))
	}
	return &Generation{
		Text:       resp.Content,
		TokensUsed: resp.TotalTokens(),
		Model:      resp.Model,
	}, nil
}

// portError 调用方取消时原样返回 ctx 错误，其余错误统一归类为端口不可用。
func portError(err error, unavailable error) error {
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	return unavailable
}

var (
	_ EmbeddingPort  = (*providerEmbedder)(nil)
	_ BatchEmbedder  = (*providerEmbedder)(nil)
	_ GenerationPort = (*providerGenerator)(nil)
)
