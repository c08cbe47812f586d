package resilience

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/utils/httpclient"
)

// ResilientEmbeddingProvider 带韧性策略的 Embedding Provider 包装器。
type ResilientEmbeddingProvider struct {
	provider llm.EmbeddingProvider
	policy   *Policy
}

// NewResilientEmbeddingProvider 创建带韧性策略的 Embedding Provider。
func NewResilientEmbeddingProvider(provider llm.EmbeddingProvider, policy *Policy) *ResilientEmbeddingProvider {
	if policy == nil {
		policy = NewPolicy(provider.Name()+"-embedding", nil, nil, 0, 0)
	}
	return &ResilientEmbeddingProvider{provider: provider, policy: policy}
}

// Embed 为多个文本生成向量嵌入（带重试和熔断）。
func (r *ResilientEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := r.policy.Do(ctx, func(actx context.Context) error {
		var err error
		result, err = r.provider.Embed(actx, texts)
		return err
	})
	return result, err
}

// EmbedSingle 为单个文本生成向量嵌入（带重试和熔断）。
func (r *ResilientEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	var result []float32
	err := r.policy.Do(ctx, func(actx context.Context) error {
		var err error
		result, err = r.provider.EmbedSingle(actx, text)
		return err
	})
	return result, err
}

// Name 返回供应商名称。
func (r *ResilientEmbeddingProvider) Name() string {
	return r.provider.Name()
}

// CircuitBreaker 获取熔断器实例（用于监控）。
func (r *ResilientEmbeddingProvider) CircuitBreaker() *CircuitBreaker {
	return r.policy.Breaker
}

// ResilientChatProvider 带韧性策略的 Chat Provider 包装器。
type ResilientChatProvider struct {
	provider llm.ChatProvider
	policy   *Policy
}

// NewResilientChatProvider 创建带韧性策略的 Chat Provider。
func NewResilientChatProvider(provider llm.ChatProvider, policy *Policy) *ResilientChatProvider {
	if policy == nil {
		policy = NewPolicy(provider.Name()+"-chat", nil, nil, 0, 0)
	}
	return &ResilientChatProvider{provider: provider, policy: policy}
}

// Chat 进行多轮对话（带重试和熔断）。
func (r *ResilientChatProvider) Chat(ctx context.Context, messages []llm.Message, opts *llm.GenerateOptions) (*llm.GenerateResponse, error) {
	var result *llm.GenerateResponse
	err := r.policy.Do(ctx, func(actx context.Context) error {
		var err error
		result, err = r.provider.Chat(actx, messages, opts)
		return err
	})
	return result, err
}

// Generate 根据提示生成文本（带重试和熔断）。
func (r *ResilientChatProvider) Generate(ctx context.Context, prompt, systemPrompt string, opts *llm.GenerateOptions) (*llm.GenerateResponse, error) {
	var result *llm.GenerateResponse
	err := r.policy.Do(ctx, func(actx context.Context) error {
		var err error
		result, err = r.provider.Generate(actx, prompt, systemPrompt, opts)
		return err
	})
	return result, err
}

// Name 返回供应商名称。
func (r *ResilientChatProvider) Name() string {
	return r.provider.Name()
}

// CircuitBreaker 获取熔断器实例（用于监控）。
func (r *ResilientChatProvider) CircuitBreaker() *CircuitBreaker {
	return r.policy.Breaker
}

// IsRetryableError 判断错误是否为暂时性故障。
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// 熔断器打开时重试只会再次被拒绝
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "EOF") || strings.Contains(msg, "connection reset")
}

var (
	_ llm.EmbeddingProvider = (*ResilientEmbeddingProvider)(nil)
	_ llm.ChatProvider      = (*ResilientChatProvider)(nil)
)
