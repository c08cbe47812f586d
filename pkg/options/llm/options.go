// Package llm provides LLM provider configuration options.
package llm

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// ProviderOptions 定义 LLM 供应商配置。
type ProviderOptions struct {
	// Provider 供应商名称（ollama, openai）。DeepSeek、SiliconFlow 等兼容服务使用 openai 并修改 base-url。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥（OpenAI 等需要）。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Timeout 单次请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 暂时性错误的最大重试次数（不含首次调用）。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// RetryInitialDelay 首次重试前的等待时间，之后指数增长。
	RetryInitialDelay time.Duration `json:"retry-initial-delay" mapstructure:"retry-initial-delay"`

	// RetryMaxDelay 重试等待时间上限。
	RetryMaxDelay time.Duration `json:"retry-max-delay" mapstructure:"retry-max-delay"`

	// BreakerFailures 连续失败多少次后熔断，0 表示使用默认值。
	BreakerFailures int `json:"breaker-failures" mapstructure:"breaker-failures"`

	// RateLimit 每秒请求数上限，0 表示不限速。
	RateLimit float64 `json:"rate-limit" mapstructure:"rate-limit"`

	// Organization 组织 ID（OpenAI 可选）。
	Organization string `json:"organization" mapstructure:"organization"`

	// name 命令行参数分组名，如 embedding、chat。
	name string
}

// NewProviderOptions 创建默认 LLM 供应商配置。
func NewProviderOptions(name string) *ProviderOptions {
	return &ProviderOptions{
		Provider:          "ollama",
		BaseURL:           "http://localhost:11434",
		Timeout:           60 * time.Second,
		MaxRetries:        2,
		RetryInitialDelay: 500 * time.Millisecond,
		RetryMaxDelay:     10 * time.Second,
		name:              name,
	}
}

// NewEmbeddingOptions 创建默认 Embedding 供应商配置。
func NewEmbeddingOptions() *ProviderOptions {
	opts := NewProviderOptions("embedding")
	opts.Model = "nomic-embed-text"
	opts.Timeout = 30 * time.Second
	return opts
}

// NewChatOptions 创建默认 Chat 供应商配置。
func NewChatOptions() *ProviderOptions {
	opts := NewProviderOptions("chat")
	opts.Model = "qwen2.5:7b"
	return opts
}

// Name 返回参数分组名。
func (o *ProviderOptions) Name() string {
	return o.name
}

// ToConfigMap 转换为配置 map，用于供应商工厂。
// 重试由 resilience 层负责，HTTP 客户端本身不重试。
func (o *ProviderOptions) ToConfigMap() map[string]any {
	return map[string]any{
		"base_url":     o.BaseURL,
		"api_key":      o.APIKey,
		"embed_model":  o.Model,
		"chat_model":   o.Model,
		"timeout":      o.Timeout,
		"max_retries":  0,
		"organization": o.Organization,
	}
}

// AddFlags adds flags for LLM provider options to the specified FlagSet.
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(append(prefixes, o.name)...)
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "Provider name (ollama, openai).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "API base URL.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "API key.")
	fs.StringVar(&o.Model, p+"model", o.Model, "Model name.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Timeout of a single request attempt.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Maximum number of retries on transient failures.")
	fs.DurationVar(&o.RetryInitialDelay, p+"retry-initial-delay", o.RetryInitialDelay, "Backoff before the first retry.")
	fs.DurationVar(&o.RetryMaxDelay, p+"retry-max-delay", o.RetryMaxDelay, "Maximum backoff between retries.")
	fs.IntVar(&o.BreakerFailures, p+"breaker-failures", o.BreakerFailures, "Consecutive failures before the circuit opens (0 = default).")
	fs.Float64Var(&o.RateLimit, p+"rate-limit", o.RateLimit, "Maximum requests per second (0 = unlimited).")
	fs.StringVar(&o.Organization, p+"organization", o.Organization, "Organization ID (optional).")
}

// Validate validates the LLM provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Provider == "" {
		errs = append(errs, fmt.Errorf("%s.provider is required", o.name))
	}
	if o.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s.base-url is required", o.name))
	}
	if o.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model is required", o.name))
	}
	if o.Provider == "openai" && o.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s.api-key is required for openai provider", o.name))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must be positive", o.name))
	}
	if o.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("%s.max-retries must not be negative", o.name))
	}
	if o.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("%s.rate-limit must not be negative", o.name))
	}
	return errs
}

// Complete completes the LLM provider options with defaults.
func (o *ProviderOptions) Complete() error {
	if o.RetryInitialDelay <= 0 {
		o.RetryInitialDelay = 500 * time.Millisecond
	}
	if o.RetryMaxDelay < o.RetryInitialDelay {
		o.RetryMaxDelay = o.RetryInitialDelay
	}
	return nil
}
