// Package cache provides query cache configuration options.
package cache

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 查询缓存配置。
type Options struct {
	// Enabled 是否启用查询缓存。关闭时同一问题的并发请求也不再合并。
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// TTL 答案默认过期时间。
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`

	// KeyPrefix 缓存键前缀。
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`

	// SweepInterval 后台清扫周期，0 表示只做惰性淘汰。
	SweepInterval time.Duration `json:"sweep-interval" mapstructure:"sweep-interval"`

	// Persist 是否把答案写透到 Redis，重启后预热。
	Persist bool `json:"persist" mapstructure:"persist"`

	// EmbeddingTTL 问题向量在 Redis 中的缓存时间，0 表示不缓存。
	EmbeddingTTL time.Duration `json:"embedding-ttl" mapstructure:"embedding-ttl"`
}

// NewOptions 创建默认缓存配置。
func NewOptions() *Options {
	return &Options{
		Enabled:       true,
		TTL:           time.Hour,
		KeyPrefix:     "rag:query:",
		SweepInterval: time.Minute,
	}
}

// AddFlags adds flags for cache options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "cache."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Enable the query cache.")
	fs.DurationVar(&o.TTL, p+"ttl", o.TTL, "Default lifetime of a cached answer.")
	fs.StringVar(&o.KeyPrefix, p+"key-prefix", o.KeyPrefix, "Cache key prefix.")
	fs.DurationVar(&o.SweepInterval, p+"sweep-interval", o.SweepInterval, "Interval of the background sweep (0 = lazy eviction only).")
	fs.BoolVar(&o.Persist, p+"persist", o.Persist, "Write cached answers through to Redis.")
	fs.DurationVar(&o.EmbeddingTTL, p+"embedding-ttl", o.EmbeddingTTL, "Lifetime of question embeddings cached in Redis (0 = disabled).")
}

// Validate validates the cache options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must not be negative"))
	}
	if o.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("cache.sweep-interval must not be negative"))
	}
	if o.EmbeddingTTL < 0 {
		errs = append(errs, fmt.Errorf("cache.embedding-ttl must not be negative"))
	}
	return errs
}

// Complete completes the cache options with defaults.
func (o *Options) Complete() error {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "rag:query:"
	}
	return nil
}

// NeedsRedis 报告是否需要 Redis 连接。
func (o *Options) NeedsRedis() bool {
	return (o.Enabled && o.Persist) || o.EmbeddingTTL > 0
}
