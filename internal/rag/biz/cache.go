package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/kart-io/logger"
	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// CorpusView 是缓存校验所需的语料视图，store.VectorIndex 满足该接口。
type CorpusView interface {
	Fingerprint() string
	Contains(chunkID string) bool
}

// QueryCacheConfig 查询缓存配置。
type QueryCacheConfig struct {
	// TTL 默认过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
	// SweepInterval 后台清扫周期，0 表示只做惰性淘汰。
	SweepInterval time.Duration
}

// DefaultQueryCacheConfig 返回默认查询缓存配置。
func DefaultQueryCacheConfig() *QueryCacheConfig {
	return &QueryCacheConfig{
		TTL:           time.Hour,
		KeyPrefix:     "rag:query:",
		SweepInterval: time.Minute,
	}
}

// CacheEntry 是一条缓存的答案，每次读取都会重新校验。
type CacheEntry struct {
	Key         string        `json:"key"`
	Answer      *model.Answer `json:"answer"`
	ChunkIDs    []string      `json:"chunk_ids"`
	Fingerprint string        `json:"fingerprint"`
	CreatedAt   time.Time     `json:"created_at"`
	TTL         time.Duration `json:"ttl"`
}

// ExpiresAt 返回过期时间。
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// invalidReason 返回条目失效的原因，有效时返回空串。
// 版本失效优先于 TTL 判断。
func (e *CacheEntry) invalidReason(now time.Time, fingerprint string, corpus CorpusView) string {
	if e.Answer == nil || e.Fingerprint != fingerprint {
		return metrics.EvictFingerprint
	}
	if corpus != nil {
		for _, id := range e.ChunkIDs {
			if !corpus.Contains(id) {
				return metrics.EvictStaleChunk
			}
		}
	}
	if !now.Before(e.ExpiresAt()) {
		return metrics.EvictExpired
	}
	return ""
}

// CacheStats 缓存统计信息。
type CacheStats struct {
	Entries    int    `json:"entries"`
	TTL        string `json:"ttl"`
	KeyPrefix  string `json:"key_prefix"`
	Persistent bool   `json:"persistent"`
}

// QueryCache 以规范化问题和语料指纹为键缓存答案。
//
// 内存层是权威层；配置 Redis 时作为写透的二级层，进程重启后可通过 Warm 预热。
// 同一个键同时只会有一次计算，并发的相同请求共享结果。
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry

	corpus  CorpusView
	redis   goredis.UniversalClient
	config  *QueryCacheConfig
	metrics *metrics.RAGMetrics
	flights singleflight.Group
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewQueryCache 创建查询缓存。redis 为 nil 时只使用内存层。
func NewQueryCache(corpus CorpusView, redis goredis.UniversalClient, config *QueryCacheConfig, m *metrics.RAGMetrics) *QueryCache {
	if config == nil {
		config = DefaultQueryCacheConfig()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "rag:query:"
	}
	return &QueryCache{
		entries: make(map[string]*CacheEntry),
		corpus:  corpus,
		redis:   redis,
		config:  config,
		metrics: m,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// DefaultTTL 返回默认过期时间。
func (c *QueryCache) DefaultTTL() time.Duration {
	return c.config.TTL
}

// NormalizeQuestion 规范化问题：Unicode 兼容归一、大小写折叠、合并空白并去掉首尾空白。
func NormalizeQuestion(question string) string {
	folded := cases.Fold().String(norm.NFKC.String(question))
	return strings.Join(strings.Fields(folded), " ")
}

// Key 生成缓存键（规范化问题 + 语料指纹的 SHA256）。
func (c *QueryCache) Key(question, fingerprint string) string {
	sum := sha256.Sum256([]byte(NormalizeQuestion(question) + "\x00" + fingerprint))
	return c.config.KeyPrefix + hex.EncodeToString(sum[:])
}

// ScopedKey 在 Key 之后追加 scope 的摘要，用于合并带自定义参数的并发计算。
func (c *QueryCache) ScopedKey(question, fingerprint, scope string) string {
	sum := sha256.Sum256([]byte(scope))
	return c.Key(question, fingerprint) + "|" + hex.EncodeToString(sum[:8])
}

// Lookup 查找缓存的答案。过期或失效的条目视为未命中并被淘汰。
func (c *QueryCache) Lookup(ctx context.Context, question, fingerprint string) (*model.Answer, bool) {
	return c.lookupKey(ctx, c.Key(question, fingerprint), fingerprint)
}

func (c *QueryCache) lookupKey(ctx context.Context, key, fingerprint string) (*model.Answer, bool) {
	c.mu.RLock()
	entry := c.entries[key]
	c.mu.RUnlock()

	if entry != nil {
		if reason := entry.invalidReason(c.now(), fingerprint, c.corpus); reason != "" {
			c.evict(ctx, key, entry, reason)
			return nil, false
		}
		return entry.Answer.Clone(), true
	}

	entry = c.load(ctx, key)
	if entry == nil {
		return nil, false
	}
	if reason := entry.invalidReason(c.now(), fingerprint, c.corpus); reason != "" {
		c.metrics.RecordEviction(reason)
		c.deleteRemote(ctx, key)
		return nil, false
	}
	c.put(entry)
	logger.Debugw("cache entry promoted from redis", "key", key)
	return entry.Answer.Clone(), true
}

// Store 写入答案。ttl <= 0 时不缓存。
func (c *QueryCache) Store(ctx context.Context, question, fingerprint string, answer *model.Answer, chunkIDs []string, ttl time.Duration) error {
	if ttl <= 0 || answer == nil {
		return nil
	}
	entry := &CacheEntry{
		Key:         c.Key(question, fingerprint),
		Answer:      answer.Clone(),
		ChunkIDs:    append([]string(nil), chunkIDs...),
		Fingerprint: fingerprint,
		CreatedAt:   c.now(),
		TTL:         ttl,
	}
	c.put(entry)

	if c.redis == nil {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := c.redis.Set(ctx, entry.Key, data, ttl).Err(); err != nil {
		logger.Warnw("failed to write cache entry to redis", "key", entry.Key, "error", err.Error())
		return err
	}
	return nil
}

// Do 以 key 合并并发计算：同一时刻只有一个 fn 在执行，其余调用方等待其结果。
// 调用方取消只会让自己提前返回，不会中断共享的计算。
func (c *QueryCache) Do(ctx context.Context, key string, fn func(ctx context.Context) (*model.Answer, error)) (*model.Answer, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*model.Answer).Clone(), res.Shared, nil
	}
}

// Sweep 淘汰所有失效条目，返回淘汰数。正确性不依赖清扫，Lookup 总会重新校验。
func (c *QueryCache) Sweep(ctx context.Context) int {
	fingerprint := ""
	if c.corpus != nil {
		fingerprint = c.corpus.Fingerprint()
	}
	now := c.now()

	var stale []string
	c.mu.Lock()
	for key, entry := range c.entries {
		if entry.invalidReason(now, fingerprint, c.corpus) != "" {
			delete(c.entries, key)
			stale = append(stale, key)
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	for range stale {
		c.metrics.RecordEviction(metrics.EvictSweep)
	}
	c.metrics.SetCacheEntries(size)
	if len(stale) > 0 {
		c.deleteRemote(ctx, stale...)
		logger.Debugw("cache sweep finished", "evicted", len(stale), "entries", size)
	}
	return len(stale)
}

// StartSweeper 按 SweepInterval 周期性地在后台池中执行 Sweep。
func (c *QueryCache) StartSweeper(p *pool.Pool) {
	if c.config.SweepInterval <= 0 || c.done != nil {
		return
	}
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				sweep := func() { c.Sweep(context.Background()) }
				if p == nil {
					sweep()
					continue
				}
				if err := p.Submit(sweep); err != nil {
					logger.Debugw("cache sweep skipped", "error", err.Error())
				}
			}
		}
	}()
}

// Close 停止后台清扫。
func (c *QueryCache) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if c.done != nil {
			<-c.done
		}
	})
}

// Warm 从 Redis 预热内存层，删除与当前语料不再匹配的条目，返回载入数。
func (c *QueryCache) Warm(ctx context.Context) (int, error) {
	if c.redis == nil || c.corpus == nil {
		return 0, nil
	}
	fingerprint := c.corpus.Fingerprint()

	loaded := 0
	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		entry := c.load(ctx, key)
		if entry == nil {
			continue
		}
		if reason := entry.invalidReason(c.now(), fingerprint, c.corpus); reason != "" {
			c.metrics.RecordEviction(reason)
			c.deleteRemote(ctx, key)
			continue
		}
		c.put(entry)
		loaded++
	}
	if err := iter.Err(); err != nil {
		return loaded, err
	}
	logger.Infow("query cache warmed", "loaded", loaded)
	return loaded, nil
}

// Clear 清空内存层和 Redis 中的全部查询缓存。
func (c *QueryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*CacheEntry)
	c.mu.Unlock()
	c.metrics.SetCacheEntries(0)

	if c.redis == nil {
		return nil
	}
	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "key", iter.Val(), "error", err.Error())
		}
	}
	return iter.Err()
}

// Len 返回内存层条目数。
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats 返回缓存统计信息。
func (c *QueryCache) Stats() CacheStats {
	return CacheStats{
		Entries:    c.Len(),
		TTL:        c.config.TTL.String(),
		KeyPrefix:  c.config.KeyPrefix,
		Persistent: c.redis != nil,
	}
}

func (c *QueryCache) put(entry *CacheEntry) {
	c.mu.Lock()
	c.entries[entry.Key] = entry
	size := len(c.entries)
	c.mu.Unlock()
	c.metrics.SetCacheEntries(size)
}

func (c *QueryCache) evict(ctx context.Context, key string, entry *CacheEntry, reason string) {
	c.mu.Lock()
	if c.entries[key] == entry {
		delete(c.entries, key)
	}
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.RecordEviction(reason)
	c.metrics.SetCacheEntries(size)
	c.deleteRemote(ctx, key)
	logger.Debugw("cache entry evicted", "key", key, "reason", reason)
}

func (c *QueryCache) load(ctx context.Context, key string) *CacheEntry {
	if c.redis == nil {
		return nil
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !stderrors.Is(err, goredis.Nil) {
			logger.Warnw("failed to get from cache", "key", key, "error", err.Error())
		}
		return nil
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		logger.Warnw("failed to unmarshal cached entry", "key", key, "error", err.Error())
		c.deleteRemote(ctx, key)
		return nil
	}
	entry.Key = key
	return &entry
}

func (c *QueryCache) deleteRemote(ctx context.Context, keys ...string) {
	if c.redis == nil || len(keys) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "key", key, "error", err.Error())
		}
	}
}
