package biz

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
)

// fakeCorpus 是可变的 CorpusView。
type fakeCorpus struct {
	mu          sync.Mutex
	fingerprint string
	chunks      map[string]bool
}

func newFakeCorpus(fingerprint string, chunkIDs ...string) *fakeCorpus {
	c := &fakeCorpus{fingerprint: fingerprint, chunks: map[string]bool{}}
	for _, id := range chunkIDs {
		c.chunks[id] = true
	}
	return c
}

func (c *fakeCorpus) Fingerprint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fingerprint
}

func (c *fakeCorpus) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunks[id]
}

func (c *fakeCorpus) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.chunks, id)
}

// fakeClock 可手动推进的时钟。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClockedCache(corpus CorpusView, redis goredis.UniversalClient, m *metrics.RAGMetrics) (*QueryCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewQueryCache(corpus, redis, &QueryCacheConfig{TTL: time.Minute, KeyPrefix: "rag:test:"}, m)
	c.now = clock.Now
	return c, clock
}

func sampleAnswer() *model.Answer {
	return &model.Answer{
		Text:       "cached",
		TokensUsed: 12,
		Citations:  []model.Citation{{DocumentID: "d", Version: 1, ChunkID: "d@v1#000000"}},
	}
}

func TestNormalizeQuestion(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"What is X?", "what is x?"},
		{"  what   is x? ", "what is x?"},
		{"WHAT\tIS\nX?", "what is x?"},
		{"Straße", "strasse"},
		{"ＡＢＣ", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeQuestion(tt.in), "input %q", tt.in)
	}
}

func TestQueryCache_KeyEquality(t *testing.T) {
	c := NewQueryCache(nil, nil, nil, nil)
	assert.Equal(t, c.Key("What is X?", "fp"), c.Key("  what   is x? ", "fp"))
	assert.NotEqual(t, c.Key("What is X?", "fp"), c.Key("What is X?", "fp2"))
	assert.NotEqual(t, c.Key("What is X?", "fp"), c.Key("What is Y?", "fp"))
	assert.Contains(t, c.Key("q", "fp"), "rag:query:")

	scoped := c.ScopedKey("What is X?", "fp", "top_k=1")
	assert.True(t, strings.HasPrefix(scoped, c.Key("What is X?", "fp")+"|"))
	assert.Equal(t, scoped, c.ScopedKey("  what is x?", "fp", "top_k=1"))
	assert.NotEqual(t, scoped, c.ScopedKey("What is X?", "fp", "top_k=2"))
}

func TestQueryCache_RoundTripAndTTL(t *testing.T) {
	corpus := newFakeCorpus("fp1", "d@v1#000000")
	m := metrics.New("test")
	c, clock := newClockedCache(corpus, nil, m)
	ctx := context.Background()

	_, ok := c.Lookup(ctx, "What is X?", "fp1")
	assert.False(t, ok)

	require.NoError(t, c.Store(ctx, "What is X?", "fp1", sampleAnswer(), []string{"d@v1#000000"}, time.Minute))
	got, ok := c.Lookup(ctx, "  what is x?", "fp1")
	require.True(t, ok)
	assert.Equal(t, sampleAnswer(), got)

	// 返回副本，修改不影响缓存
	got.Citations[0].ChunkID = "mutated"
	again, ok := c.Lookup(ctx, "What is X?", "fp1")
	require.True(t, ok)
	assert.Equal(t, "d@v1#000000", again.Citations[0].ChunkID)

	clock.Advance(59 * time.Second)
	_, ok = c.Lookup(ctx, "What is X?", "fp1")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Lookup(ctx, "What is X?", "fp1")
	assert.False(t, ok, "entry must not be returned once age reaches ttl")
	assert.Zero(t, c.Len())
}

func TestQueryCache_FingerprintMismatch(t *testing.T) {
	corpus := newFakeCorpus("fp1", "d@v1#000000")
	c, _ := newClockedCache(corpus, nil, nil)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "q", "fp1", sampleAnswer(), []string{"d@v1#000000"}, time.Minute))
	_, ok := c.Lookup(ctx, "q", "fp2")
	assert.False(t, ok)

	// 条目记录的指纹与键不一致时同样无效
	key := c.Key("q", "fp1")
	c.mu.Lock()
	c.entries[key].Fingerprint = "other"
	c.mu.Unlock()
	_, ok = c.Lookup(ctx, "q", "fp1")
	assert.False(t, ok)
}

func TestQueryCache_StaleChunkInvalidatesBeforeTTL(t *testing.T) {
	corpus := newFakeCorpus("fp1", "d@v1#000000")
	c, _ := newClockedCache(corpus, nil, nil)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "q", "fp1", sampleAnswer(), []string{"d@v1#000000"}, time.Hour))
	corpus.remove("d@v1#000000")
	_, ok := c.Lookup(ctx, "q", "fp1")
	assert.False(t, ok)
}

func TestQueryCache_ZeroTTLDoesNotStore(t *testing.T) {
	c, _ := newClockedCache(newFakeCorpus("fp"), nil, nil)
	require.NoError(t, c.Store(context.Background(), "q", "fp", sampleAnswer(), nil, 0))
	assert.Zero(t, c.Len())
}

func TestQueryCache_Sweep(t *testing.T) {
	corpus := newFakeCorpus("fp1", "a", "b")
	c, clock := newClockedCache(corpus, nil, nil)
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "short", "fp1", sampleAnswer(), []string{"a"}, time.Second))
	require.NoError(t, c.Store(ctx, "long", "fp1", sampleAnswer(), []string{"b"}, time.Hour))
	require.NoError(t, c.Store(ctx, "old corpus", "fp0", sampleAnswer(), nil, time.Hour))

	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, c.Sweep(ctx))
	assert.Equal(t, 1, c.Len())
	_, ok := c.Lookup(ctx, "long", "fp1")
	assert.True(t, ok)
}

func TestQueryCache_SweeperRunsInBackground(t *testing.T) {
	corpus := newFakeCorpus("fp1")
	c := NewQueryCache(corpus, nil, &QueryCacheConfig{TTL: time.Minute, SweepInterval: 10 * time.Millisecond}, nil)
	defer c.Close()

	require.NoError(t, c.Store(context.Background(), "q", "stale", sampleAnswer(), nil, time.Minute))
	c.StartSweeper(nil)
	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestQueryCache_DoCoalesces(t *testing.T) {
	c := NewQueryCache(nil, nil, nil, nil)
	gate := make(chan struct{})
	var calls int
	var mu sync.Mutex

	fn := func(context.Context) (*model.Answer, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-gate
		return sampleAnswer(), nil
	}

	var wg sync.WaitGroup
	results := make([]*model.Answer, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _, _ = c.Do(context.Background(), "k", fn)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, calls)
	for _, r := range results {
		assert.Equal(t, "cached", r.Text)
	}
}

func TestQueryCache_DoWaiterCancel(t *testing.T) {
	c := NewQueryCache(nil, nil, nil, nil)
	gate := make(chan struct{})
	defer close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := c.Do(ctx, "k", func(ctx context.Context) (*model.Answer, error) {
		<-gate
		assert.NoError(t, ctx.Err(), "shared work must not see caller cancellation")
		return sampleAnswer(), nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// newTestRedis 连接测试用 Redis，不可用时跳过。
func newTestRedis(t *testing.T) goredis.UniversalClient {
	t.Helper()
	addr := os.Getenv("RAG_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestQueryCache_RedisTier(t *testing.T) {
	redis := newTestRedis(t)
	ctx := context.Background()
	corpus := newFakeCorpus("fp1", "d@v1#000000")
	prefix := "rag:test:" + t.Name() + ":"

	writer := NewQueryCache(corpus, redis, &QueryCacheConfig{TTL: time.Minute, KeyPrefix: prefix}, nil)
	require.NoError(t, writer.Clear(ctx))
	require.NoError(t, writer.Store(ctx, "What is X?", "fp1", sampleAnswer(), []string{"d@v1#000000"}, time.Minute))

	// 新实例从 Redis 提升
	reader := NewQueryCache(corpus, redis, &QueryCacheConfig{TTL: time.Minute, KeyPrefix: prefix}, nil)
	got, ok := reader.Lookup(ctx, "what is x?", "fp1")
	require.True(t, ok)
	assert.Equal(t, "cached", got.Text)
	assert.Equal(t, 1, reader.Len())

	ttl, err := redis.TTL(ctx, writer.Key("What is X?", "fp1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, writer.Clear(ctx))
}

func TestQueryCache_WarmDropsStaleEntries(t *testing.T) {
	redis := newTestRedis(t)
	ctx := context.Background()
	prefix := "rag:test:" + t.Name() + ":"

	corpus := newFakeCorpus("fp1", "d@v1#000000")
	writer := NewQueryCache(corpus, redis, &QueryCacheConfig{TTL: time.Minute, KeyPrefix: prefix}, nil)
	require.NoError(t, writer.Clear(ctx))
	require.NoError(t, writer.Store(ctx, "kept", "fp1", sampleAnswer(), []string{"d@v1#000000"}, time.Minute))
	require.NoError(t, writer.Store(ctx, "dropped", "fp0", sampleAnswer(), nil, time.Minute))

	warm := NewQueryCache(corpus, redis, &QueryCacheConfig{TTL: time.Minute, KeyPrefix: prefix}, nil)
	loaded, err := warm.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	n, err := redis.Exists(ctx, writer.Key("dropped", "fp0")).Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, writer.Clear(ctx))
}
