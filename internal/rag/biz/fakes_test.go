package biz

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/rag/store"
)

const fakeDim = 32

// hashEmbedder 把规范化后的每个词散列到固定维度，结果确定。
type hashEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return hashVector(text), nil
}

func hashVector(text string) []float32 {
	vec := make([]float32, fakeDim)
	for _, w := range strings.Fields(NormalizeQuestion(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, "?.,!")))
		vec[h.Sum32()%fakeDim]++
	}
	return vec
}

// batchEmbedder 额外实现 BatchEmbedder。
type batchEmbedder struct {
	hashEmbedder
	batches atomic.Int32
}

func (e *batchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batches.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// countingGenerator 记录调用次数；gate 非 nil 时阻塞到 gate 关闭。
type countingGenerator struct {
	calls   atomic.Int32
	err     error
	gate    chan struct{}
	started chan struct{}

	mu   sync.Mutex
	last GenerateRequest
}

func (g *countingGenerator) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.last = req
	g.mu.Unlock()
	if g.started != nil {
		select {
		case g.started <- struct{}{}:
		default:
		}
	}
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &Generation{Text: "answer to: " + req.Question, TokensUsed: 42, Model: "fake"}, nil
}

func (g *countingGenerator) lastRequest() GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

type testEnv struct {
	svc       *RAGService
	index     *store.MemoryIndex
	cache     *QueryCache
	embedder  *hashEmbedder
	generator *countingGenerator
}

func newTestEnv(t *testing.T, cfg *ServiceConfig) *testEnv {
	t.Helper()
	env := &testEnv{
		index:     store.NewMemoryIndex(0),
		embedder:  &hashEmbedder{},
		generator: &countingGenerator{},
	}
	env.cache = NewQueryCache(env.index, nil, &QueryCacheConfig{TTL: time.Hour}, nil)
	if cfg == nil {
		cfg = DefaultServiceConfig()
		cfg.ChunkMaxTokens = 20
		cfg.ChunkOverlapTokens = 5
	}
	svc, err := NewRAGService(Dependencies{
		Index:     env.index,
		Embedder:  env.embedder,
		Generator: env.generator,
		Cache:     env.cache,
	}, cfg)
	require.NoError(t, err)
	env.svc = svc
	return env
}

const corpusText = `Sentinel caches answers keyed by the normalized question and the corpus fingerprint.
Re-ingesting a document bumps its version and changes the fingerprint.
The chunker splits documents into overlapping windows of tokens.`

func (env *testEnv) ingest(t *testing.T, id string, version int64, text string) {
	t.Helper()
	_, err := env.svc.Ingest(context.Background(), IngestRequest{DocumentID: id, Version: version, Text: text})
	require.NoError(t, err)
}
