package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/errno"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/errors"
)

func scored(tokens ...int) []store.ScoredChunk {
	out := make([]store.ScoredChunk, len(tokens))
	for i, n := range tokens {
		out[i] = store.ScoredChunk{
			Chunk: model.Chunk{ID: model.ChunkID("d", 1, i), TokenCount: n},
			Score: 1 - float32(i)/10,
		}
	}
	return out
}

func TestTrimToBudget(t *testing.T) {
	tests := []struct {
		name     string
		tokens   []int
		budget   int
		keep     int
		used     int
		exceeded bool
	}{
		{"empty", nil, 10, 0, 0, false},
		{"all fit", []int{3, 3, 3}, 9, 3, 9, false},
		{"stops before overflow", []int{4, 4, 4}, 10, 2, 8, false},
		{"no skipping ahead", []int{4, 8, 1}, 10, 1, 4, false},
		{"first alone exceeds", []int{20, 1}, 10, 1, 20, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := TrimToBudget(scored(tt.tokens...), tt.budget)
			assert.Len(t, plan.Chunks, tt.keep)
			assert.Equal(t, tt.used, plan.TokensUsed)
			assert.Equal(t, tt.exceeded, plan.BudgetExceeded)
			assert.Equal(t, len(tt.tokens), plan.Candidates)
			if !tt.exceeded {
				assert.LessOrEqual(t, plan.TokensUsed, tt.budget)
			}
		})
	}
}

func newPlannerIndex(t *testing.T) *store.MemoryIndex {
	t.Helper()
	idx := store.NewMemoryIndex(0)
	doc := model.Document{ID: "d", Version: 1}
	texts := []string{"alpha beta", "gamma delta", "alpha gamma"}
	entries := make([]store.IndexEntry, len(texts))
	for i, text := range texts {
		entries[i] = store.IndexEntry{
			Chunk: model.Chunk{
				ID: model.ChunkID("d", 1, i), DocumentID: "d", Version: 1, Seq: i,
				Content: text, TokenCount: 2,
			},
			Vector: hashVector(text),
		}
	}
	_, err := idx.Upsert(context.Background(), doc, entries)
	require.NoError(t, err)
	return idx
}

func TestRetrievalPlanner_EmbedsOnce(t *testing.T) {
	embedder := &hashEmbedder{}
	p := NewRetrievalPlanner(embedder, newPlannerIndex(t), nil, nil)

	plan, err := p.Plan(context.Background(), PlanRequest{Question: "alpha beta", TopK: 3, TokenBudget: 100})
	require.NoError(t, err)
	assert.EqualValues(t, 1, embedder.calls.Load())
	require.Len(t, plan.Chunks, 3)
	assert.Equal(t, "d@v1#000000", plan.Chunks[0].Chunk.ID)
	assert.Equal(t, []string{"d@v1#000000", "d@v1#000002", "d@v1#000001"}, plan.ChunkIDs())
}

func TestRetrievalPlanner_RelevanceFloor(t *testing.T) {
	floor := float32(0.9)
	p := NewRetrievalPlanner(&hashEmbedder{}, newPlannerIndex(t), &floor, nil)

	plan, err := p.Plan(context.Background(), PlanRequest{Question: "alpha beta", TopK: 3, TokenBudget: 100})
	require.NoError(t, err)
	require.Len(t, plan.Chunks, 1)
	assert.Equal(t, 1, plan.Candidates)
}

func TestRetrievalPlanner_InvalidArguments(t *testing.T) {
	embedder := &hashEmbedder{}
	p := NewRetrievalPlanner(embedder, store.NewMemoryIndex(0), nil, nil)

	_, err := p.Plan(context.Background(), PlanRequest{Question: "q", TopK: 0, TokenBudget: 10})
	assert.True(t, errors.IsCode(err, errno.ErrInvalidTopK.Code))
	_, err = p.Plan(context.Background(), PlanRequest{Question: "q", TopK: 1, TokenBudget: 0})
	assert.True(t, errors.IsCode(err, errno.ErrInvalidArgument.Code))
	assert.Zero(t, embedder.calls.Load())
}
