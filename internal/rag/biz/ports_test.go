package biz

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/rag/errno"
	"github.com/kart-io/sentinel-rag/pkg/errors"
	"github.com/kart-io/sentinel-rag/pkg/llm"
)

type stubEmbedding struct {
	err error
}

func (s stubEmbedding) Name() string { return "stub" }

func (s stubEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (s stubEmbedding) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	v, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

type stubChat struct {
	err    error
	prompt string
	opts   *llm.GenerateOptions
}

func (s *stubChat) Name() string { return "stub" }

func (s *stubChat) Chat(ctx context.Context, msgs []llm.Message, opts *llm.GenerateOptions) (*llm.GenerateResponse, error) {
	return s.Generate(ctx, msgs[len(msgs)-1].Content, "", opts)
}

func (s *stubChat) Generate(_ context.Context, prompt, _ string, opts *llm.GenerateOptions) (*llm.GenerateResponse, error) {
	s.prompt, s.opts = prompt, opts
	if s.err != nil {
		return nil, s.err
	}
	return &llm.GenerateResponse{
		Content:    "42",
		Model:      opts.Model,
		TokenUsage: &llm.TokenUsage{PromptTokens: 30, CompletionTokens: 2, TotalTokens: 32},
	}, nil
}

func TestEmbeddingPort(t *testing.T) {
	port := NewEmbeddingPort(stubEmbedding{})
	vec, err := port.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vec)

	batch, ok := port.(BatchEmbedder)
	require.True(t, ok)
	vecs, err := batch.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
}

func TestEmbeddingPort_ErrorMapping(t *testing.T) {
	port := NewEmbeddingPort(stubEmbedding{err: stderrors.New("connection refused")})
	_, err := port.Embed(context.Background(), "x")
	assert.True(t, errors.IsCode(err, errno.ErrEmbeddingUnavailable.Code))
	assert.True(t, errno.IsRetryable(err))

	port = NewEmbeddingPort(stubEmbedding{err: context.Canceled})
	_, err = port.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.IsCode(err, errno.ErrEmbeddingUnavailable.Code))
}

func TestGenerationPort(t *testing.T) {
	chat := &stubChat{}
	port := NewGenerationPort(chat, "Q={{question}} C={{context}}")

	gen, err := port.Generate(context.Background(), GenerateRequest{
		Question:        "why?",
		Context:         "[1] doc=a offsets=[0,3)\nabc",
		Model:           "m1",
		MaxOutputTokens: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, "Q=why? C=[1] doc=a offsets=[0,3)\nabc", chat.prompt)
	assert.Equal(t, &llm.GenerateOptions{Model: "m1", MaxTokens: 64}, chat.opts)
	assert.Equal(t, &Generation{Text: "42", TokensUsed: 32, Model: "m1"}, gen)
}

func TestGenerationPort_DefaultTemplateAndErrors(t *testing.T) {
	chat := &stubChat{}
	port := NewGenerationPort(chat, "")
	_, err := port.Generate(context.Background(), GenerateRequest{Question: "q", Context: NoContextMarker})
	require.NoError(t, err)
	assert.Contains(t, chat.prompt, NoContextMarker)
	assert.Contains(t, chat.prompt, "Question: q")

	chat.err = stderrors.New("boom")
	_, err = port.Generate(context.Background(), GenerateRequest{Question: "q"})
	assert.True(t, errors.IsCode(err, errno.ErrGenerationUnavailable.Code))
}
