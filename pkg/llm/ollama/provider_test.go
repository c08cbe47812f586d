package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/llm"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req embedRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			out := make([][]float32, len(req.Input))
			for i := range req.Input {
				out[i] = []float32{float32(len(req.Input[i]))}
			}
			_ = json.NewEncoder(w).Encode(embedResponse{Model: req.Model, Embeddings: out})
		case "/api/chat":
			var req chatRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			predict := 0
			if req.Options != nil {
				predict = req.Options.NumPredict
			}
			_ = json.NewEncoder(w).Encode(chatResponse{
				Model:           req.Model,
				Message:         llm.Message{Role: llm.RoleAssistant, Content: "ok"},
				Done:            true,
				PromptEvalCount: len(req.Messages),
				EvalCount:       predict,
			})
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"qwen2.5:7b"},{"name":"nomic-embed-text"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestProvider(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	p, err := NewProvider(map[string]any{"base_url": srv.URL, "timeout": time.Second})
	require.NoError(t, err)
	assert.Equal(t, ProviderName, p.Name())
	ctx := context.Background()

	vecs, err := p.Embed(ctx, []string{"ab", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {4}}, vecs)

	resp, err := p.Generate(ctx, "q", "sys", &llm.GenerateOptions{MaxTokens: 8})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "qwen2.5:7b", resp.Model)
	assert.Equal(t, 10, resp.TotalTokens())

	models, err := p.(*Provider).ListModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen2.5:7b", "nomic-embed-text"}, models)
	assert.NoError(t, p.(*Provider).Ping(ctx))
}
