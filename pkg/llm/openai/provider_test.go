package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/utils/httpclient"
)

const testAPIKey = "test-key"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "https://api.openai.com/v1", cfg.BaseURL)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbedModel)
	assert.Equal(t, "gpt-4o-mini", cfg.ChatModel)
	assert.Equal(t, 120*time.Second, cfg.Timeout)
	assert.Zero(t, cfg.MaxRetries)
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name      string
		config    map[string]any
		wantError bool
	}{
		{name: "valid config", config: map[string]any{"api_key": testAPIKey}},
		{name: "custom config", config: map[string]any{
			"api_key":      testAPIKey,
			"base_url":     "https://api.deepseek.com/v1",
			"chat_model":   "deepseek-chat",
			"organization": "org-123",
		}},
		{name: "missing api_key", config: map[string]any{}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.config)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ProviderName, provider.Name())
		})
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+testAPIKey, r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/embeddings":
			var req embeddingRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			type item struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}
			data := make([]item, len(req.Input))
			// 倒序返回，验证按 index 归位
			for i := range req.Input {
				j := len(req.Input) - 1 - i
				data[i] = item{Embedding: []float32{float32(j), 1}, Index: j}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": data, "model": req.Model})
		case "/chat/completions":
			var req chatRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model": req.Model,
				"choices": []map[string]any{{
					"message": map[string]string{"role": "assistant", "content": req.Messages[len(req.Messages)-1].Content + "!"},
				}},
				"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": req.MaxTokens, "total_tokens": 10 + req.MaxTokens},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestProvider_Embed(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	p := NewProviderWithConfig(&Config{BaseURL: srv.URL, APIKey: testAPIKey, EmbedModel: "e", Timeout: time.Second})
	out, err := p.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, out)

	single, err := p.EmbedSingle(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, single)

	none, err := p.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestProvider_Generate(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	p := NewProviderWithConfig(&Config{BaseURL: srv.URL, APIKey: testAPIKey, ChatModel: "default-model", Timeout: time.Second})
	resp, err := p.Generate(context.Background(), "hello", "be brief", &llm.GenerateOptions{Model: "other", MaxTokens: 5})
	require.NoError(t, err)
	assert.Equal(t, "hello!", resp.Content)
	assert.Equal(t, "other", resp.Model)
	assert.Equal(t, 15, resp.TotalTokens())

	resp, err = p.Generate(context.Background(), "hi", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "default-model", resp.Model)
}

func TestProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewProviderWithConfig(&Config{BaseURL: srv.URL, APIKey: testAPIKey, Timeout: time.Second})
	_, err := p.Generate(context.Background(), "hi", "", nil)
	var se *httpclient.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
}
