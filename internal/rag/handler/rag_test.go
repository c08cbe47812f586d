package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/errno"
	"github.com/kart-io/sentinel-rag/internal/rag/handler"
	"github.com/kart-io/sentinel-rag/internal/rag/router"
	"github.com/kart-io/sentinel-rag/pkg/component/storage"
	"github.com/kart-io/sentinel-rag/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	answerErr   error
	lastOpts    biz.AnswerOptions
	lastIngest  biz.IngestRequest
	autoVersion bool
	outcome     string
	ingestErr   error
	docs        map[string]model.Document
}

func (f *fakeService) Answer(_ context.Context, question string, opts biz.AnswerOptions) (*model.Answer, error) {
	f.lastOpts = opts
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	return &model.Answer{
		Text:       "answer to " + question,
		TokensUsed: 12,
		Citations:  []model.Citation{{DocumentID: "a", Version: 1, ChunkID: model.ChunkID("a", 1, 0)}},
	}, nil
}

func (f *fakeService) Ingest(_ context.Context, req biz.IngestRequest) (*biz.IngestResult, error) {
	f.lastIngest = req
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	return &biz.IngestResult{
		Document: model.Document{ID: req.DocumentID, Version: req.Version},
		Outcome:  f.outcome,
	}, nil
}

func (f *fakeService) IngestContent(ctx context.Context, id, text, source string) (*biz.IngestResult, error) {
	f.autoVersion = true
	return f.Ingest(ctx, biz.IngestRequest{DocumentID: id, Version: 7, Text: text, Source: source})
}

func (f *fakeService) Delete(_ context.Context, id string) (bool, error) {
	_, ok := f.docs[id]
	delete(f.docs, id)
	return ok, nil
}

func (f *fakeService) Document(id string) (model.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return model.Document{}, errno.ErrDocumentNotFound
	}
	return doc, nil
}

func (f *fakeService) Stats() map[string]any {
	return map[string]any{"index": map[string]int{"documents": len(f.docs)}}
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

func setup(svc *fakeService, ready handler.ReadinessFunc) *gin.Engine {
	h := handler.NewRAGHandler(svc, ready)
	return router.New(h, router.Options{
		ServiceName: "sentinel-rag",
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("sentinel_rag_queries_total 1\n"))
		}),
	})
}

func do(t *testing.T, r *gin.Engine, method, path, body string, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestQuery(t *testing.T) {
	svc := &fakeService{}
	r := setup(svc, nil)

	w, env := do(t, r, http.MethodPost, "/v1/rag/query",
		`{"question":"what is rag?","top_k":2,"ttl_seconds":-1,"document_ids":["a"]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.NotEmpty(t, env.RequestID)
	assert.Equal(t, 2, svc.lastOpts.TopK)
	assert.Negative(t, int64(svc.lastOpts.TTL))
	assert.Equal(t, []string{"a"}, svc.lastOpts.DocumentIDs)

	var answer model.Answer
	require.NoError(t, json.Unmarshal(env.Data, &answer))
	assert.Equal(t, "answer to what is rag?", answer.Text)
	assert.Len(t, answer.Citations, 1)
}

func TestQuery_Validation(t *testing.T) {
	r := setup(&fakeService{}, nil)

	tests := []struct {
		name string
		body string
		lang string
		want string
	}{
		{name: "blank question", body: `{"question":"   "}`, want: "question"},
		{name: "blank question zh", body: `{"question":""}`, lang: "zh-CN", want: "question"},
		{name: "bad document id", body: `{"question":"q","document_ids":["a#1"]}`, want: "document_ids"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, r, http.MethodPost, "/v1/rag/query", tt.body, "Accept-Language", tt.lang)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, errors.ErrValidationFailed.Code, env.Code)
			assert.Contains(t, string(env.Data), tt.want)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		w, env := do(t, r, http.MethodPost, "/v1/rag/query", `{"question":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, errors.ErrInvalidParam.Code, env.Code)
	})
}

func TestQuery_Errors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      int
		retryable bool
	}{
		{
			name:   "invalid top_k",
			err:    errno.ErrInvalidTopK,
			status: http.StatusBadRequest,
			code:   errno.ErrInvalidTopK.Code,
		},
		{
			name:      "generation unavailable",
			err:       errno.ErrQuery.WithCause(errno.ErrGenerationUnavailable.WithCause(stderrors.New("503"))),
			status:    http.StatusInternalServerError,
			code:      errno.ErrQuery.Code,
			retryable: true,
		},
		{
			name:      "deadline",
			err:       fmt.Errorf("retrieve: %w", context.DeadlineExceeded),
			status:    http.StatusGatewayTimeout,
			code:      errors.ErrTimeout.Code,
			retryable: true,
		},
		{
			name:   "internal",
			err:    stderrors.New("boom"),
			status: http.StatusInternalServerError,
			code:   errors.ErrInternal.Code,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setup(&fakeService{answerErr: tt.err}, nil)
			w, env := do(t, r, http.MethodPost, "/v1/rag/query", `{"question":"q"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, env.Code)
			assert.Equal(t, tt.retryable, env.Retryable)
		})
	}
}

func TestIngest(t *testing.T) {
	t.Run("explicit version indexed", func(t *testing.T) {
		svc := &fakeService{outcome: biz.IngestIndexed}
		w, _ := do(t, setup(svc, nil), http.MethodPost, "/v1/rag/documents",
			`{"id":"guide.md","version":3,"content":"hello world","source":"docs/guide.md"}`)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.False(t, svc.autoVersion)
		assert.Equal(t, int64(3), svc.lastIngest.Version)
		assert.Equal(t, "hello world", svc.lastIngest.Text)
	})

	t.Run("auto version unchanged", func(t *testing.T) {
		svc := &fakeService{outcome: biz.IngestUnchanged}
		w, _ := do(t, setup(svc, nil), http.MethodPost, "/v1/rag/documents", `{"id":"guide.md","content":"hello"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, svc.autoVersion)
	})

	t.Run("stale version", func(t *testing.T) {
		svc := &fakeService{ingestErr: errno.ErrStaleVersion}
		w, env := do(t, setup(svc, nil), http.MethodPost, "/v1/rag/documents", `{"id":"guide.md","version":1}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, errno.ErrStaleVersion.Code, env.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		w, env := do(t, setup(&fakeService{}, nil), http.MethodPost, "/v1/rag/documents", `{"id":"has space","version":1}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, errors.ErrValidationFailed.Code, env.Code)
	})
}

func TestDocuments(t *testing.T) {
	svc := &fakeService{docs: map[string]model.Document{"a": {ID: "a", Version: 2}}}
	r := setup(svc, nil)

	w, env := do(t, r, http.MethodGet, "/v1/rag/documents/a", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"version":2`)

	w, env = do(t, r, http.MethodDelete, "/v1/rag/documents/a", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"a","removed":true}`, string(env.Data))

	w, env = do(t, r, http.MethodDelete, "/v1/rag/documents/a", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"a","removed":false}`, string(env.Data))

	w, env = do(t, r, http.MethodGet, "/v1/rag/documents/a", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errno.ErrDocumentNotFound.Code, env.Code)
}

func TestStatsMetricsHealth(t *testing.T) {
	ready := func(context.Context) ([]storage.HealthStatus, bool) {
		return []storage.HealthStatus{{Name: "redis", Healthy: false}}, false
	}
	r := setup(&fakeService{docs: map[string]model.Document{}}, ready)

	w, env := do(t, r, http.MethodGet, "/v1/rag/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "index")

	w, _ = do(t, r, http.MethodGet, "/v1/rag/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sentinel_rag_queries_total")

	w, _ = do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")

	w, _ = do(t, setup(&fakeService{}, nil), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNoRoute(t *testing.T) {
	w, env := do(t, setup(&fakeService{}, nil), http.MethodGet, "/v1/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.ErrRouteNotFound.Code, env.Code)
}
