// Package handler provides HTTP handlers for RAG service.
package handler

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/errno"
	"github.com/kart-io/sentinel-rag/pkg/component/storage"
	"github.com/kart-io/sentinel-rag/pkg/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/response"
	"github.com/kart-io/sentinel-rag/pkg/validator"
)

// Service 是 handler 依赖的 RAG 服务能力，由 *biz.RAGService 实现。
type Service interface {
	Answer(ctx context.Context, question string, opts biz.AnswerOptions) (*model.Answer, error)
	Ingest(ctx context.Context, req biz.IngestRequest) (*biz.IngestResult, error)
	IngestContent(ctx context.Context, documentID, text, source string) (*biz.IngestResult, error)
	Delete(ctx context.Context, documentID string) (bool, error)
	Document(documentID string) (model.Document, error)
	Stats() map[string]any
}

var _ Service = (*biz.RAGService)(nil)

// ReadinessFunc 检查外部依赖是否可用。
type ReadinessFunc func(ctx context.Context) ([]storage.HealthStatus, bool)

// RAGHandler handles RAG HTTP requests.
type RAGHandler struct {
	service Service
	ready   ReadinessFunc
}

// NewRAGHandler creates a new RAGHandler. ready may be nil.
func NewRAGHandler(service Service, ready ReadinessFunc) *RAGHandler {
	return &RAGHandler{service: service, ready: ready}
}

// QueryRequest represents a query request.
type QueryRequest struct {
	Question string `json:"question" validate:"notblank,max=16384"`
	// TopK 为 0 使用服务默认值。
	TopK int `json:"top_k"`
	// TokenBudget 为 0 使用服务默认值。
	TokenBudget int `json:"token_budget"`
	// TTLSeconds 为 0 使用缓存默认值，负数表示不缓存本次答案。
	TTLSeconds      int      `json:"ttl_seconds"`
	Model           string   `json:"model" validate:"max=128"`
	MaxOutputTokens int      `json:"max_output_tokens" validate:"min=0"`
	DocumentIDs     []string `json:"document_ids" validate:"max=256,dive,required,max=191,docid"`
}

// IngestRequest represents a document ingest request.
type IngestRequest struct {
	ID string `json:"id" validate:"required,max=191,docid"`
	// Version 为 0 时按内容哈希自动分配版本。
	Version int64  `json:"version" validate:"min=0"`
	Content string `json:"content"`
	Source  string `json:"source" validate:"max=512"`
}

// DeleteResult 删除结果。
type DeleteResult struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
}

// Query performs a RAG query.
func (h *RAGHandler) Query(c *gin.Context) {
	var req QueryRequest
	if !h.bind(c, &req) {
		return
	}

	answer, err := h.service.Answer(c.Request.Context(), req.Question, biz.AnswerOptions{
		TopK:            req.TopK,
		TokenBudget:     req.TokenBudget,
		TTL:             time.Duration(req.TTLSeconds) * time.Second,
		Model:           req.Model,
		MaxOutputTokens: req.MaxOutputTokens,
		DocumentIDs:     req.DocumentIDs,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, answer)
}

// Ingest indexes a document. Re-ingesting the same version is a no-op.
func (h *RAGHandler) Ingest(c *gin.Context) {
	var req IngestRequest
	if !h.bind(c, &req) {
		return
	}

	ctx := c.Request.Context()
	var (
		result *biz.IngestResult
		err    error
	)
	if req.Version == 0 {
		result, err = h.service.IngestContent(ctx, req.ID, req.Content, req.Source)
	} else {
		result, err = h.service.Ingest(ctx, biz.IngestRequest{
			DocumentID: req.ID,
			Version:    req.Version,
			Text:       req.Content,
			Source:     req.Source,
		})
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	w := h.writer(c)
	if result.Outcome == biz.IngestIndexed {
		w.Created(result)
		return
	}
	w.OK(result)
}

// GetDocument returns the indexed record of a document.
func (h *RAGHandler) GetDocument(c *gin.Context) {
	doc, err := h.service.Document(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, doc)
}

// DeleteDocument removes every chunk of a document. Deleting an unknown
// document succeeds with removed=false.
func (h *RAGHandler) DeleteDocument(c *gin.Context) {
	documentID := c.Param("id")
	removed, err := h.service.Delete(c.Request.Context(), documentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, DeleteResult{ID: documentID, Removed: removed})
}

// Stats returns index and cache statistics.
func (h *RAGHandler) Stats(c *gin.Context) {
	response.OK(c, h.service.Stats())
}

// Health reports liveness and the reachability of external stores.
func (h *RAGHandler) Health(c *gin.Context) {
	if h.ready == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	statuses, ok := h.ready(c.Request.Context())
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "components": statuses})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "components": statuses})
}

// NoRoute renders unknown routes in the API error format.
func (h *RAGHandler) NoRoute(c *gin.Context) {
	response.Fail(c, errors.ErrRouteNotFound)
}

// bind 解码并校验请求体，失败时写出错误响应。
func (h *RAGHandler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			h.writer(c).Fail(errors.ErrRequestTooLarge)
			return false
		}
		h.writer(c).FailWithBind(err)
		return false
	}
	if verr := validator.StructWithLang(req, lang(c)); verr != nil {
		h.writer(c).FailWithValidation(verr)
		return false
	}
	return true
}

func (h *RAGHandler) fail(c *gin.Context, err error) {
	h.writer(c).WithRetryClassifier(errno.IsRetryable).FailWithError(err)
}

func (h *RAGHandler) writer(c *gin.Context) *response.Writer {
	return response.NewWriter(c).WithLang(lang(c))
}

func lang(c *gin.Context) string {
	return validator.LangFromHeader(c.GetHeader("Accept-Language"))
}
