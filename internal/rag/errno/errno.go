// Package errno defines the error codes of the RAG service.
package errno

import (
	"github.com/kart-io/sentinel-rag/pkg/errors"
)

func init() {
	errors.RegisterService(errors.ServiceRAG, "rag-service")
}

// ============================================================================
// Request Errors (Category: 01)
// ============================================================================

var (
	// ErrInvalidArgument indicates a malformed request.
	ErrInvalidArgument = errors.NewRequestErr(errors.ServiceRAG, 1,
		"Invalid argument", "参数无效")

	// ErrEmptyQuestion indicates the question is blank after normalization.
	ErrEmptyQuestion = errors.NewRequestErr(errors.ServiceRAG, 2,
		"Question must not be empty", "问题不能为空")

	// ErrInvalidTopK indicates top_k < 1.
	ErrInvalidTopK = errors.NewRequestErr(errors.ServiceRAG, 3,
		"top_k must be at least 1", "top_k 必须大于等于 1")

	// ErrDimensionMismatch indicates an ingested vector of the wrong dimension.
	ErrDimensionMismatch = errors.NewRequestErr(errors.ServiceRAG, 4,
		"Vector dimension mismatch", "向量维度不匹配")

	// ErrInvalidDocument indicates a bad document id or version.
	ErrInvalidDocument = errors.NewRequestErr(errors.ServiceRAG, 5,
		"Invalid document", "文档无效")
)

// ============================================================================
// Resource Errors (Category: 04)
// ============================================================================

var (
	// ErrDocumentNotFound indicates the document is not indexed.
	ErrDocumentNotFound = errors.NewNotFoundErr(errors.ServiceRAG, 1,
		"Document not found", "文档不存在")
)

// ============================================================================
// Conflict Errors (Category: 05)
// ============================================================================

var (
	// ErrStaleVersion indicates an upsert older than the indexed version.
	ErrStaleVersion = errors.NewConflictErr(errors.ServiceRAG, 1,
		"Document version is older than the indexed version", "文档版本低于已索引版本")
)

// ============================================================================
// Network Errors (Category: 10)
// ============================================================================

var (
	// ErrEmbeddingUnavailable indicates the embedding provider failed after retries.
	ErrEmbeddingUnavailable = errors.NewNetworkErr(errors.ServiceRAG, 1,
		"Embedding provider unavailable, try again later", "向量模型不可用，请稍后重试")

	// ErrGenerationUnavailable indicates the generation provider failed after retries.
	ErrGenerationUnavailable = errors.NewNetworkErr(errors.ServiceRAG, 2,
		"Generation provider unavailable, try again later", "生成模型不可用，请稍后重试")
)

// ============================================================================
// Internal Errors (Category: 07)
// ============================================================================

var (
	// ErrQuery is the terminal failure of an answer request.
	ErrQuery = errors.NewInternalErr(errors.ServiceRAG, 1,
		"Query failed", "查询失败")

	// ErrBudgetExceeded is attached as a warning when the top chunk alone
	// exceeds the token budget. It never fails a request.
	ErrBudgetExceeded = errors.NewInternalErr(errors.ServiceRAG, 2,
		"Top-ranked chunk exceeds the token budget", "最高排名分块超出 token 预算")
)

// ============================================================================
// Configuration Errors (Category: 12)
// ============================================================================

var (
	// ErrConfiguration indicates invalid chunking or budget parameters.
	ErrConfiguration = errors.NewConfigErr(errors.ServiceRAG, 1,
		"Invalid configuration", "配置无效")

	// ErrQueryDimensionMismatch indicates the embedding provider produces
	// query vectors whose dimension differs from the index.
	ErrQueryDimensionMismatch = errors.NewConfigErr(errors.ServiceRAG, 2,
		"Embedding dimension does not match the vector index", "向量模型维度与索引不一致")
)

// IsRetryable reports whether the caller should try the same request again.
func IsRetryable(err error) bool {
	e := errors.FromError(err)
	if e == nil {
		return false
	}
	if errors.IsTransient(e.Code) {
		return true
	}
	// A QueryError is retryable when its cause is.
	if e.Code == ErrQuery.Code {
		return errors.IsCode(err, ErrEmbeddingUnavailable.Code) || errors.IsCode(err, ErrGenerationUnavailable.Code)
	}
	return false
}
