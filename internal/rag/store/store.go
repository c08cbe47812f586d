package store

import (
	"context"

	"github.com/kart-io/sentinel-rag/internal/model"
)

// IndexEntry 是向量索引持有的条目：分块元数据（含文档 ID、版本、偏移）与其向量。
type IndexEntry struct {
	// Chunk 分块元数据。
	Chunk model.Chunk
	// Vector 分块的嵌入向量。
	Vector []float32
}

// ScoredChunk 表示一条检索结果。
type ScoredChunk struct {
	// Chunk 命中的分块。
	Chunk model.Chunk
	// Score 余弦相似度，零向量为 0。
	Score float32
}

// SearchFilter 检索过滤条件。
type SearchFilter struct {
	// DocumentIDs 仅在这些文档中检索，为空表示不限制。
	DocumentIDs []string
	// MinScore 相似度下限，低于该值的结果被丢弃。
	MinScore *float32
}

// Stats 索引统计信息。
type Stats struct {
	Documents   int    `json:"documents"`
	Chunks      int    `json:"chunks"`
	Dimension   int    `json:"dimension"`
	Fingerprint string `json:"fingerprint"`
}

// VectorIndex 定义向量索引接口。
//
// 同一文档的替换对并发读者是原子的：Search 要么看到旧版本的全部条目，要么看到新版本的全部条目。
type VectorIndex interface {
	// Upsert 用 doc.Version 的条目整体替换该文档的旧版本。
	// 相同版本重复写入为空操作，返回 false；低于已索引版本返回 ErrStaleVersion。
	Upsert(ctx context.Context, doc model.Document, entries []IndexEntry) (bool, error)

	// Delete 删除文档的全部条目，幂等。返回文档此前是否存在。
	Delete(ctx context.Context, documentID string) (bool, error)

	// Search 返回按相似度降序、同分按分块 ID 升序排列的前 topK 个结果。
	// 空索引返回空结果而非错误。
	Search(ctx context.Context, vector []float32, topK int, filter *SearchFilter) ([]ScoredChunk, error)

	// Fingerprint 返回当前语料指纹。
	Fingerprint() string

	// Contains 判断分块是否仍可被检索到。
	Contains(chunkID string) bool

	// Document 返回已索引的文档记录。
	Document(documentID string) (model.Document, bool)

	// Stats 返回统计信息。
	Stats() Stats
}
