package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kart-io/logger"
	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/component/milvus"
)

// Milvus 集合字段名。
const (
	fieldChunkID       = "chunk_id"
	fieldDocumentID    = "document_id"
	fieldVersion       = "version"
	fieldSeq           = "seq"
	fieldStart         = "start_offset"
	fieldEnd           = "end_offset"
	fieldTokenCount    = "token_count"
	fieldOverlapTokens = "overlap_tokens"
	fieldChunkCount    = "chunk_count"
	fieldContentHash   = "content_hash"
	fieldSource        = "source"
	fieldContent       = "content"
)

// Milvus 单次查询的结果上限。
const milvusQueryLimit = 16384

// MilvusPersister 基于 Milvus 的持久层。每行是一个分块，文档元数据冗余在每一行上，
// 恢复时通过 seq == 0 的行枚举文档。
type MilvusPersister struct {
	client     *milvus.Client
	collection string
	dimension  int
}

// NewMilvusPersister 创建持久层并确保集合存在。
func NewMilvusPersister(ctx context.Context, client *milvus.Client, collection string, dimension int) (*MilvusPersister, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("milvus persister requires a positive dimension, got %d", dimension)
	}
	schema := &milvus.CollectionSchema{
		Name:             collection,
		Description:      "sentinel-rag chunk vectors",
		Dimension:        dimension,
		PrimaryKey:       fieldChunkID,
		PrimaryKeyMaxLen: 512,
		MetaFields: []milvus.MetaField{
			{Name: fieldDocumentID, DataType: entity.FieldTypeVarChar, MaxLen: 191},
			{Name: fieldVersion, DataType: entity.FieldTypeInt64},
			{Name: fieldSeq, DataType: entity.FieldTypeInt64},
			{Name: fieldStart, DataType: entity.FieldTypeInt64},
			{Name: fieldEnd, DataType: entity.FieldTypeInt64},
			{Name: fieldTokenCount, DataType: entity.FieldTypeInt64},
			{Name: fieldOverlapTokens, DataType: entity.FieldTypeInt64},
			{Name: fieldChunkCount, DataType: entity.FieldTypeInt64},
			{Name: fieldContentHash, DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: fieldSource, DataType: entity.FieldTypeVarChar, MaxLen: 512},
			{Name: fieldContent, DataType: entity.FieldTypeVarChar, MaxLen: 65535},
		},
	}
	if err := client.EnsureCollection(ctx, schema); err != nil {
		return nil, err
	}
	return &MilvusPersister{client: client, collection: collection, dimension: dimension}, nil
}

// SaveDocument 实现 Persister：先按文档删除旧行，再插入新版本。
func (s *MilvusPersister) SaveDocument(ctx context.Context, doc model.Document, entries []IndexEntry) error {
	if err := s.client.DeleteByFilter(ctx, s.collection, documentFilter(doc.ID)); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	n := len(entries)
	var (
		ids, docIDs, hashes, sources, contents         = make([]string, n), make([]string, n), make([]string, n), make([]string, n), make([]string, n)
		versions, seqs, starts, ends, tokens, overlaps = make([]int64, n), make([]int64, n), make([]int64, n), make([]int64, n), make([]int64, n), make([]int64, n)
		counts                                         = make([]int64, n)
		vectors                                        = make([][]float32, n)
	)
	for i, e := range entries {
		c := e.Chunk
		ids[i], docIDs[i], contents[i] = c.ID, c.DocumentID, c.Content
		hashes[i], sources[i] = doc.ContentHash, doc.Source
		versions[i], seqs[i] = c.Version, int64(c.Seq)
		starts[i], ends[i] = int64(c.Start), int64(c.End)
		tokens[i], overlaps[i] = int64(c.TokenCount), int64(c.OverlapTokens)
		counts[i] = int64(n)
		vectors[i] = e.Vector
	}

	return s.client.Insert(ctx, s.collection,
		column.NewColumnVarChar(fieldChunkID, ids),
		column.NewColumnFloatVector(milvus.VectorField, s.dimension, vectors),
		column.NewColumnVarChar(fieldDocumentID, docIDs),
		column.NewColumnInt64(fieldVersion, versions),
		column.NewColumnInt64(fieldSeq, seqs),
		column.NewColumnInt64(fieldStart, starts),
		column.NewColumnInt64(fieldEnd, ends),
		column.NewColumnInt64(fieldTokenCount, tokens),
		column.NewColumnInt64(fieldOverlapTokens, overlaps),
		column.NewColumnInt64(fieldChunkCount, counts),
		column.NewColumnVarChar(fieldContentHash, hashes),
		column.NewColumnVarChar(fieldSource, sources),
		column.NewColumnVarChar(fieldContent, contents),
	)
}

// DeleteDocument 实现 Persister。
func (s *MilvusPersister) DeleteDocument(ctx context.Context, documentID string) error {
	return s.client.DeleteByFilter(ctx, s.collection, documentFilter(documentID))
}

// LoadDocuments 实现 Persister。没有分块的文档不会写入 Milvus，因此也不会被恢复。
func (s *MilvusPersister) LoadDocuments(ctx context.Context) ([]PersistedDocument, error) {
	rows, err := s.client.GetCollectionStats(ctx, s.collection)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, nil
	}
	logger.Infow("restoring vector index from milvus", "collection", s.collection, "rows", rows)

	heads, err := s.client.Query(ctx, s.collection, fieldSeq+" == 0", milvusQueryLimit,
		fieldDocumentID, fieldVersion, fieldChunkCount, fieldContentHash, fieldSource)
	if err != nil {
		return nil, err
	}

	headDocIDs := varcharColumn(heads, fieldDocumentID)
	headVersions := int64Column(heads, fieldVersion)
	headCounts := int64Column(heads, fieldChunkCount)
	headHashes := varcharColumn(heads, fieldContentHash)
	headSources := varcharColumn(heads, fieldSource)

	out := make([]PersistedDocument, 0, heads.ResultCount)
	for i := 0; i < heads.ResultCount; i++ {
		doc := model.Document{
			ID:          at(headDocIDs, i),
			Version:     at(headVersions, i),
			ChunkCount:  int(at(headCounts, i)),
			ContentHash: at(headHashes, i),
			Source:      at(headSources, i),
		}
		entries, err := s.loadEntries(ctx, doc)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			doc.TokenCount += e.Chunk.TokenCount - e.Chunk.OverlapTokens
		}
		out = append(out, PersistedDocument{Document: doc, Entries: entries})
	}
	return out, nil
}

func (s *MilvusPersister) loadEntries(ctx context.Context, doc model.Document) ([]IndexEntry, error) {
	expr := fmt.Sprintf("%s && %s == %d", documentFilter(doc.ID), fieldVersion, doc.Version)
	rs, err := s.client.Query(ctx, s.collection, expr, max(doc.ChunkCount, 1),
		fieldChunkID, milvus.VectorField, fieldSeq, fieldStart, fieldEnd,
		fieldTokenCount, fieldOverlapTokens, fieldContent)
	if err != nil {
		return nil, err
	}
	return decodeEntries(doc, rs), nil
}

// decodeEntries 把一次查询的列数据还原为索引条目，缺失的列按零值处理。
func decodeEntries(doc model.Document, rs milvusclient.ResultSet) []IndexEntry {
	ids := varcharColumn(rs, fieldChunkID)
	seqs := int64Column(rs, fieldSeq)
	starts := int64Column(rs, fieldStart)
	ends := int64Column(rs, fieldEnd)
	tokens := int64Column(rs, fieldTokenCount)
	overlaps := int64Column(rs, fieldOverlapTokens)
	contents := varcharColumn(rs, fieldContent)
	vectors := floatVectorColumn(rs, milvus.VectorField)

	entries := make([]IndexEntry, rs.ResultCount)
	for i := range entries {
		entries[i] = IndexEntry{
			Chunk: model.Chunk{
				ID:            at(ids, i),
				DocumentID:    doc.ID,
				Version:       doc.Version,
				Seq:           int(at(seqs, i)),
				Start:         int(at(starts, i)),
				End:           int(at(ends, i)),
				TokenCount:    int(at(tokens, i)),
				OverlapTokens: int(at(overlaps, i)),
				Content:       at(contents, i),
			},
			Vector: at(vectors, i),
		}
	}
	return entries
}

// Close 实现 Persister，Milvus 连接由组件层统一关闭。
func (s *MilvusPersister) Close() error {
	return nil
}

func documentFilter(documentID string) string {
	return fieldDocumentID + " == " + strconv.Quote(documentID)
}

func varcharColumn(rs milvusclient.ResultSet, name string) []string {
	if col, ok := rs.GetColumn(name).(*column.ColumnVarChar); ok {
		return col.Data()
	}
	return nil
}

func int64Column(rs milvusclient.ResultSet, name string) []int64 {
	if col, ok := rs.GetColumn(name).(*column.ColumnInt64); ok {
		return col.Data()
	}
	return nil
}

func floatVectorColumn(rs milvusclient.ResultSet, name string) [][]float32 {
	col, ok := rs.GetColumn(name).(*column.ColumnFloatVector)
	if !ok {
		return nil
	}
	vectors := make([][]float32, 0, col.Len())
	for _, v := range col.Data() {
		vectors = append(vectors, []float32(v))
	}
	return vectors
}

func at[T any](values []T, i int) T {
	var zero T
	if i < len(values) {
		return values[i]
	}
	return zero
}

var _ Persister = (*MilvusPersister)(nil)
