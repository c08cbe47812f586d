package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/logger"
	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/errno"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
)

// 入库结果类别，同时用作指标标签。
const (
	IngestIndexed   = "indexed"
	IngestUnchanged = "unchanged"
	IngestError     = "error"
)

// IngestRequest 入库请求。
type IngestRequest struct {
	DocumentID string
	Version    int64
	Text       string
	// Source 文档来源（文件路径或 URL），仅作记录。
	Source string
}

// IngestResult 入库结果。
type IngestResult struct {
	Document    model.Document `json:"document"`
	Outcome     string         `json:"outcome"`
	Tokenizer   string         `json:"tokenizer,omitempty"`
	Approximate bool           `json:"approximate,omitempty"`
}

// Ingest 是唯一的写入路径：规范化、分块、计算向量，再整体替换文档的旧版本。
// 相同版本重复入库不会调用向量模型；低于已索引版本返回 ErrStaleVersion。
func (s *RAGService) Ingest(ctx context.Context, req IngestRequest) (_ *IngestResult, err error) {
	ctx, span := tracer.Start(ctx, "rag.ingest")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.DocumentID, req.DocumentID), attribute.Int64(tracing.Version, req.Version))

	chunks := 0
	outcome := IngestError
	defer func() {
		s.metrics.RecordIngest(outcome, chunks)
		if err != nil {
			tracing.RecordError(ctx, err)
		}
	}()

	if strings.TrimSpace(req.DocumentID) == "" {
		return nil, errno.ErrInvalidDocument.WithMessage("document id must not be empty")
	}
	if strings.ContainsAny(req.DocumentID, "@#") {
		return nil, errno.ErrInvalidDocument.WithMessagef("document id %q must not contain '@' or '#'", req.DocumentID)
	}
	if req.Version < 1 {
		return nil, errno.ErrInvalidDocument.WithMessagef("document version must be positive, got %d", req.Version)
	}

	if existing, ok := s.index.Document(req.DocumentID); ok {
		switch {
		case existing.Version == req.Version:
			outcome = IngestUnchanged
			return &IngestResult{Document: existing, Outcome: outcome}, nil
		case existing.Version > req.Version:
			return nil, errno.ErrStaleVersion.WithMessagef(
				"document %s: version %d is older than indexed version %d", req.DocumentID, req.Version, existing.Version)
		}
	}

	text := NormalizeText(req.Text)
	res, err := s.chunker.Chunk(model.Document{ID: req.DocumentID, Version: req.Version}, text, s.config.ChunkMaxTokens, s.config.ChunkOverlapTokens)
	if err != nil {
		return nil, err
	}

	vectors, err := s.embedChunks(ctx, res.Chunks)
	if err != nil {
		s.metrics.RecordEmbeddingError()
		return nil, err
	}

	entries := make([]store.IndexEntry, len(res.Chunks))
	for i, c := range res.Chunks {
		entries[i] = store.IndexEntry{Chunk: c, Vector: vectors[i]}
	}
	doc := model.Document{
		ID:          req.DocumentID,
		Version:     req.Version,
		ContentHash: ContentHash(text),
		Source:      req.Source,
		ChunkCount:  len(res.Chunks),
		TokenCount:  res.TotalTokens,
	}

	changed, err := s.index.Upsert(ctx, doc, entries)
	if err != nil {
		return nil, err
	}
	outcome = IngestIndexed
	if !changed {
		outcome = IngestUnchanged
	} else {
		chunks = len(entries)
	}

	logger.Infow("document ingested",
		"document_id", doc.ID,
		"version", doc.Version,
		"chunks", doc.ChunkCount,
		"tokens", doc.TokenCount,
		"tokenizer", res.Tokenizer,
		"outcome", outcome)
	return &IngestResult{
		Document:    doc,
		Outcome:     outcome,
		Tokenizer:   res.Tokenizer,
		Approximate: res.Approximate,
	}, nil
}

// IngestContent 按内容哈希自动分配版本：内容未变化时跳过，否则在已索引版本上加一。
func (s *RAGService) IngestContent(ctx context.Context, documentID, text, source string) (*IngestResult, error) {
	version := int64(1)
	if existing, ok := s.index.Document(documentID); ok {
		if existing.ContentHash == ContentHash(NormalizeText(text)) {
			s.metrics.RecordIngest(IngestUnchanged, 0)
			return &IngestResult{Document: existing, Outcome: IngestUnchanged}, nil
		}
		version = existing.Version + 1
	}
	return s.Ingest(ctx, IngestRequest{DocumentID: documentID, Version: version, Text: text, Source: source})
}

// Delete 删除文档的全部版本，幂等。返回文档此前是否存在。
func (s *RAGService) Delete(ctx context.Context, documentID string) (bool, error) {
	if strings.TrimSpace(documentID) == "" {
		return false, errno.ErrInvalidDocument.WithMessage("document id must not be empty")
	}
	removed, err := s.index.Delete(ctx, documentID)
	if err != nil {
		return false, err
	}
	if removed {
		logger.Infow("document deleted", "document_id", documentID)
	}
	return removed, nil
}

// Document 返回已索引的文档。
func (s *RAGService) Document(documentID string) (model.Document, error) {
	doc, ok := s.index.Document(documentID)
	if !ok {
		return model.Document{}, errno.ErrDocumentNotFound.WithMessagef("document %s is not indexed", documentID)
	}
	return doc, nil
}

// embedChunks 按批计算分块向量，有入库池时各批并行。
func (s *RAGService) embedChunks(ctx context.Context, chunks []model.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	size := s.config.IngestBatchSize

	var tasks []func(ctx context.Context) error
	for lo := 0; lo < len(chunks); lo += size {
		hi := min(lo+size, len(chunks))
		tasks = append(tasks, func(ctx context.Context) error {
			return s.embedBatch(ctx, chunks[lo:hi], vectors[lo:hi])
		})
	}

	if s.pool != nil {
		if err := s.pool.Run(ctx, tasks...); err != nil {
			return nil, err
		}
		return vectors, nil
	}
	for _, task := range tasks {
		if err := task(ctx); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

func (s *RAGService) embedBatch(ctx context.Context, chunks []model.Chunk, out [][]float32) error {
	if batch, ok := s.embedder.(BatchEmbedder); ok {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vecs, err := batch.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(chunks) {
			return errno.ErrEmbeddingUnavailable.WithCause(
				fmt.Errorf("expected %d embeddings, got %d", len(chunks), len(vecs)))
		}
		copy(out, vecs)
		return nil
	}

	for i, c := range chunks {
		vec, err := s.embedder.Embed(ctx, c.Content)
		if err != nil {
			return err
		}
		out[i] = vec
	}
	return nil
}

// ContentHash 返回规范化文本的 SHA256 十六进制摘要。
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
