package store

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/pkg/errors"
)

// PersistedDocument 持久层中的一个完整文档版本。
type PersistedDocument struct {
	Document model.Document
	Entries  []IndexEntry
}

// Persister 定义索引持久化后端。
type Persister interface {
	// SaveDocument 用新版本整体替换文档的已持久化条目。
	SaveDocument(ctx context.Context, doc model.Document, entries []IndexEntry) error
	// DeleteDocument 删除文档的全部条目，幂等。
	DeleteDocument(ctx context.Context, documentID string) error
	// LoadDocuments 加载全部已持久化文档。
	LoadDocuments(ctx context.Context) ([]PersistedDocument, error)
	// Close 释放连接。
	Close() error
}

// PersistentIndex 在 MemoryIndex 之上写穿到 Persister。
// 检索始终由内存索引完成；持久层写入成功后才发布新快照。
type PersistentIndex struct {
	*MemoryIndex
	persister Persister
}

// NewPersistentIndex 创建持久化索引，需调用 Restore 加载已有数据。
func NewPersistentIndex(dimension int, persister Persister) *PersistentIndex {
	return &PersistentIndex{
		MemoryIndex: NewMemoryIndex(dimension),
		persister:   persister,
	}
}

// Restore 从持久层加载全部文档到内存索引。
func (p *PersistentIndex) Restore(ctx context.Context) error {
	docs, err := p.persister.LoadDocuments(ctx)
	if err != nil {
		return errors.ErrStorage.WithCause(fmt.Errorf("load documents: %w", err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pd := range docs {
		if err := validateDocument(pd.Document, pd.Entries); err != nil {
			logger.Warnw("skip invalid persisted document", "document_id", pd.Document.ID, "error", err.Error())
			continue
		}
		next, err := p.prepareUpsert(pd.Document, pd.Entries)
		if err != nil {
			logger.Warnw("skip persisted document", "document_id", pd.Document.ID, "error", err.Error())
			continue
		}
		if next != nil {
			p.current.Store(next)
		}
	}

	stats := p.MemoryIndex.Stats()
	logger.Infow("vector index restored",
		"documents", stats.Documents,
		"chunks", stats.Chunks,
		"fingerprint", stats.Fingerprint,
	)
	return nil
}

// Upsert 实现 VectorIndex。
func (p *PersistentIndex) Upsert(ctx context.Context, doc model.Document, entries []IndexEntry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateDocument(doc, entries); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next, err := p.prepareUpsert(doc, entries)
	if err != nil || next == nil {
		return false, err
	}
	if err := p.persister.SaveDocument(ctx, next.docs[doc.ID].doc, entries); err != nil {
		return false, errors.ErrStorage.WithCause(fmt.Errorf("save document %s: %w", doc.ID, err))
	}
	p.current.Store(next)
	return true, nil
}

// Delete 实现 VectorIndex。
func (p *PersistentIndex) Delete(ctx context.Context, documentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.current.Load()
	_, existed := cur.docs[documentID]
	// 即使内存中不存在也删除持久层，清理可能残留的旧数据
	if err := p.persister.DeleteDocument(ctx, documentID); err != nil {
		return false, errors.ErrStorage.WithCause(fmt.Errorf("delete document %s: %w", documentID, err))
	}
	if !existed {
		return false, nil
	}
	next := cur.without(documentID)
	next.fingerprint = fingerprintOf(next.docs)
	p.current.Store(next)
	return true, nil
}

// Close 关闭持久层。
func (p *PersistentIndex) Close() error {
	return p.persister.Close()
}

var _ VectorIndex = (*PersistentIndex)(nil)
