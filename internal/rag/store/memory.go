package store

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/viant/vec/search"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/errno"
)

// vectorEntry 索引内部条目，预先计算好向量模长。
type vectorEntry struct {
	chunk     model.Chunk
	vector    search.Float32s
	magnitude float32
}

// documentEntries 一个文档当前版本的全部条目。
type documentEntries struct {
	doc     model.Document
	entries []vectorEntry
}

// snapshot 是不可变的索引视图，写入时整体替换。
type snapshot struct {
	docs        map[string]*documentEntries
	owners      map[string]string // chunk id -> document id
	dimension   int
	chunks      int
	fingerprint string
}

func emptySnapshot(dimension int) *snapshot {
	s := &snapshot{
		docs:      map[string]*documentEntries{},
		owners:    map[string]string{},
		dimension: dimension,
	}
	s.fingerprint = fingerprintOf(s.docs)
	return s
}

// MemoryIndex 基于内存的精确向量索引。
type MemoryIndex struct {
	mu      sync.Mutex // 串行化写者
	current atomic.Pointer[snapshot]
}

// NewMemoryIndex 创建内存索引。dimension 为 0 时由第一次写入推断。
func NewMemoryIndex(dimension int) *MemoryIndex {
	idx := &MemoryIndex{}
	idx.current.Store(emptySnapshot(dimension))
	return idx
}

// Upsert 实现 VectorIndex。
func (m *MemoryIndex) Upsert(ctx context.Context, doc model.Document, entries []IndexEntry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateDocument(doc, entries); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := m.prepareUpsert(doc, entries)
	if err != nil || next == nil {
		return false, err
	}
	m.current.Store(next)
	return true, nil
}

// prepareUpsert 基于当前快照构建写入后的新快照，调用方必须持有 m.mu。
// 相同版本返回 nil 快照。
func (m *MemoryIndex) prepareUpsert(doc model.Document, entries []IndexEntry) (*snapshot, error) {
	cur := m.current.Load()
	if existing, ok := cur.docs[doc.ID]; ok {
		switch {
		case existing.doc.Version == doc.Version:
			return nil, nil
		case existing.doc.Version > doc.Version:
			return nil, errno.ErrStaleVersion.WithMessagef(
				"document %s is indexed at version %d, got %d", doc.ID, existing.doc.Version, doc.Version)
		}
	}

	dimension := cur.dimension
	if dimension == 0 && len(entries) > 0 {
		dimension = len(entries[0].Vector)
	}

	replacement := &documentEntries{doc: doc, entries: make([]vectorEntry, 0, len(entries))}
	for _, e := range entries {
		if len(e.Vector) == 0 || len(e.Vector) != dimension {
			return nil, errno.ErrDimensionMismatch.WithMessagef(
				"chunk %s has dimension %d, index dimension is %d", e.Chunk.ID, len(e.Vector), dimension)
		}
		if owner, ok := cur.owners[e.Chunk.ID]; ok && owner != doc.ID {
			return nil, errno.ErrInvalidDocument.WithMessagef(
				"chunk id %s already belongs to document %s", e.Chunk.ID, owner)
		}
		vec := search.Float32s(slices.Clone(e.Vector))
		replacement.entries = append(replacement.entries, vectorEntry{
			chunk:     e.Chunk,
			vector:    vec,
			magnitude: vec.Magnitude(),
		})
	}
	replacement.doc.ChunkCount = len(entries)

	next := cur.without(doc.ID)
	next.dimension = dimension
	next.docs[doc.ID] = replacement
	for _, e := range replacement.entries {
		next.owners[e.chunk.ID] = doc.ID
	}
	next.chunks += len(replacement.entries)
	next.fingerprint = fingerprintOf(next.docs)
	return next, nil
}

// Delete 实现 VectorIndex。
func (m *MemoryIndex) Delete(ctx context.Context, documentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.current.Load()
	if _, ok := cur.docs[documentID]; !ok {
		return false, nil
	}
	next := cur.without(documentID)
	next.fingerprint = fingerprintOf(next.docs)
	m.current.Store(next)
	return true, nil
}

// without 复制快照并去掉指定文档，未复制的条目切片在快照之间共享（只读）。
func (s *snapshot) without(documentID string) *snapshot {
	next := &snapshot{
		docs:      make(map[string]*documentEntries, len(s.docs)+1),
		owners:    make(map[string]string, len(s.owners)),
		dimension: s.dimension,
		chunks:    s.chunks,
	}
	maps.Copy(next.docs, s.docs)
	maps.Copy(next.owners, s.owners)
	if old, ok := next.docs[documentID]; ok {
		for _, e := range old.entries {
			delete(next.owners, e.chunk.ID)
		}
		next.chunks -= len(old.entries)
		delete(next.docs, documentID)
	}
	return next
}

// Search 实现 VectorIndex，对全部条目做精确打分。
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, topK int, filter *SearchFilter) ([]ScoredChunk, error) {
	if topK < 1 {
		return nil, errno.ErrInvalidTopK.WithMessagef("top_k must be at least 1, got %d", topK)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := m.current.Load()
	if snap.chunks == 0 {
		return []ScoredChunk{}, nil
	}
	if len(vector) != snap.dimension {
		return nil, errno.ErrQueryDimensionMismatch.WithMessagef(
			"query has dimension %d, index dimension is %d", len(vector), snap.dimension)
	}

	query := search.Float32s(vector)
	qmag := query.Magnitude()

	var allowed map[string]struct{}
	if filter != nil && len(filter.DocumentIDs) > 0 {
		allowed = make(map[string]struct{}, len(filter.DocumentIDs))
		for _, id := range filter.DocumentIDs {
			allowed[id] = struct{}{}
		}
	}

	results := make([]ScoredChunk, 0, snap.chunks)
	for id, de := range snap.docs {
		if allowed != nil {
			if _, ok := allowed[id]; !ok {
				continue
			}
		}
		for _, e := range de.entries {
			score := cosineSimilarity(query, qmag, e.vector, e.magnitude)
			if filter != nil && filter.MinScore != nil && score < *filter.MinScore {
				continue
			}
			results = append(results, ScoredChunk{Chunk: e.chunk, Score: score})
		}
	}

	slices.SortFunc(results, compareScored)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// compareScored 相似度降序，同分按分块 ID 升序。
func compareScored(a, b ScoredChunk) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return cmp.Compare(a.Chunk.ID, b.Chunk.ID)
}

// cosineSimilarity 返回余弦相似度，任一向量模长为 0 时返回 0。
func cosineSimilarity(q search.Float32s, qmag float32, v search.Float32s, vmag float32) float32 {
	if qmag == 0 || vmag == 0 {
		return 0
	}
	sim := 1 - q.CosineDistance(v)
	// 浮点误差可能使结果略微越界
	return min(max(sim, -1), 1)
}

// Fingerprint 实现 VectorIndex。
func (m *MemoryIndex) Fingerprint() string {
	return m.current.Load().fingerprint
}

// Contains 实现 VectorIndex。
func (m *MemoryIndex) Contains(chunkID string) bool {
	_, ok := m.current.Load().owners[chunkID]
	return ok
}

// Document 实现 VectorIndex。
func (m *MemoryIndex) Document(documentID string) (model.Document, bool) {
	de, ok := m.current.Load().docs[documentID]
	if !ok {
		return model.Document{}, false
	}
	return de.doc, true
}

// Documents 返回全部已索引文档，按 ID 排序。
func (m *MemoryIndex) Documents() []model.Document {
	snap := m.current.Load()
	docs := make([]model.Document, 0, len(snap.docs))
	for _, de := range snap.docs {
		docs = append(docs, de.doc)
	}
	slices.SortFunc(docs, func(a, b model.Document) int { return cmp.Compare(a.ID, b.ID) })
	return docs
}

// Stats 实现 VectorIndex。
func (m *MemoryIndex) Stats() Stats {
	snap := m.current.Load()
	return Stats{
		Documents:   len(snap.docs),
		Chunks:      snap.chunks,
		Dimension:   snap.dimension,
		Fingerprint: snap.fingerprint,
	}
}

// fingerprintOf 对排序后的 (文档 ID, 版本) 对计算 SHA-256。
func fingerprintOf(docs map[string]*documentEntries) string {
	ids := slices.Sorted(maps.Keys(docs))
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(docs[id].doc.Version, 10)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// validateDocument 校验文档与条目的一致性。
func validateDocument(doc model.Document, entries []IndexEntry) error {
	if doc.ID == "" {
		return errno.ErrInvalidDocument.WithMessage("document id is required")
	}
	if doc.Version < 1 {
		return errno.ErrInvalidDocument.WithMessagef("document %s: version must be at least 1, got %d", doc.ID, doc.Version)
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		c := e.Chunk
		if c.ID == "" {
			return errno.ErrInvalidDocument.WithMessagef("document %s: chunk id is required", doc.ID)
		}
		if c.DocumentID != doc.ID || c.Version != doc.Version {
			return errno.ErrInvalidDocument.WithMessagef(
				"chunk %s belongs to %s@v%d, not %s@v%d", c.ID, c.DocumentID, c.Version, doc.ID, doc.Version)
		}
		if _, dup := seen[c.ID]; dup {
			return errno.ErrInvalidDocument.WithMessagef("document %s: duplicate chunk id %s", doc.ID, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

var _ VectorIndex = (*MemoryIndex)(nil)
