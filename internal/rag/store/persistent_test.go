package store

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/errno"
	"github.com/kart-io/sentinel-rag/pkg/errors"
)

// failingPersister 总是写入失败。
type failingPersister struct{}

func (failingPersister) SaveDocument(context.Context, model.Document, []IndexEntry) error {
	return stderrors.New("disk full")
}
func (failingPersister) DeleteDocument(context.Context, string) error { return nil }
func (failingPersister) LoadDocuments(context.Context) ([]PersistedDocument, error) {
	return nil, nil
}
func (failingPersister) Close() error { return nil }

func newSQLiteIndex(t *testing.T, path string) *PersistentIndex {
	t.Helper()
	p, err := NewSQLitePersister(path)
	require.NoError(t, err)
	idx := NewPersistentIndex(0, p)
	require.NoError(t, idx.Restore(context.Background()))
	return idx
}

func TestPersistentIndex_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rag.db")

	idx := newSQLiteIndex(t, path)
	a := model.Document{ID: "a", Version: 1, ContentHash: "h1", Source: "a.md"}
	_, err := idx.Upsert(ctx, a, testEntries(a, []float32{1, 0.5}, []float32{-0.25, 1}))
	require.NoError(t, err)
	b := model.Document{ID: "b", Version: 4}
	_, err = idx.Upsert(ctx, b, testEntries(b, []float32{0, 1}))
	require.NoError(t, err)

	a2 := model.Document{ID: "a", Version: 2, ContentHash: "h2"}
	_, err = idx.Upsert(ctx, a2, testEntries(a2, []float32{1, 1}))
	require.NoError(t, err)

	fingerprint := idx.Fingerprint()
	require.NoError(t, idx.Close())

	reopened := newSQLiteIndex(t, path)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, fingerprint, reopened.Fingerprint())
	assert.True(t, reopened.Contains("a@v2#000000"))
	assert.False(t, reopened.Contains("a@v1#000000"))

	doc, ok := reopened.Document("a")
	require.True(t, ok)
	assert.Equal(t, "h2", doc.ContentHash)

	res, err := reopened.Search(ctx, []float32{0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b@v4#000000", res[0].Chunk.ID)
	assert.Equal(t, "b v4 chunk 0", res[0].Chunk.Content)

	removed, err := reopened.Delete(ctx, "b")
	require.NoError(t, err)
	assert.True(t, removed)
	require.NoError(t, reopened.Close())

	again := newSQLiteIndex(t, path)
	defer func() { _ = again.Close() }()
	assert.Equal(t, 1, again.Stats().Documents)
}

func TestPersistentIndex_FailedSaveKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	idx := NewPersistentIndex(0, failingPersister{})
	before := idx.Fingerprint()

	d := model.Document{ID: "a", Version: 1}
	_, err := idx.Upsert(ctx, d, testEntries(d, []float32{1}))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrStorage.Code))
	assert.Equal(t, before, idx.Fingerprint())
	assert.False(t, idx.Contains("a@v1#000000"))
}

func TestPersistentIndex_StaleVersionNotPersisted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rag.db")
	idx := newSQLiteIndex(t, path)
	defer func() { _ = idx.Close() }()

	v2 := model.Document{ID: "a", Version: 2}
	_, err := idx.Upsert(ctx, v2, testEntries(v2, []float32{1}))
	require.NoError(t, err)

	v1 := model.Document{ID: "a", Version: 1}
	_, err = idx.Upsert(ctx, v1, testEntries(v1, []float32{1}))
	assert.True(t, errors.IsCode(err, errno.ErrStaleVersion.Code))
}

func TestVectorEncoding(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.4028235e38}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
