package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := NewStore(StoreConfig{Path: dir, MinDocumentChars: 20}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func testDocument(id string) (Document, []Chunk) {
	doc := Document{
		ID:          id,
		Title:       "Teknisk regelverk",
		Language:    "no",
		Category:    CategoryRegulation,
		ContentHash: "hash-" + id,
		ChunkIDs:    []string{ChunkID(id, 0), ChunkID(id, 1)},
		IngestedAt:  time.Now().Truncate(time.Second),
	}
	chunks := []Chunk{
		{ID: ChunkID(id, 0), DocumentID: id, Index: 0, Content: "Første del av regelverket.", TokenCount: 4},
		{ID: ChunkID(id, 1), DocumentID: id, Index: 1, Content: "Andre del av regelverket.", TokenCount: 4},
	}
	return doc, chunks
}

func TestStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, t.TempDir())

	doc, chunks := testDocument("doc-1")
	require.NoError(t, s.Put(ctx, doc, chunks))

	got, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, doc.ChunkIDs, got.ChunkIDs)

	chunk, err := s.GetChunk(ctx, ChunkID("doc-1", 1))
	require.NoError(t, err)
	assert.Equal(t, "Andre del av regelverket.", chunk.Content)

	all, err := s.Chunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	removed, err := s.Delete(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.ChunkIDs, removed)

	_, err = s.Get(ctx, "doc-1")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, t.TempDir())

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = s.GetChunk(ctx, "missing:0000")
	assert.ErrorIs(t, err, ErrChunkNotFound)

	_, err = s.GetChunk(ctx, "malformed")
	assert.ErrorIs(t, err, ErrChunkNotFound)

	_, err = s.Delete(ctx, "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := testStore(t, dir)
	doc, chunks := testDocument("doc-1")
	require.NoError(t, s.Put(ctx, doc, chunks))

	reopened := testStore(t, dir)
	got, err := reopened.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Title, got.Title)

	id, ok := reopened.FindByHash(doc.ContentHash)
	require.True(t, ok)
	assert.Equal(t, "doc-1", id)

	docs, count := reopened.Counts(ctx)
	assert.Equal(t, 1, docs)
	assert.Equal(t, 2, count)
}

func TestStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, t.TempDir())

	older, olderChunks := testDocument("doc-old")
	older.IngestedAt = time.Now().Add(-time.Hour)
	newer, newerChunks := testDocument("doc-new")

	require.NoError(t, s.Put(ctx, older, olderChunks))
	require.NoError(t, s.Put(ctx, newer, newerChunks))

	docs := s.List(ctx)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-new", docs[0].ID)
	assert.Equal(t, "doc-old", docs[1].ID)
}

func TestStoreReplaceUpdatesHashIndex(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, t.TempDir())

	doc, chunks := testDocument("doc-1")
	require.NoError(t, s.Put(ctx, doc, chunks))

	doc.ContentHash = "hash-v2"
	require.NoError(t, s.Put(ctx, doc, chunks))

	_, ok := s.FindByHash("hash-doc-1")
	assert.False(t, ok, "stale hash entry survived replacement")
	id, ok := s.FindByHash("hash-v2")
	require.True(t, ok)
	assert.Equal(t, "doc-1", id)
}

func TestValidateText(t *testing.T) {
	s := testStore(t, t.TempDir())

	t.Run("too short", func(t *testing.T) {
		_, _, err := s.ValidateText("kort", "no")
		assert.ErrorIs(t, err, ErrDocumentTooShort)
	})

	t.Run("unsupported language", func(t *testing.T) {
		_, _, err := s.ValidateText("Dette er en helt grei tekst om jernbane.", "de")
		assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	})

	t.Run("normalizes and hashes", func(t *testing.T) {
		n1, h1, err := s.ValidateText("Dette  er   en tekst om jernbane i Norge.", "no")
		require.NoError(t, err)
		n2, h2, err := s.ValidateText("Dette er en tekst om jernbane i Norge.", "no")
		require.NoError(t, err)
		assert.Equal(t, n2, n1, "whitespace differences must normalize away")
		assert.Equal(t, h2, h1, "normalized-equal texts must hash equal")
	})

	t.Run("empty language skips the check", func(t *testing.T) {
		_, _, err := s.ValidateText("Dette er en helt grei tekst om jernbane.", "")
		assert.NoError(t, err)
	})
}
