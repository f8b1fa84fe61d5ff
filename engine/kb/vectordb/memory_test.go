package vectordb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemoryStore(t *testing.T, dimension int, records []Record) Store {
	t.Helper()
	store := newMemoryStore(&Config{Dimension: dimension})
	require.NoError(t, store.Upsert(context.Background(), records))
	return store
}

func TestMemoryStore_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("Should rank results by cosine similarity", func(t *testing.T) {
		store := seedMemoryStore(t, 3, []Record{
			{ID: "install", Text: "installation guide", Embedding: []float32{0.9, 0.1, 0}},
			{ID: "config", Text: "configuration reference", Embedding: []float32{0, 1, 0}},
			{ID: "faq", Text: "frequently asked questions", Embedding: []float32{0.5, 0.5, 0}},
		})
		matches, err := store.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 3})
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, "install", matches[0].ID)
		assert.Greater(t, matches[0].Score, matches[1].Score)
	})

	t.Run("Should drop results below the score threshold", func(t *testing.T) {
		store := seedMemoryStore(t, 2, []Record{
			{ID: "near", Embedding: []float32{1, 0}},
			{ID: "far", Embedding: []float32{0, 1}},
		})
		matches, err := store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 5, MinScore: 0.5})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "near", matches[0].ID)
	})

	t.Run("Should restrict matches by metadata filter", func(t *testing.T) {
		store := seedMemoryStore(t, 2, []Record{
			{ID: "md", Embedding: []float32{1, 0}, Metadata: map[string]any{"file_type": "md"}},
			{ID: "pdf", Embedding: []float32{0.9, 0.1}, Metadata: map[string]any{"file_type": "pdf"}},
		})
		matches, err := store.Search(ctx, []float32{1, 0}, SearchOptions{
			TopK:    5,
			Filters: map[string]string{"file_type": "pdf"},
		})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "pdf", matches[0].ID)
	})

	t.Run("Should reject a query of the wrong dimension", func(t *testing.T) {
		store := seedMemoryStore(t, 2, []Record{{ID: "a", Embedding: []float32{1, 0}}})
		_, err := store.Search(ctx, []float32{1, 0, 0}, SearchOptions{TopK: 1})
		require.Error(t, err)
	})
}

func TestMemoryStore_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("Should overwrite a record with the same ID", func(t *testing.T) {
		store := seedMemoryStore(t, 2, []Record{
			{ID: "doc", Text: "first pass", Embedding: []float32{1, 0}},
		})
		require.NoError(t, store.Upsert(ctx, []Record{
			{ID: "doc", Text: "second pass", Embedding: []float32{0, 1}},
		}))
		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Records)
		matches, err := store.Search(ctx, []float32{0, 1}, SearchOptions{TopK: 1})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "second pass", matches[0].Text)
	})

	t.Run("Should reject an embedding of the wrong dimension", func(t *testing.T) {
		store := newMemoryStore(&Config{Dimension: 4})
		err := store.Upsert(ctx, []Record{{ID: "bad", Embedding: []float32{1, 1}}})
		require.Error(t, err)
	})
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("Should delete records by ID", func(t *testing.T) {
		store := seedMemoryStore(t, 2, []Record{
			{ID: "keep", Embedding: []float32{1, 0}},
			{ID: "drop", Embedding: []float32{0, 1}},
		})
		require.NoError(t, store.Delete(ctx, Filter{IDs: []string{"drop"}}))
		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Records)
	})

	t.Run("Should delete records by metadata filter", func(t *testing.T) {
		store := seedMemoryStore(t, 2, []Record{
			{ID: "a", Embedding: []float32{1, 0}, Metadata: map[string]any{"source": "old.md"}},
			{ID: "b", Embedding: []float32{0, 1}, Metadata: map[string]any{"source": "new.md"}},
		})
		require.NoError(t, store.Delete(ctx, Filter{Metadata: map[string]string{"source": "old.md"}}))
		matches, err := store.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 5})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "b", matches[0].ID)
	})
}
