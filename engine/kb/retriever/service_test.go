package retriever

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquira/inquira/engine/kb"
	"github.com/inquira/inquira/engine/kb/vectordb"
)

type stubEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if vec, ok := s.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func newTestStore(t *testing.T, records []vectordb.Record) vectordb.Store {
	t.Helper()
	store, err := vectordb.New(context.Background(), &vectordb.Config{
		ID:        "retriever-test",
		Provider:  vectordb.ProviderMemory,
		Dimension: 3,
	})
	require.NoError(t, err)
	require.NoError(t, store.Upsert(context.Background(), records))
	return store
}

func TestService_Retrieve(t *testing.T) {
	ctx := context.Background()
	records := []vectordb.Record{
		{
			ID:        "chunk-a",
			Text:      "alpha content",
			Embedding: []float32{1, 0, 0},
			Metadata: map[string]any{
				"source":      "guide.md",
				"document_id": "doc-1",
				"chunk_index": 0,
				"token_count": 12,
			},
		},
		{ID: "chunk-b", Text: "beta content", Embedding: []float32{0.8, 0.6, 0}},
		{ID: "chunk-c", Text: "gamma content", Embedding: []float32{0, 1, 0}},
	}
	emb := &stubEmbedder{vectors: map[string][]float32{"alpha question": {1, 0, 0}}}
	svc, err := NewService(emb, newTestStore(t, records), DefaultSettings())
	require.NoError(t, err)

	t.Run("Should map matches in descending score order", func(t *testing.T) {
		results, err := svc.Retrieve(ctx, "alpha question", 3, nil)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "chunk-a", string(results[0].Chunk.ID))
		assert.Equal(t, "alpha content", results[0].Chunk.Content)
		assert.Greater(t, results[0].Score, results[1].Score)
	})

	t.Run("Should coerce metadata with safe defaults", func(t *testing.T) {
		results, err := svc.Retrieve(ctx, "alpha question", 3, nil)
		require.NoError(t, err)
		meta := results[0].Chunk.Metadata
		assert.Equal(t, "guide.md", meta.Source)
		assert.Equal(t, "doc-1", string(meta.DocumentID))
		assert.Equal(t, 12, meta.TokenCount)
		// chunk-b carries no payload at all
		assert.Zero(t, results[1].Chunk.Metadata.Source)
		assert.Zero(t, results[1].Chunk.Metadata.TokenCount)
	})

	t.Run("Should return available results when under-supplied", func(t *testing.T) {
		results, err := svc.Retrieve(ctx, "alpha question", 5, nil)
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})

	t.Run("Should reject an empty query", func(t *testing.T) {
		_, err := svc.Retrieve(ctx, "   ", 3, nil)
		require.Error(t, err)
		var kbErr *kb.Error
		require.ErrorAs(t, err, &kbErr)
		assert.Equal(t, kb.ErrKindValidation, kbErr.Kind)
	})
}

func TestService_RetrieveWithThreshold(t *testing.T) {
	ctx := context.Background()
	records := []vectordb.Record{
		{ID: "hit", Text: "close match", Embedding: []float32{1, 0, 0}},
		{ID: "miss", Text: "far match", Embedding: []float32{0, 1, 0}},
	}
	emb := &stubEmbedder{vectors: map[string][]float32{"question": {1, 0, 0}}}
	svc, err := NewService(emb, newTestStore(t, records), DefaultSettings())
	require.NoError(t, err)

	t.Run("Should drop results below the score threshold", func(t *testing.T) {
		results, err := svc.RetrieveWithThreshold(ctx, "question", 5, 0.5)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "hit", string(results[0].Chunk.ID))
	})
}

func TestService_RetrieveWithMMR(t *testing.T) {
	ctx := context.Background()
	records := []vectordb.Record{
		{ID: "a", Text: "alpha one", Embedding: []float32{1, 0, 0}},
		{ID: "b", Text: "alpha two", Embedding: []float32{0.95, 0.31225, 0}},
		{ID: "c", Text: "gamma topic", Embedding: []float32{0.2, 0.9798, 0}},
	}
	vectors := map[string][]float32{
		"the question": {1, 0, 0},
		"alpha one":    {1, 0, 0},
		"alpha two":    {1, 0, 0},
		"gamma topic":  {0, 1, 0},
	}

	t.Run("Should equal relevance order when lambda is one", func(t *testing.T) {
		emb := &stubEmbedder{vectors: vectors}
		svc, err := NewService(emb, newTestStore(t, records), DefaultSettings())
		require.NoError(t, err)
		results, err := svc.RetrieveWithMMR(ctx, "the question", 3, 1)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "a", string(results[0].Chunk.ID))
		assert.Equal(t, "b", string(results[1].Chunk.ID))
		assert.Equal(t, "c", string(results[2].Chunk.ID))
		// lambda = 1 needs no content embeddings, only the query embedding
		assert.Equal(t, 1, emb.calls)
	})

	t.Run("Should prefer diverse candidates over near duplicates", func(t *testing.T) {
		emb := &stubEmbedder{vectors: vectors}
		svc, err := NewService(emb, newTestStore(t, records), DefaultSettings())
		require.NoError(t, err)
		results, err := svc.RetrieveWithMMR(ctx, "the question", 2, 0.5)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a", string(results[0].Chunk.ID))
		assert.Equal(t, "c", string(results[1].Chunk.ID))
	})

	t.Run("Should return all candidates when the pool is smaller than topK", func(t *testing.T) {
		emb := &stubEmbedder{vectors: vectors}
		svc, err := NewService(emb, newTestStore(t, records), DefaultSettings())
		require.NoError(t, err)
		results, err := svc.RetrieveWithMMR(ctx, "the question", 5, 0.7)
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})
}

func TestService_HybridRetrieve(t *testing.T) {
	ctx := context.Background()
	records := []vectordb.Record{
		{ID: "vector-win", Text: "entirely unrelated words here", Embedding: []float32{1, 0, 0}},
		{ID: "keyword-win", Text: "database indexing database indexing", Embedding: []float32{0.9, 0.43589, 0}},
	}
	emb := &stubEmbedder{vectors: map[string][]float32{"database indexing": {1, 0, 0}}}
	svc, err := NewService(emb, newTestStore(t, records), DefaultSettings())
	require.NoError(t, err)

	t.Run("Should boost keyword matches over pure vector score", func(t *testing.T) {
		results, err := svc.HybridRetrieve(ctx, "database indexing", 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "keyword-win", string(results[0].Chunk.ID))
	})

	t.Run("Should keep vector order when the query has only stop words", func(t *testing.T) {
		stopEmb := &stubEmbedder{vectors: map[string][]float32{"is the of": {1, 0, 0}}}
		stopSvc, err := NewService(stopEmb, newTestStore(t, records), DefaultSettings())
		require.NoError(t, err)
		results, err := stopSvc.HybridRetrieve(ctx, "is the of", 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "vector-win", string(results[0].Chunk.ID))
	})
}
