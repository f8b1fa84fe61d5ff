package rerank

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquira/inquira/engine/core"
	"github.com/inquira/inquira/engine/kb"
)

type stubScorer struct {
	scored  []ScoredDocument
	err     error
	lastLen int
}

func (s *stubScorer) Score(_ context.Context, _ string, documents []string, _ int) ([]ScoredDocument, error) {
	s.lastLen = len(documents)
	if s.err != nil {
		return nil, s.err
	}
	return s.scored, nil
}

func makeResults(n int) []kb.RetrievalResult {
	results := make([]kb.RetrievalResult, n)
	for i := range results {
		results[i] = kb.RetrievalResult{
			Chunk: kb.DocumentChunk{
				ID:      core.ID(fmt.Sprintf("chunk-%d", i)),
				Content: fmt.Sprintf("content %d", i),
			},
			Score: 1 - float64(i)*0.01,
		}
	}
	return results
}

func TestAdapter_Rerank(t *testing.T) {
	ctx := context.Background()

	t.Run("Should reorder by reranked score and overwrite the score", func(t *testing.T) {
		scorer := &stubScorer{scored: []ScoredDocument{
			{Index: 2, RelevanceScore: 0.99},
			{Index: 0, RelevanceScore: 0.42},
		}}
		adapter, err := Wrap(scorer)
		require.NoError(t, err)
		reranked := adapter.Rerank(ctx, "query", makeResults(3), 2)
		require.Len(t, reranked, 2)
		assert.Equal(t, "chunk-2", string(reranked[0].Chunk.ID))
		assert.Equal(t, 0.99, reranked[0].Score)
		require.NotNil(t, reranked[0].RerankedScore)
		assert.Equal(t, 0.99, *reranked[0].RerankedScore)
		assert.Equal(t, "chunk-0", string(reranked[1].Chunk.ID))
	})

	t.Run("Should fall back to retrieval order on scorer error", func(t *testing.T) {
		scorer := &stubScorer{err: errors.New("service unavailable")}
		adapter, err := Wrap(scorer)
		require.NoError(t, err)
		results := makeResults(4)
		reranked := adapter.Rerank(ctx, "query", results, 2)
		require.Len(t, reranked, 2)
		assert.Equal(t, "chunk-0", string(reranked[0].Chunk.ID))
		assert.Nil(t, reranked[0].RerankedScore)
	})

	t.Run("Should cap candidates at fifty", func(t *testing.T) {
		scorer := &stubScorer{scored: []ScoredDocument{{Index: 0, RelevanceScore: 0.5}}}
		adapter, err := Wrap(scorer)
		require.NoError(t, err)
		adapter.Rerank(ctx, "query", makeResults(75), 5)
		assert.Equal(t, 50, scorer.lastLen)
	})

	t.Run("Should ignore out-of-range indices", func(t *testing.T) {
		scorer := &stubScorer{scored: []ScoredDocument{
			{Index: 9, RelevanceScore: 0.9},
			{Index: 1, RelevanceScore: 0.8},
		}}
		adapter, err := Wrap(scorer)
		require.NoError(t, err)
		reranked := adapter.Rerank(ctx, "query", makeResults(3), 3)
		require.Len(t, reranked, 1)
		assert.Equal(t, "chunk-1", string(reranked[0].Chunk.ID))
	})

	t.Run("Should return empty input unchanged", func(t *testing.T) {
		adapter, err := Wrap(&stubScorer{})
		require.NoError(t, err)
		assert.Empty(t, adapter.Rerank(ctx, "query", nil, 3))
	})
}
