package retriever

import (
	"context"

	"github.com/inquira/inquira/engine/kb"
	"github.com/inquira/inquira/engine/kb/embedder"
)

// mmrCandidatePool bounds how many candidates the diversity pass fetches.
const mmrCandidatePool = 100

// RetrieveWithMMR reduces redundancy in the final result set by greedily
// picking, for up to topK rounds, the candidate maximizing
// lambda*relevance - (1-lambda)*maxSimilarityToSelected. Relevance is the
// original retrieval score; similarity is cosine over content embeddings,
// computed once per candidate and memoized for the call. Ties keep the
// first-encountered index. With lambda = 1 the selection degenerates to
// plain relevance ordering and no content embeddings are requested.
func (s *Service) RetrieveWithMMR(
	ctx context.Context,
	query string,
	topK int,
	lambda float64,
) ([]kb.RetrievalResult, error) {
	if topK <= 0 {
		topK = s.settings.TopK
	}
	if lambda <= 0 || lambda > 1 {
		lambda = s.settings.MMRLambda
	}
	poolSize := 3 * topK
	if poolSize > mmrCandidatePool {
		poolSize = mmrCandidatePool
	}
	candidates, err := s.Retrieve(ctx, query, poolSize, nil)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return s.selectDiverse(ctx, candidates, topK, lambda)
}

func (s *Service) selectDiverse(
	ctx context.Context,
	candidates []kb.RetrievalResult,
	topK int,
	lambda float64,
) ([]kb.RetrievalResult, error) {
	memo := newEmbeddingMemo(s.embedder)
	selected := make([]kb.RetrievalResult, 0, topK)
	selectedIdx := make([]int, 0, topK)
	remaining := make([]int, len(candidates))
	for i := range remaining {
		remaining[i] = i
	}
	for len(selected) < topK && len(remaining) > 0 {
		bestPos := -1
		bestScore := 0.0
		for pos, idx := range remaining {
			score := lambda * candidates[idx].Score
			if lambda < 1 && len(selectedIdx) > 0 {
				maxSim, err := s.maxSimilarity(ctx, memo, candidates, idx, selectedIdx)
				if err != nil {
					return nil, err
				}
				score -= (1 - lambda) * maxSim
			}
			if bestPos == -1 || score > bestScore {
				bestPos = pos
				bestScore = score
			}
		}
		idx := remaining[bestPos]
		selected = append(selected, candidates[idx])
		selectedIdx = append(selectedIdx, idx)
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}
	return selected, nil
}

func (s *Service) maxSimilarity(
	ctx context.Context,
	memo *embeddingMemo,
	candidates []kb.RetrievalResult,
	idx int,
	selectedIdx []int,
) (float64, error) {
	candidateVec, err := memo.get(ctx, idx, candidates[idx].Chunk.Content)
	if err != nil {
		return 0, err
	}
	maxSim := 0.0
	for _, sel := range selectedIdx {
		selectedVec, err := memo.get(ctx, sel, candidates[sel].Chunk.Content)
		if err != nil {
			return 0, err
		}
		sim, err := embedder.Cosine(candidateVec, selectedVec)
		if err != nil {
			return 0, err
		}
		if sim > maxSim {
			maxSim = sim
		}
	}
	return maxSim, nil
}

// embeddingMemo caches content embeddings by candidate index for the
// duration of one MMR call.
type embeddingMemo struct {
	embedder QueryEmbedder
	vectors  map[int][]float32
}

func newEmbeddingMemo(emb QueryEmbedder) *embeddingMemo {
	return &embeddingMemo{embedder: emb, vectors: make(map[int][]float32)}
}

func (m *embeddingMemo) get(ctx context.Context, idx int, content string) ([]float32, error) {
	if vec, ok := m.vectors[idx]; ok {
		return vec, nil
	}
	vec, err := m.embedder.EmbedQuery(ctx, content)
	if err != nil {
		return nil, kb.NewError(kb.ErrKindEmbedding, "embed candidate for diversity scoring", err)
	}
	m.vectors[idx] = vec
	return vec, nil
}
