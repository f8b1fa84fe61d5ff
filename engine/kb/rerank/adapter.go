package rerank

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/inquira/inquira/engine/kb"
	"github.com/inquira/inquira/pkg/logger"
)

// maxDocuments caps how many candidates are sent to the reranking service
// per call, for cost control.
const maxDocuments = 50

const defaultTimeout = 15 * time.Second

// Scorer is the external reranking boundary: given a query and candidate
// documents it returns relevance scores keyed by input index.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string, topN int) ([]ScoredDocument, error)
}

// ScoredDocument is one reranking verdict.
type ScoredDocument struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Config describes the reranking service endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Adapter wraps a Scorer with the fail-soft contract: reranking failures
// are logged and the original top-N ordering is returned unchanged, never
// an error.
type Adapter struct {
	scorer Scorer
}

// New builds an adapter backed by the HTTP reranking service.
func New(cfg *Config) (*Adapter, error) {
	scorer, err := newHTTPScorer(cfg)
	if err != nil {
		return nil, err
	}
	return &Adapter{scorer: scorer}, nil
}

// Wrap builds an adapter around an existing scorer. Used to inject test
// doubles.
func Wrap(scorer Scorer) (*Adapter, error) {
	if scorer == nil {
		return nil, errors.New("rerank: scorer is required")
	}
	return &Adapter{scorer: scorer}, nil
}

// Rerank re-scores up to maxDocuments candidates and returns the topN by
// reranked relevance. Each returned result has RerankedScore set and Score
// overwritten with the reranked value.
func (a *Adapter) Rerank(
	ctx context.Context,
	query string,
	results []kb.RetrievalResult,
	topN int,
) []kb.RetrievalResult {
	if len(results) == 0 {
		return results
	}
	if topN <= 0 || topN > len(results) {
		topN = len(results)
	}
	candidates := results
	if len(candidates) > maxDocuments {
		candidates = candidates[:maxDocuments]
	}
	documents := make([]string, len(candidates))
	for i := range candidates {
		documents[i] = candidates[i].Chunk.Content
	}
	scored, err := a.scorer.Score(ctx, query, documents, topN)
	if err != nil {
		logger.FromContext(ctx).Warn("Rerank failed, keeping retrieval order", "error", err)
		return results[:topN]
	}
	return applyScores(ctx, candidates, scored, topN)
}

func applyScores(
	ctx context.Context,
	candidates []kb.RetrievalResult,
	scored []ScoredDocument,
	topN int,
) []kb.RetrievalResult {
	reranked := make([]kb.RetrievalResult, 0, len(scored))
	for _, doc := range scored {
		if doc.Index < 0 || doc.Index >= len(candidates) {
			logger.FromContext(ctx).Warn("Rerank returned out-of-range index", "index", doc.Index)
			continue
		}
		result := candidates[doc.Index]
		score := doc.RelevanceScore
		result.RerankedScore = &score
		result.Score = score
		reranked = append(reranked, result)
	}
	if len(reranked) == 0 {
		return candidates[:topN]
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})
	if len(reranked) > topN {
		reranked = reranked[:topN]
	}
	return reranked
}

// httpScorer talks to a Cohere-compatible /rerank endpoint.
type httpScorer struct {
	client *resty.Client
	model  string
}

func newHTTPScorer(cfg *Config) (*httpScorer, error) {
	if cfg == nil {
		return nil, errors.New("rerank: config is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("rerank: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &httpScorer{client: client, model: cfg.Model}, nil
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []ScoredDocument `json:"results"`
}

func (h *httpScorer) Score(
	ctx context.Context,
	query string,
	documents []string,
	topN int,
) ([]ScoredDocument, error) {
	var response rerankResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(rerankRequest{Model: h.model, Query: query, Documents: documents, TopN: topN}).
		SetResult(&response).
		Post("/rerank")
	if err != nil {
		return nil, kb.NewError(kb.ErrKindRerank, "rerank request", err)
	}
	if resp.IsError() {
		return nil, kb.NewError(
			kb.ErrKindRerank,
			"rerank request failed with status "+resp.Status(),
			nil,
		)
	}
	return response.Results, nil
}
