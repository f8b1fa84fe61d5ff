package retriever

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/inquira/inquira/engine/core"
	"github.com/inquira/inquira/engine/kb"
	"github.com/inquira/inquira/engine/kb/vectordb"
	"github.com/inquira/inquira/pkg/logger"
)

// QueryEmbedder is the slice of the embedding adapter the retriever needs.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Settings holds retrieval tuning defaults applied when a call leaves the
// corresponding option at its zero value.
type Settings struct {
	TopK         int
	MinScore     float64
	MMRLambda    float64
	VectorWeight float64
}

// DefaultSettings mirrors the configuration surface defaults.
func DefaultSettings() Settings {
	return Settings{
		TopK:         5,
		MinScore:     0,
		MMRLambda:    0.7,
		VectorWeight: 0.7,
	}
}

// Service embeds queries and maps vector index matches into retrieval
// results.
type Service struct {
	embedder QueryEmbedder
	store    vectordb.Store
	settings Settings
	tracer   trace.Tracer
}

func NewService(emb QueryEmbedder, store vectordb.Store, settings Settings) (*Service, error) {
	if emb == nil {
		return nil, errors.New("kb: retriever embedder is required")
	}
	if store == nil {
		return nil, errors.New("kb: retriever vector store is required")
	}
	if settings.TopK <= 0 {
		settings.TopK = DefaultSettings().TopK
	}
	if settings.MMRLambda <= 0 || settings.MMRLambda > 1 {
		settings.MMRLambda = DefaultSettings().MMRLambda
	}
	if settings.VectorWeight <= 0 || settings.VectorWeight > 1 {
		settings.VectorWeight = DefaultSettings().VectorWeight
	}
	return &Service{
		embedder: emb,
		store:    store,
		settings: settings,
		tracer:   otel.Tracer("inquira.kb.retriever"),
	}, nil
}

// Retrieve embeds the query, runs a single similarity search, and maps the
// matches score-descending. Filters narrow the search by metadata equality.
func (s *Service) Retrieve(
	ctx context.Context,
	query string,
	topK int,
	filters map[string]string,
) (results []kb.RetrievalResult, err error) {
	if strings.TrimSpace(query) == "" {
		return nil, kb.NewError(kb.ErrKindValidation, "query is required", nil)
	}
	if topK <= 0 {
		topK = s.settings.TopK
	}
	log := logger.FromContext(ctx)
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "inquira.kb.retriever.retrieve", trace.WithAttributes(
		attribute.Int("top_k", topK),
		attribute.Int("query_length", len(query)),
	))
	defer s.finishRetrieve(ctx, span, start, &results, &err)

	vector, err := s.embedQueryWithSpan(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := s.searchMatches(ctx, vector, vectordb.SearchOptions{
		TopK:     topK,
		MinScore: s.settings.MinScore,
		Filters:  filters,
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		kb.RecordRetrievalEmpty(ctx, "retrieve")
		return nil, nil
	}
	sortMatches(matches)
	results = buildResults(matches)
	log.Debug("Retrieval executed", "results", len(results), "top_k", topK)
	return results, nil
}

// RetrieveWithThreshold drops results scoring below minScore.
func (s *Service) RetrieveWithThreshold(
	ctx context.Context,
	query string,
	topK int,
	minScore float64,
) ([]kb.RetrievalResult, error) {
	results, err := s.Retrieve(ctx, query, topK, nil)
	if err != nil {
		return nil, err
	}
	filtered := results[:0]
	for _, res := range results {
		if res.Score >= minScore {
			filtered = append(filtered, res)
		}
	}
	return filtered, nil
}

func (s *Service) embedQueryWithSpan(ctx context.Context, query string) ([]float32, error) {
	spanCtx, span := s.tracer.Start(ctx, "inquira.kb.retriever.embed_query")
	defer span.End()
	vector, err := s.embedder.EmbedQuery(spanCtx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, kb.NewError(kb.ErrKindEmbedding, "embed query", err)
	}
	return vector, nil
}

func (s *Service) searchMatches(
	ctx context.Context,
	vector []float32,
	opts vectordb.SearchOptions,
) ([]vectordb.Match, error) {
	spanCtx, span := s.tracer.Start(ctx, "inquira.kb.retriever.vector_search", trace.WithAttributes(
		attribute.Int("top_k", opts.TopK),
	))
	defer span.End()
	matches, err := s.store.Search(spanCtx, vector, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, kb.NewError(kb.ErrKindIndexing, "vector search", err)
	}
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return matches, nil
}

func (s *Service) finishRetrieve(
	ctx context.Context,
	span trace.Span,
	start time.Time,
	results *[]kb.RetrievalResult,
	runErr *error,
) {
	duration := time.Since(start)
	kb.RecordQueryLatency(ctx, "retrieve", duration)
	log := logger.FromContext(ctx)
	if runErr != nil && *runErr != nil {
		err := *runErr
		log.Error("Retrieval failed", "error", err, "duration_seconds", duration.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return
	}
	total := 0
	if results != nil {
		total = len(*results)
	}
	span.SetAttributes(attribute.Int("results", total))
	span.End()
}

func sortMatches(matches []vectordb.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
}

func buildResults(matches []vectordb.Match) []kb.RetrievalResult {
	results := make([]kb.RetrievalResult, len(matches))
	for i := range matches {
		results[i] = kb.RetrievalResult{
			Chunk: kb.DocumentChunk{
				ID:       core.ID(matches[i].ID),
				Content:  matches[i].Text,
				Metadata: kb.MetadataFromMap(matches[i].Metadata),
			},
			Score: matches[i].Score,
		}
	}
	return results
}
