package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/inquira/inquira/engine/core"
	"github.com/inquira/inquira/engine/kb"
	"github.com/inquira/inquira/engine/kb/events"
	"github.com/inquira/inquira/engine/kb/job"
	"github.com/inquira/inquira/engine/kb/synth"
	"github.com/inquira/inquira/engine/kb/vectordb"
	"github.com/inquira/inquira/pkg/logger"
)

// RetrievalMode selects how candidates are gathered for a question.
type RetrievalMode string

const (
	ModeSimilarity RetrievalMode = "similarity"
	ModeMMR        RetrievalMode = "mmr"
	ModeHybrid     RetrievalMode = "hybrid"
)

// Retriever is the candidate-gathering boundary.
type Retriever interface {
	RetrieveWithThreshold(ctx context.Context, query string, topK int, minScore float64) ([]kb.RetrievalResult, error)
	RetrieveWithMMR(ctx context.Context, query string, topK int, lambda float64) ([]kb.RetrievalResult, error)
	HybridRetrieve(ctx context.Context, query string, topK int) ([]kb.RetrievalResult, error)
}

// Reranker reorders candidates. Implementations never fail the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []kb.RetrievalResult, topN int) []kb.RetrievalResult
}

// Answerer turns candidates into a grounded answer.
type Answerer interface {
	Synthesize(ctx context.Context, query string, results []kb.RetrievalResult) kb.Answer
}

// Settings tunes the question-answering path. TopK sizes the candidate
// pool gathered from the index; RerankedK is how many of those survive
// reranking (or plain truncation when no reranker is configured).
type Settings struct {
	Mode      RetrievalMode
	TopK      int
	RerankedK int
	MinScore  float64
	MMRLambda float64
}

// DefaultSettings returns the retrieval defaults.
func DefaultSettings() Settings {
	return Settings{
		Mode:      ModeSimilarity,
		TopK:      10,
		RerankedK: 5,
		MinScore:  0,
		MMRLambda: 0.7,
	}
}

// Deps wires the facade. Reranker is optional; everything else is
// required for the paths that use it.
type Deps struct {
	Jobs      *job.Orchestrator
	Retriever Retriever
	Reranker  Reranker
	Synth     Answerer
	Index     vectordb.Store
}

// Service is the single entry point for ingestion and question answering.
type Service struct {
	jobs      *job.Orchestrator
	retriever Retriever
	reranker  Reranker
	synth     Answerer
	index     vectordb.Store
	settings  Settings
}

// New validates the dependency set against the configured settings.
func New(deps Deps, settings Settings) (*Service, error) {
	if deps.Retriever == nil {
		return nil, errors.New("service: retriever is required")
	}
	if deps.Synth == nil {
		return nil, errors.New("service: synthesizer is required")
	}
	defaults := DefaultSettings()
	if settings.Mode == "" {
		settings.Mode = defaults.Mode
	}
	switch settings.Mode {
	case ModeSimilarity, ModeMMR, ModeHybrid:
	default:
		return nil, errors.New("service: unknown retrieval mode " + string(settings.Mode))
	}
	if settings.TopK <= 0 {
		settings.TopK = defaults.TopK
	}
	if settings.RerankedK <= 0 {
		settings.RerankedK = defaults.RerankedK
	}
	if settings.RerankedK > settings.TopK {
		settings.RerankedK = settings.TopK
	}
	if settings.MMRLambda <= 0 || settings.MMRLambda > 1 {
		settings.MMRLambda = defaults.MMRLambda
	}
	return &Service{
		jobs:      deps.Jobs,
		retriever: deps.Retriever,
		reranker:  deps.Reranker,
		synth:     deps.Synth,
		index:     deps.Index,
		settings:  settings,
	}, nil
}

// Ingest submits an asynchronous ingestion job for the given files.
func (s *Service) Ingest(ctx context.Context, files []kb.UploadedFile) (job.Job, error) {
	if s.jobs == nil {
		return job.Job{}, errors.New("service: ingestion is not configured")
	}
	return s.jobs.Submit(ctx, files)
}

// Job returns a snapshot of one ingestion job.
func (s *Service) Job(id core.ID) (job.Job, bool) {
	if s.jobs == nil {
		return job.Job{}, false
	}
	return s.jobs.Get(id)
}

// Jobs lists all retained ingestion jobs, oldest first.
func (s *Service) Jobs() []job.Job {
	if s.jobs == nil {
		return nil
	}
	return s.jobs.List()
}

// CancelJob requests cancellation of an ingestion job.
func (s *Service) CancelJob(ctx context.Context, id core.ID) error {
	if s.jobs == nil {
		return errors.New("service: ingestion is not configured")
	}
	return s.jobs.Cancel(ctx, id)
}

// Events exposes the job progress bus, or nil when ingestion is not
// configured.
func (s *Service) Events() *events.Bus {
	if s.jobs == nil {
		return nil
	}
	return s.jobs.Bus()
}

// AskOptions overrides the configured retrieval settings for one question.
// Zero values fall through to the service defaults.
type AskOptions struct {
	Mode      RetrievalMode
	TopK      int
	RerankedK int
	MinScore  float64
	MMRLambda float64
}

// Ask answers a question with the configured defaults.
func (s *Service) Ask(ctx context.Context, query string) (kb.Answer, error) {
	return s.AskWithOptions(ctx, query, AskOptions{})
}

// AskWithOptions retrieves, optionally reranks, and synthesizes an answer.
// Only validation errors surface to the caller; retrieval, rerank, and
// generation failures degrade to a textual answer.
func (s *Service) AskWithOptions(ctx context.Context, query string, opts AskOptions) (kb.Answer, error) {
	if strings.TrimSpace(query) == "" {
		return kb.Answer{}, kb.NewError(kb.ErrKindValidation, "query is required", nil)
	}
	opts = s.fillOptions(opts)
	start := time.Now()
	results, err := s.gather(ctx, query, opts)
	if err != nil {
		var kerr *kb.Error
		if errors.As(err, &kerr) && kerr.Kind == kb.ErrKindValidation {
			return kb.Answer{}, err
		}
		logger.FromContext(ctx).Error("Retrieval failed, degrading answer", "error", err)
		return kb.Answer{Text: synth.ApologyAnswer}, nil
	}
	if s.reranker != nil && len(results) > 0 {
		results = s.reranker.Rerank(ctx, query, results, opts.RerankedK)
	} else if len(results) > opts.RerankedK {
		results = results[:opts.RerankedK]
	}
	answer := s.synth.Synthesize(ctx, query, results)
	kb.RecordQueryLatency(ctx, "ask", time.Since(start))
	logger.FromContext(ctx).Debug("Answered question",
		"mode", string(opts.Mode),
		"candidates", len(results),
		"citations", len(answer.Citations),
	)
	return answer, nil
}

func (s *Service) fillOptions(opts AskOptions) AskOptions {
	if opts.Mode == "" {
		opts.Mode = s.settings.Mode
	}
	if opts.TopK <= 0 {
		opts.TopK = s.settings.TopK
	}
	if opts.RerankedK <= 0 {
		opts.RerankedK = s.settings.RerankedK
	}
	if opts.RerankedK > opts.TopK {
		opts.RerankedK = opts.TopK
	}
	if opts.MinScore <= 0 {
		opts.MinScore = s.settings.MinScore
	}
	if opts.MMRLambda <= 0 || opts.MMRLambda > 1 {
		opts.MMRLambda = s.settings.MMRLambda
	}
	return opts
}

func (s *Service) gather(ctx context.Context, query string, opts AskOptions) ([]kb.RetrievalResult, error) {
	switch opts.Mode {
	case ModeMMR:
		return s.retriever.RetrieveWithMMR(ctx, query, opts.TopK, opts.MMRLambda)
	case ModeHybrid:
		return s.retriever.HybridRetrieve(ctx, query, opts.TopK)
	default:
		return s.retriever.RetrieveWithThreshold(ctx, query, opts.TopK, opts.MinScore)
	}
}

// Stats describes the backing vector index.
func (s *Service) Stats(ctx context.Context) (vectordb.Stats, error) {
	if s.index == nil {
		return vectordb.Stats{}, errors.New("service: vector index is not configured")
	}
	return s.index.Stats(ctx)
}
