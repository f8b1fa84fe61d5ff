package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/inquira/inquira/engine/kb/chunk"
	"github.com/inquira/inquira/engine/kb/dedup"
	"github.com/inquira/inquira/engine/kb/embedder"
	"github.com/inquira/inquira/engine/kb/extract"
	"github.com/inquira/inquira/engine/kb/job"
	"github.com/inquira/inquira/engine/kb/rerank"
	"github.com/inquira/inquira/engine/kb/retriever"
	"github.com/inquira/inquira/engine/kb/service"
	"github.com/inquira/inquira/engine/kb/synth"
	"github.com/inquira/inquira/engine/kb/tokens"
	"github.com/inquira/inquira/engine/kb/vectordb"
	"github.com/inquira/inquira/pkg/config"
)

type appCfgKey struct{}

func withAppConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, appCfgKey{}, cfg)
}

func appConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(appCfgKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration missing from context")
	}
	return cfg, nil
}

// app bundles the wired component graph plus its teardown.
type app struct {
	service *service.Service
	jobs    *job.Orchestrator
	close   func(context.Context) error
}

// buildApp assembles the full pipeline from configuration. The vector
// store is acquired through the shared manager so ingestion and retrieval
// observe the same index.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	emb, err := embedder.New(&embedder.Config{
		Provider:  cfg.Embedder.Provider,
		Model:     cfg.Embedder.Model,
		APIKey:    cfg.Embedder.APIKey,
		Dimension: cfg.Embedder.Dimension,
		BatchSize: cfg.Embedder.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}
	if cfg.Embedder.CacheSize > 0 {
		if err := emb.EnableCache(cfg.Embedder.CacheSize); err != nil {
			return nil, fmt.Errorf("enable embedding cache: %w", err)
		}
	}
	batches, err := embedder.NewBatchManager(emb, embedder.BatchSettings{
		BatchSize:   cfg.Embedder.BatchSize,
		Parallelism: cfg.Embedder.Parallelism,
		MaxRetries:  cfg.Embedder.MaxRetries,
		Backoff:     cfg.Embedder.Backoff,
		MaxBackoff:  cfg.Embedder.MaxBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("build batch manager: %w", err)
	}
	var batchEmbedder job.BatchEmbedder = batches
	if cfg.Embedder.OnFailure == "zero" {
		batchEmbedder = embedder.ZeroFallback(batches)
	}
	store, release, err := vectordb.AcquireShared(ctx, &vectordb.Config{
		ID:         "default",
		Provider:   vectordb.Provider(cfg.VectorDB.Provider),
		DSN:        cfg.VectorDB.DSN,
		Path:       cfg.VectorDB.Path,
		Table:      cfg.VectorDB.Table,
		Collection: cfg.VectorDB.Collection,
		Namespace:  cfg.VectorDB.Namespace,
		Metric:     cfg.VectorDB.Metric,
		Dimension:  cfg.Embedder.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("acquire vector store: %w", err)
	}
	chunker, err := chunk.NewProcessor(chunk.Settings{
		Size:      cfg.Chunking.Size,
		Overlap:   cfg.Chunking.Overlap,
		MinTokens: cfg.Chunking.MinTokens,
		MaxChunks: cfg.Chunking.MaxChunks,
	}, tokens.NewCounter(cfg.Embedder.Model))
	if err != nil {
		release(ctx)
		return nil, fmt.Errorf("build chunker: %w", err)
	}
	jobs, err := job.New(job.Deps{
		Dedup:     dedup.NewCache(cfg.Cache.Retention),
		Extractor: extract.New(),
		Chunker:   chunker,
		Embedder:  batchEmbedder,
		Index:     store,
	}, job.Settings{
		MaxConcurrency: cfg.Jobs.MaxConcurrent,
		MaxJobs:        cfg.Jobs.MaxRetained,
		RetentionAge:   cfg.Jobs.RetainFor,
		SweepSpec:      cfg.Jobs.SweepSchedule,
	})
	if err != nil {
		release(ctx)
		return nil, fmt.Errorf("build job orchestrator: %w", err)
	}
	ret, err := retriever.NewService(emb, store, retriever.Settings{
		TopK:         cfg.Retrieval.TopK,
		MinScore:     cfg.Retrieval.MinScore,
		MMRLambda:    cfg.Retrieval.MMRLambda,
		VectorWeight: cfg.Retrieval.HybridWeight,
	})
	if err != nil {
		release(ctx)
		return nil, fmt.Errorf("build retriever: %w", err)
	}
	var reranker service.Reranker
	if cfg.Rerank.Endpoint != "" {
		adapter, err := rerank.New(&rerank.Config{
			BaseURL: cfg.Rerank.Endpoint,
			APIKey:  cfg.Rerank.APIKey,
			Model:   cfg.Rerank.Model,
			Timeout: cfg.Rerank.Timeout,
		})
		if err != nil {
			release(ctx)
			return nil, fmt.Errorf("build reranker: %w", err)
		}
		reranker = adapter
	}
	answerer, err := synth.New(&synth.Config{
		Provider:    cfg.Generation.Provider,
		Model:       cfg.Generation.Model,
		APIKey:      cfg.Generation.APIKey,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		Timeout:     cfg.Generation.Timeout,
	})
	if err != nil {
		release(ctx)
		return nil, fmt.Errorf("build synthesizer: %w", err)
	}
	svc, err := service.New(service.Deps{
		Jobs:      jobs,
		Retriever: ret,
		Reranker:  reranker,
		Synth:     answerer,
		Index:     store,
	}, service.Settings{
		Mode:      service.RetrievalMode(cfg.Retrieval.Mode),
		TopK:      cfg.Retrieval.TopK,
		RerankedK: cfg.Retrieval.RerankedK,
		MinScore:  cfg.Retrieval.MinScore,
		MMRLambda: cfg.Retrieval.MMRLambda,
	})
	if err != nil {
		release(ctx)
		return nil, fmt.Errorf("build service: %w", err)
	}
	return &app{
		service: svc,
		jobs:    jobs,
		close: func(ctx context.Context) error {
			jobs.Stop()
			return release(ctx)
		},
	}, nil
}
