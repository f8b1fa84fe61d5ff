package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider is the embedding boundary the pipeline depends on. The external
// service is rate-limited; callers must treat transient failures as
// retry-worthy, not fatal.
type Provider interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config describes the embedding provider connection.
type Config struct {
	Provider      string
	Model         string
	APIKey        string
	Dimension     int
	BatchSize     int
	StripNewLines bool
}

// Adapter wraps a langchaingo embedder, prefixing errors with the
// provider/model pair and optionally caching vectors in an LRU keyed by a
// content hash of the text.
type Adapter struct {
	provider  string
	model     string
	dimension int
	impl      embeddings.Embedder

	mu    sync.Mutex
	cache *lru.Cache[string, []float32]
}

var (
	errMissingProvider  = errors.New("embedder provider is required")
	errMissingModel     = errors.New("embedder model is required")
	errInvalidDimension = errors.New("embedder dimension must be greater than zero")
)

// New constructs a provider-backed embedder adapter.
func New(cfg *Config) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	impl, err := buildProviderEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	return &Adapter{provider: cfg.Provider, model: cfg.Model, dimension: cfg.Dimension, impl: impl}, nil
}

// Wrap constructs an adapter around an existing langchaingo embedder,
// primarily for injecting test doubles.
func Wrap(cfg *Config, impl embeddings.Embedder) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder config is required")
	}
	if impl == nil {
		return nil, errors.New("embedder implementation is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Adapter{provider: cfg.Provider, model: cfg.Model, dimension: cfg.Dimension, impl: impl}, nil
}

// Dimension returns the configured vector dimension.
func (a *Adapter) Dimension() int {
	return a.dimension
}

// EnableCache turns on the embedding LRU with the given capacity.
func (a *Adapter) EnableCache(size int) error {
	if size <= 0 {
		return errors.New("embedder cache size must be greater than zero")
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return fmt.Errorf("embedder: init cache: %w", err)
	}
	a.mu.Lock()
	a.cache = cache
	a.mu.Unlock()
	return nil
}

// EmbedQuery embeds a single text, consulting the cache first when enabled.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := a.fromCache(text); ok {
		return vector, nil
	}
	vector, err := a.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, a.wrapErr(err)
	}
	a.toCache(text, vector)
	return vector, nil
}

// EmbedDocuments embeds a batch. With the cache enabled, only texts missing
// from the cache reach the provider, and repeated texts within the batch are
// sent once.
func (a *Adapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if !a.cacheEnabled() {
		vectors, err := a.impl.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, a.wrapErr(err)
		}
		return vectors, nil
	}
	results := make([][]float32, len(texts))
	missing := make([]string, 0, len(texts))
	positions := make(map[string][]int)
	for i, text := range texts {
		if vector, ok := a.fromCache(text); ok {
			results[i] = vector
			continue
		}
		if _, seen := positions[text]; !seen {
			missing = append(missing, text)
		}
		positions[text] = append(positions[text], i)
	}
	if len(missing) == 0 {
		return results, nil
	}
	embedded, err := a.impl.EmbedDocuments(ctx, missing)
	if err != nil {
		return nil, a.wrapErr(err)
	}
	if len(embedded) != len(missing) {
		return nil, a.wrapErr(fmt.Errorf("received %d embeddings for %d texts", len(embedded), len(missing)))
	}
	for i, text := range missing {
		for _, idx := range positions[text] {
			results[idx] = cloneVector(embedded[i])
		}
		a.toCache(text, embedded[i])
	}
	return results, nil
}

func (a *Adapter) cacheEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cache != nil
}

func (a *Adapter) fromCache(text string) ([]float32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache == nil {
		return nil, false
	}
	vector, ok := a.cache.Get(cacheKey(text))
	if !ok {
		return nil, false
	}
	return cloneVector(vector), true
}

func (a *Adapter) toCache(text string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache == nil {
		return
	}
	a.cache.Add(cacheKey(text), cloneVector(vector))
}

func (a *Adapter) wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("embedder %s/%s: %w", a.provider, a.model, err)
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Provider) == "" {
		return errMissingProvider
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return errMissingModel
	}
	if cfg.Dimension <= 0 {
		return errInvalidDimension
	}
	return nil
}

func buildProviderEmbedder(cfg *Config) (embeddings.Embedder, error) {
	switch cfg.Provider {
	case "openai", "":
		return buildOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("embedder provider %q is not supported", cfg.Provider)
	}
}

func buildOpenAIEmbedder(cfg *Config) (embeddings.Embedder, error) {
	clientOpts := []openai.Option{openai.WithEmbeddingModel(cfg.Model)}
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, openai.WithToken(cfg.APIKey))
	}
	client, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedder: init openai client: %w", err)
	}
	embedOpts := []embeddings.Option{embeddings.WithStripNewLines(cfg.StripNewLines)}
	if cfg.BatchSize > 0 {
		embedOpts = append(embedOpts, embeddings.WithBatchSize(cfg.BatchSize))
	}
	emb, err := embeddings.NewEmbedder(client, embedOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedder: construct openai embedder: %w", err)
	}
	return emb, nil
}
