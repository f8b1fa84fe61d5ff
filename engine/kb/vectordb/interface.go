package vectordb

import "context"

// Provider names a vector index backend.
type Provider string

const (
	ProviderMemory   Provider = "memory"
	ProviderPGVector Provider = "pgvector"
	ProviderQdrant   Provider = "qdrant"
	ProviderRedis    Provider = "redis"
	// ProviderFilesystem keeps the index in a local JSON snapshot.
	ProviderFilesystem Provider = "filesystem"
)

const defaultTopK = 5

// Record is one chunk as the index sees it: text plus its embedding and
// the metadata carried along for filtering and citations.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]any
}

// SearchOptions tunes a single similarity query.
type SearchOptions struct {
	TopK     int
	MinScore float64
	Filters  map[string]string
}

// Match is one similarity hit, highest score first.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]any
}

// Filter selects records for deletion, by ID and/or by metadata equality.
type Filter struct {
	IDs      []string
	Metadata map[string]string
}

// Stats describes the index for status surfaces.
type Stats struct {
	Provider  Provider
	Records   int64
	Dimension int
}

// Store is the contract every backend implements. Upsert overwrites on ID
// collision; Search never returns more than TopK matches.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error)
	Delete(ctx context.Context, filter Filter) error
	Stats(ctx context.Context) (Stats, error)
	Close(ctx context.Context) error
}

// Config carries normalized connection details for one index.
type Config struct {
	ID          string
	Provider    Provider
	DSN         string
	Path        string
	Table       string
	Collection  string
	Namespace   string
	Index       string
	EnsureIndex bool
	Metric      string
	Dimension   int
	Auth        map[string]string
	MaxTopK     int
}
