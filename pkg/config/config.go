package config

import "time"

// Config is the static configuration surface for the knowledge pipeline.
// Values are fixed at process start; callers never negotiate them at runtime.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Chunking   ChunkingConfig   `koanf:"chunking"   validate:"required"`
	Embedder   EmbedderConfig   `koanf:"embedder"   validate:"required"`
	VectorDB   VectorDBConfig   `koanf:"vectordb"   validate:"required"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"  validate:"required"`
	Rerank     RerankConfig     `koanf:"rerank"`
	Generation GenerationConfig `koanf:"generation"`
	Jobs       JobsConfig       `koanf:"jobs"       validate:"required"`
	Cache      CacheConfig      `koanf:"cache"      validate:"required"`
	Sources    SourcesConfig    `koanf:"sources"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error disabled"`
	JSON  bool   `koanf:"json"`
}

type ChunkingConfig struct {
	Size      int `koanf:"size"       validate:"gt=0"`
	Overlap   int `koanf:"overlap"    validate:"gte=0"`
	MinTokens int `koanf:"min_tokens" validate:"gt=0"`
	MaxChunks int `koanf:"max_chunks" validate:"gt=0"`
}

type EmbedderConfig struct {
	Provider    string        `koanf:"provider"     validate:"required"`
	Model       string        `koanf:"model"        validate:"required"`
	APIKey      string        `koanf:"api_key"`
	Dimension   int           `koanf:"dimension"    validate:"gt=0"`
	BatchSize   int           `koanf:"batch_size"   validate:"gt=0"`
	Parallelism int           `koanf:"parallelism"  validate:"gt=0"`
	MaxRetries  int           `koanf:"max_retries"  validate:"gt=0"`
	Backoff     time.Duration `koanf:"backoff"`
	MaxBackoff  time.Duration `koanf:"max_backoff"`
	CacheSize   int           `koanf:"cache_size"   validate:"gte=0"`
	// OnFailure picks what happens to chunks whose embedding exhausts
	// retries: "skip" drops them, "zero" indexes a zero vector in place.
	OnFailure string `koanf:"on_failure" validate:"omitempty,oneof=skip zero"`
}

type VectorDBConfig struct {
	Provider   string `koanf:"provider" validate:"required,oneof=memory pgvector qdrant redis filesystem"`
	DSN        string `koanf:"dsn"`
	Path       string `koanf:"path"`
	Table      string `koanf:"table"`
	Collection string `koanf:"collection"`
	Namespace  string `koanf:"namespace"`
	Metric     string `koanf:"metric"`
}

type RetrievalConfig struct {
	Mode         string  `koanf:"mode"          validate:"omitempty,oneof=similarity mmr hybrid"`
	TopK         int     `koanf:"top_k"         validate:"gt=0"`
	RerankedK    int     `koanf:"reranked_k"    validate:"gt=0"`
	MinScore     float64 `koanf:"min_score"     validate:"gte=0,lte=1"`
	MMRLambda    float64 `koanf:"mmr_lambda"    validate:"gte=0,lte=1"`
	HybridWeight float64 `koanf:"hybrid_weight" validate:"gte=0,lte=1"`
}

type RerankConfig struct {
	Endpoint string        `koanf:"endpoint"`
	APIKey   string        `koanf:"api_key"`
	Model    string        `koanf:"model"`
	Timeout  time.Duration `koanf:"timeout"`
}

type GenerationConfig struct {
	Provider    string        `koanf:"provider"`
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	Temperature float64       `koanf:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `koanf:"max_tokens"  validate:"gte=0"`
	Timeout     time.Duration `koanf:"timeout"`
}

type JobsConfig struct {
	MaxConcurrent int           `koanf:"max_concurrent" validate:"gt=0"`
	MaxRetained   int           `koanf:"max_retained"   validate:"gt=0"`
	RetainFor     time.Duration `koanf:"retain_for"`
	SweepSchedule string        `koanf:"sweep_schedule"`
}

type CacheConfig struct {
	Retention time.Duration `koanf:"retention"`
}

type SourcesConfig struct {
	Root        string `koanf:"root"`
	MaxFileSize int64  `koanf:"max_file_size" validate:"gte=0"`
}

// Default returns the baseline configuration before env overrides.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Chunking: ChunkingConfig{
			Size:      300,
			Overlap:   30,
			MinTokens: 30,
			MaxChunks: 500,
		},
		Embedder: EmbedderConfig{
			Provider:    "openai",
			Model:       "text-embedding-3-small",
			Dimension:   1536,
			BatchSize:   10,
			Parallelism: 3,
			MaxRetries:  3,
			Backoff:     200 * time.Millisecond,
			MaxBackoff:  5 * time.Second,
			CacheSize:   2048,
			OnFailure:   "skip",
		},
		VectorDB: VectorDBConfig{
			Provider:   "memory",
			Table:      "inquira_chunks",
			Collection: "inquira",
			Metric:     "cosine",
		},
		Retrieval: RetrievalConfig{
			Mode:         "similarity",
			TopK:         10,
			RerankedK:    5,
			MinScore:     0.0,
			MMRLambda:    0.7,
			HybridWeight: 0.7,
		},
		Rerank: RerankConfig{
			Model:   "rerank-english-v3.0",
			Timeout: 15 * time.Second,
		},
		Generation: GenerationConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   1024,
			Timeout:     45 * time.Second,
		},
		Jobs: JobsConfig{
			MaxConcurrent: 2,
			MaxRetained:   100,
			RetainFor:     24 * time.Hour,
			SweepSchedule: "@hourly",
		},
		Cache: CacheConfig{
			Retention: 7 * 24 * time.Hour,
		},
		Sources: SourcesConfig{
			Root:        ".",
			MaxFileSize: 8 * 1024 * 1024,
		},
	}
}
