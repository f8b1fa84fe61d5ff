package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "INQUIRA_"

// Load composes defaults with INQUIRA_* environment overrides and validates
// the result. INQUIRA_CHUNKING_SIZE maps to chunking.size and so on.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: failed to load defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			// Section names carry no underscore, so only the first one is a
			// separator: EMBEDDER_MAX_RETRIES -> embedder.max_retries.
			return strings.Replace(key, "_", ".", 1), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("config: failed to load environment: %w", err)
	}
	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags plus cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: configuration is required")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	if cfg.Chunking.Overlap >= cfg.Chunking.Size {
		return fmt.Errorf(
			"config: chunking overlap %d must be smaller than size %d",
			cfg.Chunking.Overlap, cfg.Chunking.Size,
		)
	}
	if cfg.Retrieval.RerankedK > cfg.Retrieval.TopK {
		return fmt.Errorf(
			"config: reranked_k %d cannot exceed top_k %d",
			cfg.Retrieval.RerankedK, cfg.Retrieval.TopK,
		)
	}
	return nil
}
