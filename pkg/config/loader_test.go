package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Should produce valid defaults without environment overrides", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.VectorDB.Provider)
		assert.Equal(t, "similarity", cfg.Retrieval.Mode)
		assert.Equal(t, 2, cfg.Jobs.MaxConcurrent)
		assert.Equal(t, 7*24*time.Hour, cfg.Cache.Retention)
	})
	t.Run("Should map prefixed environment variables onto sections", func(t *testing.T) {
		t.Setenv("INQUIRA_CHUNKING_SIZE", "512")
		t.Setenv("INQUIRA_EMBEDDER_MAX_RETRIES", "5")
		t.Setenv("INQUIRA_RETRIEVAL_MODE", "mmr")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 512, cfg.Chunking.Size)
		assert.Equal(t, 5, cfg.Embedder.MaxRetries)
		assert.Equal(t, "mmr", cfg.Retrieval.Mode)
	})
	t.Run("Should reject an invalid override", func(t *testing.T) {
		t.Setenv("INQUIRA_VECTORDB_PROVIDER", "cassandra")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("Should reject overlap not smaller than chunk size", func(t *testing.T) {
		cfg := Default()
		cfg.Chunking.Overlap = cfg.Chunking.Size
		require.Error(t, Validate(cfg))
	})
	t.Run("Should reject reranked_k above top_k", func(t *testing.T) {
		cfg := Default()
		cfg.Retrieval.RerankedK = cfg.Retrieval.TopK + 1
		require.Error(t, Validate(cfg))
	})
	t.Run("Should reject an unknown retrieval mode", func(t *testing.T) {
		cfg := Default()
		cfg.Retrieval.Mode = "fuzzy"
		require.Error(t, Validate(cfg))
	})
	t.Run("Should reject a nil configuration", func(t *testing.T) {
		require.Error(t, Validate(nil))
	})
}
