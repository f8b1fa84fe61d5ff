package vectordb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_AcquireShared(t *testing.T) {
	ctx := context.Background()

	t.Run("Should reuse the store for the same config ID", func(t *testing.T) {
		manager := NewManager()
		cfg := &Config{ID: "shared", Provider: ProviderMemory, Dimension: 4}
		first, releaseFirst, err := manager.AcquireShared(ctx, cfg)
		require.NoError(t, err)
		second, releaseSecond, err := manager.AcquireShared(ctx, cfg)
		require.NoError(t, err)
		assert.Same(t, first, second)
		require.NoError(t, releaseFirst(ctx))
		require.NoError(t, releaseSecond(ctx))
	})

	t.Run("Should reject a config mismatch for the same ID", func(t *testing.T) {
		manager := NewManager()
		_, release, err := manager.AcquireShared(ctx, &Config{ID: "clash", Provider: ProviderMemory, Dimension: 4})
		require.NoError(t, err)
		defer func() { require.NoError(t, release(ctx)) }()
		_, _, err = manager.AcquireShared(ctx, &Config{ID: "clash", Provider: ProviderMemory, Dimension: 8})
		require.Error(t, err)
	})

	t.Run("Should instantiate a fresh store after full release", func(t *testing.T) {
		manager := NewManager()
		cfg := &Config{ID: "fresh", Provider: ProviderMemory, Dimension: 2}
		store, release, err := manager.AcquireShared(ctx, cfg)
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, []Record{{ID: "x", Embedding: []float32{1, 0}}}))
		require.NoError(t, release(ctx))
		reopened, release, err := manager.AcquireShared(ctx, cfg)
		require.NoError(t, err)
		defer func() { require.NoError(t, release(ctx)) }()
		stats, err := reopened.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Records)
	})
}
