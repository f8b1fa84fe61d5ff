package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyProvider fails configured texts permanently and counts calls.
type flakyProvider struct {
	mu        sync.Mutex
	calls     map[string]int
	failTexts map[string]bool
	failUntil map[string]int
	dimension int
}

func newFlakyProvider() *flakyProvider {
	return &flakyProvider{
		calls:     make(map[string]int),
		failTexts: make(map[string]bool),
		failUntil: make(map[string]int),
		dimension: 3,
	}
}

func (p *flakyProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[text]++
	if p.failTexts[text] {
		return nil, errors.New("provider unavailable")
	}
	if until, ok := p.failUntil[text]; ok && p.calls[text] <= until {
		return nil, errors.New("transient failure")
	}
	return []float32{1, 0, 0}, nil
}

func (p *flakyProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := p.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vector
	}
	return out, nil
}

func (p *flakyProvider) Dimension() int {
	return p.dimension
}

func (p *flakyProvider) callCount(text string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[text]
}

func testBatchSettings() BatchSettings {
	return BatchSettings{
		BatchSize:   10,
		Parallelism: 3,
		MaxRetries:  2,
		Backoff:     time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("text-%03d", i)
	}
	return out
}

func TestBatchManager_EmbedMany(t *testing.T) {
	t.Run("Should embed every text and report progress", func(t *testing.T) {
		provider := newFlakyProvider()
		manager, err := NewBatchManager(provider, testBatchSettings())
		require.NoError(t, err)

		var lastCompleted, lastTotal int
		result, err := manager.EmbedMany(context.Background(), texts(100), func(completed, total, failed int) {
			lastCompleted, lastTotal = completed, total
			assert.Zero(t, failed)
		})
		require.NoError(t, err)
		assert.Empty(t, result.FailedIndices)
		assert.Len(t, result.Compact(), 100)
		assert.Equal(t, 100, lastCompleted)
		assert.Equal(t, 100, lastTotal)
	})
	t.Run("Should report failed indices without aborting the batch", func(t *testing.T) {
		provider := newFlakyProvider()
		provider.failTexts["text-010"] = true
		provider.failTexts["text-055"] = true
		manager, err := NewBatchManager(provider, testBatchSettings())
		require.NoError(t, err)

		result, err := manager.EmbedMany(context.Background(), texts(100), nil)
		require.NoError(t, err)
		assert.Equal(t, []int{10, 55}, result.FailedIndices)
		assert.Len(t, result.Compact(), 98)
		assert.Nil(t, result.Vectors[10])
		assert.NotNil(t, result.Vectors[9])
	})
	t.Run("Should retry transient failures before giving up", func(t *testing.T) {
		provider := newFlakyProvider()
		provider.failUntil["text-000"] = 2
		manager, err := NewBatchManager(provider, testBatchSettings())
		require.NoError(t, err)

		result, err := manager.EmbedMany(context.Background(), texts(1), nil)
		require.NoError(t, err)
		assert.Empty(t, result.FailedIndices)
		assert.Equal(t, 3, provider.callCount("text-000"))
	})
	t.Run("Should return an empty result for no texts", func(t *testing.T) {
		manager, err := NewBatchManager(newFlakyProvider(), testBatchSettings())
		require.NoError(t, err)
		result, err := manager.EmbedMany(context.Background(), nil, nil)
		require.NoError(t, err)
		assert.Empty(t, result.Vectors)
	})
	t.Run("Should stop on context cancellation", func(t *testing.T) {
		manager, err := NewBatchManager(newFlakyProvider(), testBatchSettings())
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = manager.EmbedMany(ctx, texts(30), nil)
		require.Error(t, err)
	})
}

func TestBatchManager_EmbedWithFallback(t *testing.T) {
	t.Run("Should substitute zero vectors for permanent failures", func(t *testing.T) {
		provider := newFlakyProvider()
		provider.failTexts["text-001"] = true
		manager, err := NewBatchManager(provider, testBatchSettings())
		require.NoError(t, err)

		result, err := manager.EmbedWithFallback(context.Background(), texts(3), nil)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, result.FailedIndices)
		require.Len(t, result.Vectors, 3)
		assert.Equal(t, make([]float32, 3), result.Vectors[1])
	})
	t.Run("Should expose the fallback path through EmbedMany when wrapped", func(t *testing.T) {
		provider := newFlakyProvider()
		provider.failTexts["text-002"] = true
		manager, err := NewBatchManager(provider, testBatchSettings())
		require.NoError(t, err)

		result, err := ZeroFallback(manager).EmbedMany(context.Background(), texts(3), nil)
		require.NoError(t, err)
		assert.Equal(t, []int{2}, result.FailedIndices)
		require.Len(t, result.Vectors, 3)
		for i, vector := range result.Vectors {
			assert.NotNil(t, vector, "vector %d must be present", i)
		}
		assert.Equal(t, make([]float32, 3), result.Vectors[2])
	})
}

func TestNewBatchManager(t *testing.T) {
	t.Run("Should reject a nil provider", func(t *testing.T) {
		_, err := NewBatchManager(nil, testBatchSettings())
		require.Error(t, err)
	})
	t.Run("Should reject a non-positive batch size", func(t *testing.T) {
		settings := testBatchSettings()
		settings.BatchSize = 0
		_, err := NewBatchManager(newFlakyProvider(), settings)
		require.Error(t, err)
	})
}
