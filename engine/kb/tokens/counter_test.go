package tokens

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicCounter(t *testing.T) {
	counter := NewHeuristicCounter()
	t.Run("Should return zero for blank text", func(t *testing.T) {
		count, err := counter.CountTokens(context.Background(), "   \n\t ")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
	t.Run("Should scale with word count for prose", func(t *testing.T) {
		short, err := counter.CountTokens(context.Background(), "one two three")
		require.NoError(t, err)
		long, err := counter.CountTokens(context.Background(), "one two three four five six seven eight nine ten")
		require.NoError(t, err)
		assert.Greater(t, long, short)
		assert.GreaterOrEqual(t, short, 3)
	})
	t.Run("Should never report zero for non-blank text", func(t *testing.T) {
		count, err := counter.CountTokens(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
	t.Run("Should track rune count for dense unspaced text", func(t *testing.T) {
		count, err := counter.CountTokens(context.Background(), "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
		require.NoError(t, err)
		// one word but forty runes; the char bound dominates
		assert.GreaterOrEqual(t, count, 10)
	})
}

func TestNewCounter(t *testing.T) {
	t.Run("Should always return a usable counter", func(t *testing.T) {
		counter := NewCounter("text-embedding-3-small")
		require.NotNil(t, counter)
		count, err := counter.CountTokens(context.Background(), "hello world")
		require.NoError(t, err)
		assert.Positive(t, count)
	})
	t.Run("Should fall back for an unknown model name", func(t *testing.T) {
		counter := NewCounter("not-a-real-model")
		require.NotNil(t, counter)
		count, err := counter.CountTokens(context.Background(), "hello world")
		require.NoError(t, err)
		assert.Positive(t, count)
	})
}
