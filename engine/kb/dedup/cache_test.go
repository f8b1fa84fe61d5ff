package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquira/inquira/engine/core"
	"github.com/inquira/inquira/engine/kb"
)

func chunkOf(content string) kb.DocumentChunk {
	return kb.DocumentChunk{
		ID:       core.MustNewID(),
		Content:  content,
		Metadata: kb.ChunkMetadata{TokenCount: len(content)},
	}
}

func TestCache_IsDuplicate(t *testing.T) {
	t.Run("Should match registered content regardless of surrounding whitespace", func(t *testing.T) {
		cache := NewCache(time.Hour)
		cache.Register(kb.UploadedFile{Name: "a.md", Text: "hello world"}, nil)
		dup, entry := cache.IsDuplicate("  hello world\n")
		require.True(t, dup)
		assert.Equal(t, "a.md", entry.Filename)
	})
	t.Run("Should miss unknown content", func(t *testing.T) {
		cache := NewCache(time.Hour)
		dup, entry := cache.IsDuplicate("never seen")
		assert.False(t, dup)
		assert.Nil(t, entry)
	})
	t.Run("Should expire entries after the retention window", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		cache := NewCache(7*24*time.Hour, WithClock(func() time.Time { return now }))
		cache.Register(kb.UploadedFile{Name: "a.md", Text: "retained"}, []kb.DocumentChunk{chunkOf("piece")})

		now = now.Add(6 * 24 * time.Hour)
		dup, _ := cache.IsDuplicate("retained")
		assert.True(t, dup, "entry should survive inside the window")

		now = now.Add(2 * 24 * time.Hour)
		dup, _ = cache.IsDuplicate("retained")
		assert.False(t, dup, "entry should expire past the window")
		assert.Equal(t, 0, cache.Len())
	})
	t.Run("Should clear all chunk hashes when a document expires", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		cache := NewCache(24*time.Hour, WithClock(func() time.Time { return now }))
		cache.Register(kb.UploadedFile{Name: "old.md", Text: "old doc"}, []kb.DocumentChunk{chunkOf("shared piece")})

		unique, dupCount := cache.FilterDuplicateChunks([]kb.DocumentChunk{chunkOf("shared piece")})
		assert.Empty(t, unique)
		assert.Equal(t, 1, dupCount)

		now = now.Add(48 * time.Hour)
		cache.IsDuplicate("old doc") // trigger lazy expiry

		unique, dupCount = cache.FilterDuplicateChunks([]kb.DocumentChunk{chunkOf("shared piece")})
		assert.Len(t, unique, 1)
		assert.Equal(t, 0, dupCount)
	})
}

func TestCache_FilterBatch(t *testing.T) {
	t.Run("Should drop intra-batch repeats before registry checks", func(t *testing.T) {
		cache := NewCache(time.Hour)
		unique, duplicates := cache.FilterBatch([]kb.UploadedFile{
			{Name: "a.md", Text: "same"},
			{Name: "b.md", Text: "same"},
			{Name: "c.md", Text: "different"},
		})
		require.Len(t, unique, 2)
		require.Len(t, duplicates, 1)
		assert.Equal(t, "b.md", duplicates[0].Name)
	})
	t.Run("Should flag files already registered", func(t *testing.T) {
		cache := NewCache(time.Hour)
		cache.Register(kb.UploadedFile{Name: "past.md", Text: "known body"}, nil)
		unique, duplicates := cache.FilterBatch([]kb.UploadedFile{
			{Name: "new.md", Text: "known body"},
		})
		assert.Empty(t, unique)
		require.Len(t, duplicates, 1)
	})
	t.Run("Should hash raw bytes when no extracted text is present", func(t *testing.T) {
		cache := NewCache(time.Hour)
		unique, duplicates := cache.FilterBatch([]kb.UploadedFile{
			{Name: "a.bin", Content: []byte("payload one")},
			{Name: "b.bin", Content: []byte("payload two")},
		})
		assert.Len(t, unique, 2)
		assert.Empty(t, duplicates)
		assert.NotEqual(t, unique[0].ContentHash, unique[1].ContentHash)
	})
}

func TestCache_Register(t *testing.T) {
	t.Run("Should account chunk and token totals", func(t *testing.T) {
		cache := NewCache(time.Hour)
		cache.Register(kb.UploadedFile{Name: "doc.md", Text: "body"}, []kb.DocumentChunk{
			chunkOf("first"),
			chunkOf("second"),
		})
		dup, entry := cache.IsDuplicate("body")
		require.True(t, dup)
		assert.Equal(t, 2, entry.ChunkCount)
		assert.Equal(t, len("first")+len("second"), entry.TokenCount)
		assert.Equal(t, 1, cache.Len())
	})
}
