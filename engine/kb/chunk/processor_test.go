package chunk

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquira/inquira/engine/core"
	"github.com/inquira/inquira/engine/kb"
	"github.com/inquira/inquira/engine/kb/tokens"
)

func testSettings() Settings {
	return Settings{Size: 40, Overlap: 4, MinTokens: 1, MaxChunks: 100}
}

func longProse(paragraphs int) string {
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		b.WriteString("The retrieval pipeline splits every document into bounded pieces. ")
		b.WriteString("Each piece keeps enough surrounding context to stand on its own. ")
		b.WriteString("Scores are computed against the query embedding at search time.\n\n")
	}
	return b.String()
}

func TestProcessor_Process(t *testing.T) {
	base := kb.ChunkMetadata{
		Source:     "docs/pipeline.md",
		Title:      "pipeline",
		DocumentID: core.MustNewID(),
	}
	t.Run("Should produce contiguous overlapping chunks with token counts", func(t *testing.T) {
		processor, err := NewProcessor(testSettings(), tokens.NewHeuristicCounter())
		require.NoError(t, err)
		chunks, err := processor.Process(context.Background(), longProse(8), base)
		require.NoError(t, err)
		require.Greater(t, len(chunks), 1)
		for i, chunk := range chunks {
			assert.Equal(t, i, chunk.Metadata.ChunkIndex)
			assert.Equal(t, len(chunks), chunk.Metadata.TotalChunks)
			assert.Positive(t, chunk.Metadata.TokenCount)
			assert.Equal(t, base.Source, chunk.Metadata.Source)
			assert.Equal(t, base.DocumentID, chunk.Metadata.DocumentID)
			assert.NotEmpty(t, chunk.Content)
			if i > 0 {
				assert.Greater(t, chunk.Metadata.Position, chunks[i-1].Metadata.Position)
			}
		}
	})
	t.Run("Should derive the same chunk IDs for identical input", func(t *testing.T) {
		processor, err := NewProcessor(testSettings(), tokens.NewHeuristicCounter())
		require.NoError(t, err)
		first, err := processor.Process(context.Background(), longProse(4), base)
		require.NoError(t, err)
		second, err := processor.Process(context.Background(), longProse(4), base)
		require.NoError(t, err)
		require.Equal(t, len(first), len(second))
		for i := range first {
			assert.Equal(t, first[i].ID, second[i].ID)
		}
	})
	t.Run("Should label chunks with their markdown section", func(t *testing.T) {
		text := "# Installation\n\nRun the installer and follow the prompts carefully.\n\n" +
			"# Configuration\n\nEdit the settings file before the first start."
		processor, err := NewProcessor(testSettings(), tokens.NewHeuristicCounter())
		require.NoError(t, err)
		chunks, err := processor.Process(context.Background(), text, base)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		labels := make(map[string]bool)
		for _, chunk := range chunks {
			labels[chunk.Metadata.Section] = true
		}
		assert.True(t, labels["Installation"])
		assert.True(t, labels["Configuration"])
	})
	t.Run("Should stop at the chunk cap", func(t *testing.T) {
		settings := testSettings()
		settings.MaxChunks = 2
		processor, err := NewProcessor(settings, tokens.NewHeuristicCounter())
		require.NoError(t, err)
		chunks, err := processor.Process(context.Background(), longProse(10), base)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, 2, chunks[0].Metadata.TotalChunks)
	})
	t.Run("Should cut multi-byte text on rune boundaries", func(t *testing.T) {
		processor, err := NewProcessor(Settings{Size: 100, Overlap: 10, MinTokens: 1, MaxChunks: 1000}, tokens.NewHeuristicCounter())
		require.NoError(t, err)
		text := strings.Repeat("日", 4000)
		chunks, err := processor.Process(context.Background(), text, base)
		require.NoError(t, err)
		require.Greater(t, len(chunks), 1)
		for i, chunk := range chunks {
			assert.True(t, utf8.ValidString(chunk.Content), "chunk %d split a rune", i)
		}
	})
	t.Run("Should reconstruct unspaced text from overlapping chunks", func(t *testing.T) {
		processor, err := NewProcessor(Settings{Size: 100, Overlap: 10, MinTokens: 1, MaxChunks: 1000}, tokens.NewHeuristicCounter())
		require.NoError(t, err)
		text := strings.Repeat("知識を分かち合う。", 500)
		chunks, err := processor.Process(context.Background(), text, base)
		require.NoError(t, err)
		require.Greater(t, len(chunks), 1)
		rebuilt := chunks[0].Content
		endOffset := chunks[0].Metadata.Position + len(chunks[0].Content)
		for i, chunk := range chunks[1:] {
			require.LessOrEqual(t, chunk.Metadata.Position, endOffset, "gap before chunk %d", i+1)
			skip := endOffset - chunk.Metadata.Position
			require.Less(t, skip, len(chunk.Content), "chunk %d adds no new text", i+1)
			rebuilt += chunk.Content[skip:]
			endOffset = chunk.Metadata.Position + len(chunk.Content)
		}
		assert.Equal(t, Normalize(text), rebuilt)
	})
	t.Run("Should return nothing for blank input", func(t *testing.T) {
		processor, err := NewProcessor(testSettings(), tokens.NewHeuristicCounter())
		require.NoError(t, err)
		chunks, err := processor.Process(context.Background(), "   \n\n  ", base)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})
}

func TestNewProcessor(t *testing.T) {
	t.Run("Should reject overlap not smaller than size", func(t *testing.T) {
		_, err := NewProcessor(Settings{Size: 10, Overlap: 10, MinTokens: 1, MaxChunks: 10}, nil)
		require.Error(t, err)
	})
	t.Run("Should reject a non-positive size", func(t *testing.T) {
		_, err := NewProcessor(Settings{Size: 0, MinTokens: 1, MaxChunks: 10}, nil)
		require.Error(t, err)
	})
	t.Run("Should default to the heuristic counter", func(t *testing.T) {
		processor, err := NewProcessor(testSettings(), nil)
		require.NoError(t, err)
		chunks, err := processor.Process(context.Background(), "plain short text", kb.ChunkMetadata{})
		require.NoError(t, err)
		assert.NotEmpty(t, chunks)
	})
}

func TestNormalize(t *testing.T) {
	t.Run("Should unify line endings and collapse runs", func(t *testing.T) {
		got := Normalize("a\r\nb\r c\n\n\n\nd  \t e")
		assert.Equal(t, "a\nb\n c\n\nd e", got)
	})
}
