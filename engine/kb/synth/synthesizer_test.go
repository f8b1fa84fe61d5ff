package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/inquira/inquira/engine/kb"
)

type stubModel struct {
	response   *llms.ContentResponse
	err        error
	lastPrompt string
}

func (s *stubModel) GenerateContent(
	_ context.Context,
	messages []llms.MessageContent,
	_ ...llms.CallOption,
) (*llms.ContentResponse, error) {
	for _, msg := range messages {
		if msg.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				s.lastPrompt = text.Text
			}
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func (s *stubModel) Call(_ context.Context, _ string, _ ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func sampleResults() []kb.RetrievalResult {
	return []kb.RetrievalResult{
		{
			Chunk: kb.DocumentChunk{
				ID:      "chunk-a",
				Content: "Redis supports vector sets.",
				Metadata: kb.ChunkMetadata{
					Source:     "redis.md",
					Section:    "Vectors",
					DocumentID: "doc-1",
					Position:   10,
				},
			},
			Score: 0.9,
		},
		{
			Chunk: kb.DocumentChunk{
				ID:      "chunk-b",
				Content: "Postgres needs the vector extension.",
				Metadata: kb.ChunkMetadata{
					Source:     "postgres.md",
					DocumentID: "doc-2",
				},
			},
			Score: 0.8,
		},
		{
			Chunk: kb.DocumentChunk{
				ID:      "chunk-c",
				Content: "Vector sets use VADD and VSIM.",
				Metadata: kb.ChunkMetadata{
					Source:     "redis.md",
					DocumentID: "doc-1",
				},
			},
			Score: 0.7,
		},
	}
}

func TestSynthesizer_Synthesize(t *testing.T) {
	ctx := context.Background()

	t.Run("Should build citations and group sources by document", func(t *testing.T) {
		model := &stubModel{response: &llms.ContentResponse{
			Choices: []*llms.ContentChoice{{
				Content: "Redis supports vector sets [1] and uses VADD [3].",
				GenerationInfo: map[string]any{
					"PromptTokens":     100,
					"CompletionTokens": 20,
					"TotalTokens":      120,
				},
			}},
		}}
		synthesizer, err := Wrap(&Config{}, model)
		require.NoError(t, err)
		answer := synthesizer.Synthesize(ctx, "how do redis vectors work?", sampleResults())
		assert.Contains(t, answer.Text, "[1]")
		require.Len(t, answer.Citations, 3)
		assert.Equal(t, 1, answer.Citations[0].Index)
		assert.Equal(t, "redis.md", answer.Citations[0].Source)
		require.Len(t, answer.Sources, 2)
		assert.Equal(t, "doc-1", string(answer.Sources[0].DocumentID))
		assert.Equal(t, []int{1, 3}, answer.Sources[0].Citations)
		assert.Equal(t, []int{2}, answer.Sources[1].Citations)
		assert.Equal(t, 120, answer.Usage.TotalTokens)
	})

	t.Run("Should number context entries in rank order", func(t *testing.T) {
		model := &stubModel{response: &llms.ContentResponse{
			Choices: []*llms.ContentChoice{{Content: "ok"}},
		}}
		synthesizer, err := Wrap(&Config{}, model)
		require.NoError(t, err)
		synthesizer.Synthesize(ctx, "question", sampleResults())
		require.NotEmpty(t, model.lastPrompt)
		first := strings.Index(model.lastPrompt, "[1] redis.md / Vectors")
		second := strings.Index(model.lastPrompt, "[2] postgres.md")
		assert.GreaterOrEqual(t, first, 0)
		assert.Greater(t, second, first)
		assert.Contains(t, model.lastPrompt, "Question: question")
	})

	t.Run("Should return the insufficient answer without calling the model", func(t *testing.T) {
		model := &stubModel{err: errors.New("must not be called")}
		synthesizer, err := Wrap(&Config{}, model)
		require.NoError(t, err)
		answer := synthesizer.Synthesize(ctx, "unknown topic", nil)
		assert.Equal(t, InsufficientAnswer, answer.Text)
		assert.Empty(t, answer.Citations)
		assert.Empty(t, model.lastPrompt)
	})

	t.Run("Should degrade to an apology on generation error", func(t *testing.T) {
		model := &stubModel{err: errors.New("deadline exceeded")}
		synthesizer, err := Wrap(&Config{}, model)
		require.NoError(t, err)
		answer := synthesizer.Synthesize(ctx, "question", sampleResults())
		assert.Equal(t, ApologyAnswer, answer.Text)
		assert.Empty(t, answer.Citations)
		assert.Zero(t, answer.Usage.TotalTokens)
	})
}
