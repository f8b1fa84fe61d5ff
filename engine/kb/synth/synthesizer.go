package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/inquira/inquira/engine/kb"
	"github.com/inquira/inquira/pkg/logger"
)

const (
	// InsufficientAnswer is returned without calling the generation service
	// when retrieval produced nothing to cite.
	InsufficientAnswer = "I don't have enough information in the knowledge base to answer that question."
	// ApologyAnswer is the degraded response when generation fails or times
	// out. Queries never hard-fail the caller.
	ApologyAnswer = "I'm sorry, I wasn't able to generate an answer right now. Please try again."
)

const systemPrompt = `You are a knowledge base assistant. Answer the question using only the numbered context entries provided.
Cite every claim with the bracketed index of the entry that supports it, like [1] or [2].
If the context does not contain enough information to answer, say so plainly instead of guessing.`

const defaultTimeout = 30 * time.Second

// Config describes the generation service.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Synthesizer builds citation-annotated answers from retrieval results.
type Synthesizer struct {
	model   llms.Model
	cfg     *Config
	timeout time.Duration
}

// New constructs a synthesizer backed by the configured provider.
func New(cfg *Config) (*Synthesizer, error) {
	model, err := buildModel(cfg)
	if err != nil {
		return nil, err
	}
	return Wrap(cfg, model)
}

// Wrap builds a synthesizer around an existing model. Used to inject test
// doubles.
func Wrap(cfg *Config, model llms.Model) (*Synthesizer, error) {
	if model == nil {
		return nil, errors.New("synth: generation model is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Synthesizer{model: model, cfg: cfg, timeout: timeout}, nil
}

func buildModel(cfg *Config) (llms.Model, error) {
	if cfg == nil {
		return nil, errors.New("synth: config is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		opts := []openai.Option{}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("synth: provider %q is not supported", cfg.Provider)
	}
}

// Synthesize builds the numbered context block, calls the generation
// service, and assembles citations and per-document sources. Generation
// failures degrade to ApologyAnswer with zero usage.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, results []kb.RetrievalResult) kb.Answer {
	if len(results) == 0 {
		return kb.Answer{Text: InsufficientAnswer}
	}
	citations := buildCitations(results)
	sources := buildSources(results)
	text, usage, err := s.generate(ctx, query, results)
	if err != nil {
		logger.FromContext(ctx).Error("Answer generation failed", "error", err)
		return kb.Answer{Text: ApologyAnswer}
	}
	return kb.Answer{
		Text:      text,
		Citations: citations,
		Sources:   sources,
		Usage:     usage,
	}
}

func (s *Synthesizer) generate(
	ctx context.Context,
	query string,
	results []kb.RetrievalResult,
) (string, kb.TokenUsage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildUserPrompt(query, results)),
	}
	options := []llms.CallOption{}
	if s.cfg.Temperature > 0 {
		options = append(options, llms.WithTemperature(s.cfg.Temperature))
	}
	if s.cfg.MaxTokens > 0 {
		options = append(options, llms.WithMaxTokens(s.cfg.MaxTokens))
	}
	response, err := s.model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return "", kb.TokenUsage{}, kb.NewError(kb.ErrKindGeneration, "generate answer", err)
	}
	if len(response.Choices) == 0 {
		return "", kb.TokenUsage{}, kb.NewError(kb.ErrKindGeneration, "generation returned no choices", nil)
	}
	choice := response.Choices[0]
	return choice.Content, usageFromInfo(choice.GenerationInfo), nil
}

func buildUserPrompt(query string, results []kb.RetrievalResult) string {
	builder := strings.Builder{}
	builder.WriteString("Context:\n")
	for i, res := range results {
		builder.WriteString(fmt.Sprintf("[%d]", i+1))
		if src := res.Chunk.Metadata.Source; src != "" {
			builder.WriteString(" ")
			builder.WriteString(src)
			if section := res.Chunk.Metadata.Section; section != "" {
				builder.WriteString(" / ")
				builder.WriteString(section)
			}
		}
		builder.WriteString("\n")
		builder.WriteString(res.Chunk.Content)
		builder.WriteString("\n\n")
	}
	builder.WriteString("Question: ")
	builder.WriteString(query)
	return builder.String()
}

func buildCitations(results []kb.RetrievalResult) []kb.Citation {
	citations := make([]kb.Citation, len(results))
	for i, res := range results {
		citations[i] = kb.Citation{
			Index:    i + 1,
			ChunkID:  res.Chunk.ID,
			Text:     res.Chunk.Content,
			Source:   res.Chunk.Metadata.Source,
			Section:  res.Chunk.Metadata.Section,
			Position: res.Chunk.Metadata.Position,
		}
	}
	return citations
}

// buildSources groups citations by document in first-seen order.
func buildSources(results []kb.RetrievalResult) []kb.SourceDocument {
	sources := make([]kb.SourceDocument, 0, len(results))
	index := make(map[string]int, len(results))
	for i, res := range results {
		docID := string(res.Chunk.Metadata.DocumentID)
		pos, ok := index[docID]
		if !ok {
			pos = len(sources)
			index[docID] = pos
			sources = append(sources, kb.SourceDocument{
				DocumentID: res.Chunk.Metadata.DocumentID,
				Source:     res.Chunk.Metadata.Source,
				Title:      res.Chunk.Metadata.Title,
			})
		}
		sources[pos].Citations = append(sources[pos].Citations, i+1)
	}
	return sources
}

func usageFromInfo(info map[string]any) kb.TokenUsage {
	return kb.TokenUsage{
		PromptTokens:     intFromInfo(info, "PromptTokens"),
		CompletionTokens: intFromInfo(info, "CompletionTokens"),
		TotalTokens:      intFromInfo(info, "TotalTokens"),
	}
}

func intFromInfo(info map[string]any, key string) int {
	if info == nil {
		return 0
	}
	switch typed := info[key].(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	default:
		return 0
	}
}
