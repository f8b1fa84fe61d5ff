package chunk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/inquira/inquira/engine/kb"
	"github.com/inquira/inquira/engine/kb/tokens"
	"github.com/inquira/inquira/pkg/logger"
)

// Separators searched backward from the estimated cut point, strongest
// boundary first: paragraph, line, sentence punctuation, clause punctuation,
// space.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " "}

const (
	defaultCharsPerToken = 4.0
	minCharsPerToken     = 1.0
	maxCharsPerToken     = 8.0
	// Chunks measuring beyond this multiple of the target size are re-split
	// at a tighter boundary before being accepted.
	oversizeFactor = 1.5
)

// Processor splits normalized document text into token-bounded overlapping
// chunks with positional metadata. One Processor uses one token counter for
// its lifetime so estimated and measured boundaries stay consistent.
type Processor struct {
	settings Settings
	counter  tokens.Counter
}

// NewProcessor builds a processor with validated settings.
func NewProcessor(settings Settings, counter tokens.Counter) (*Processor, error) {
	if settings.Size <= 0 {
		return nil, errors.New("chunk: size must be greater than zero")
	}
	if settings.Overlap < 0 {
		return nil, errors.New("chunk: overlap cannot be negative")
	}
	if settings.Overlap >= settings.Size {
		return nil, fmt.Errorf("chunk: overlap %d must be smaller than size %d", settings.Overlap, settings.Size)
	}
	if settings.MinTokens < 0 {
		return nil, errors.New("chunk: min tokens cannot be negative")
	}
	if settings.MaxChunks <= 0 {
		return nil, errors.New("chunk: max chunks must be greater than zero")
	}
	if counter == nil {
		counter = tokens.NewHeuristicCounter()
	}
	return &Processor{settings: settings, counter: counter}, nil
}

// Process normalizes text, splits it into labeled sections, and produces
// overlapping chunks. Every returned chunk carries the final TotalChunks
// count; ChunkIndex values form a contiguous range starting at zero.
func (p *Processor) Process(ctx context.Context, text string, base kb.ChunkMetadata) ([]kb.DocumentChunk, error) {
	normalized := Normalize(text)
	if normalized == "" {
		return nil, nil
	}
	chunks := make([]kb.DocumentChunk, 0, 8)
	truncated := false
	for _, sec := range splitSections(normalized) {
		done, err := p.processSection(ctx, sec, base, &chunks)
		if err != nil {
			return nil, err
		}
		if done {
			truncated = true
			break
		}
	}
	if truncated {
		logger.FromContext(ctx).Warn(
			"Chunk cap reached, remaining document text dropped",
			"document_id", base.DocumentID,
			"source", base.Source,
			"max_chunks", p.settings.MaxChunks,
		)
	}
	for i := range chunks {
		chunks[i].Metadata.ChunkIndex = i
		chunks[i].Metadata.TotalChunks = len(chunks)
	}
	return chunks, nil
}

// processSection appends chunks for one section. It reports true when the
// document-level chunk cap was hit and processing must stop.
func (p *Processor) processSection(
	ctx context.Context,
	sec section,
	base kb.ChunkMetadata,
	chunks *[]kb.DocumentChunk,
) (bool, error) {
	text := sec.text
	if strings.TrimSpace(text) == "" {
		return false, nil
	}
	ratio, err := p.charsPerToken(ctx, text)
	if err != nil {
		return false, err
	}
	windowChars := int(float64(p.settings.Size) * ratio)
	if windowChars < 1 {
		windowChars = 1
	}
	overlapChars := int(float64(p.settings.Overlap) * ratio)
	start := 0
	for start < len(text) {
		if len(*chunks) >= p.settings.MaxChunks {
			return true, nil
		}
		end := p.cutPoint(text, start, start+windowChars)
		actual, err := p.counter.CountTokens(ctx, text[start:end])
		if err != nil {
			return false, fmt.Errorf("chunk: token count failed: %w", err)
		}
		if float64(actual) > oversizeFactor*float64(p.settings.Size) && end-start > 1 {
			tighter := start + (end-start)*p.settings.Size/actual
			if tighter > start {
				end = p.cutPoint(text, start, tighter)
				actual, err = p.counter.CountTokens(ctx, text[start:end])
				if err != nil {
					return false, fmt.Errorf("chunk: token count failed: %w", err)
				}
			}
		}
		content := strings.TrimSpace(text[start:end])
		if content != "" && actual >= p.settings.MinTokens {
			meta := base
			meta.Section = sec.label
			meta.Position = sec.offset + start
			meta.TokenCount = actual
			*chunks = append(*chunks, kb.DocumentChunk{
				ID:       chunkID(base.DocumentID.String(), len(*chunks), content),
				Content:  content,
				Metadata: meta,
			})
		}
		if end >= len(text) {
			break
		}
		next := runeStart(text, end-overlapChars)
		if next <= start {
			// Forward progress of at least one rune prevents loops when the
			// overlap swallows the whole window.
			_, size := utf8.DecodeRuneInString(text[start:])
			next = start + size
		}
		start = next
	}
	return false, nil
}

// cutPoint finds the best boundary at or before target, searching the
// separator ladder first, then any whitespace rune, then the nearest rune
// boundary at the raw offset. Every returned offset lands on a rune start
// so no chunk ever splits a multi-byte character.
func (p *Processor) cutPoint(text string, start, target int) int {
	if target >= len(text) {
		return len(text)
	}
	target = runeStart(text, target)
	if target <= start {
		_, size := utf8.DecodeRuneInString(text[start:])
		return start + size
	}
	window := text[start:target]
	for _, sep := range separators {
		if idx := strings.LastIndex(window, sep); idx > 0 {
			return start + idx + len(sep)
		}
	}
	for i := len(window); i > 0; {
		r, size := utf8.DecodeLastRuneInString(window[:i])
		i -= size
		if i > 0 && unicode.IsSpace(r) {
			return start + i + size
		}
	}
	return target
}

// runeStart walks pos back to the nearest rune boundary at or before it.
func runeStart(text string, pos int) int {
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}

func (p *Processor) charsPerToken(ctx context.Context, text string) (float64, error) {
	count, err := p.counter.CountTokens(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("chunk: token count failed: %w", err)
	}
	if count <= 0 {
		return defaultCharsPerToken, nil
	}
	ratio := float64(len(text)) / float64(count)
	if ratio < minCharsPerToken {
		return minCharsPerToken, nil
	}
	if ratio > maxCharsPerToken {
		return maxCharsPerToken, nil
	}
	return ratio, nil
}
