package tokens

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// HeuristicCounter approximates token counts without a tokenizer model:
// word count x 1.3 plus punctuation x 0.5, compared against rune count / 4,
// taking the larger. The two bounds track prose and dense/code-like text
// respectively.
type HeuristicCounter struct{}

func NewHeuristicCounter() *HeuristicCounter {
	return &HeuristicCounter{}
}

func (h *HeuristicCounter) CountTokens(_ context.Context, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	words := len(strings.Fields(text))
	punct := 0
	for _, r := range text {
		if unicode.IsPunct(r) {
			punct++
		}
	}
	byWords := float64(words)*1.3 + float64(punct)*0.5
	byChars := float64(utf8.RuneCountInString(text)) / 4
	estimate := byWords
	if byChars > estimate {
		estimate = byChars
	}
	count := int(estimate)
	if count == 0 {
		count = 1
	}
	return count, nil
}
