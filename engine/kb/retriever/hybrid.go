package retriever

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/inquira/inquira/engine/kb"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"how": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "were": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"who": {}, "why": {}, "will": {}, "with": {},
}

// HybridRetrieve blends the vector score with a keyword-overlap score:
// final = w*vector + (1-w)*keyword, default w = 0.7. Keyword score counts
// whole-word occurrences of stop-word-filtered query terms, normalized by
// candidate word count.
func (s *Service) HybridRetrieve(
	ctx context.Context,
	query string,
	topK int,
) ([]kb.RetrievalResult, error) {
	results, err := s.Retrieve(ctx, query, topK, nil)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	terms := extractTerms(query)
	if len(terms) == 0 {
		return results, nil
	}
	weight := s.settings.VectorWeight
	for i := range results {
		keyword := keywordScore(terms, results[i].Chunk.Content)
		results[i].Score = weight*results[i].Score + (1-weight)*keyword
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// extractTerms lowercases the query, splits on non-alphanumeric runes, and
// drops stop words and single-character fragments.
func extractTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if len(field) < 2 {
			continue
		}
		if _, stop := stopWords[field]; stop {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		terms = append(terms, field)
	}
	return terms
}

// keywordScore counts whole-word term frequency normalized by content
// length in words.
func keywordScore(terms []string, content string) float64 {
	words := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return 0
	}
	wanted := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		wanted[term] = struct{}{}
	}
	hits := 0
	for _, word := range words {
		if _, ok := wanted[word]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}
