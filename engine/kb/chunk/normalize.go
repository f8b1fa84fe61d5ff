package chunk

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	newlinePattern  = regexp.MustCompile(`\r\n|\r`)
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
	spaceRunPattern = regexp.MustCompile(`[ \t]{2,}`)
)

// Normalize applies Unicode NFC, unifies line endings, collapses
// blank-line and whitespace runs, and trims the document. Chunk positions
// are offsets into this normalized form, so retrieval-side consumers must
// apply the same transformation.
func Normalize(text string) string {
	normalized := norm.NFC.String(text)
	normalized = newlinePattern.ReplaceAllString(normalized, "\n")
	normalized = blankRunPattern.ReplaceAllString(normalized, "\n\n")
	normalized = spaceRunPattern.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}
