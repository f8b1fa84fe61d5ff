package chunk

import (
	"regexp"
	"strings"
)

var headerPatterns = []*regexp.Regexp{
	// Markdown ATX headers.
	regexp.MustCompile(`(?m)^#{1,6} +\S.*$`),
	// Setext headers: a text line underlined with = or - runs.
	regexp.MustCompile(`(?m)^\S.*\n(?:={3,}|-{3,}) *$`),
	// Numbered headings such as "1.", "2.3", "4)".
	regexp.MustCompile(`(?m)^\d+(?:\.\d+)*[.)]? +\S.*$`),
}

// splitSections labels regions of the document using whichever header
// pattern yields the most matches. Zero matches leaves the whole document as
// a single unlabeled section.
func splitSections(text string) []section {
	var best [][]int
	for _, pattern := range headerPatterns {
		matches := pattern.FindAllStringIndex(text, -1)
		if len(matches) > len(best) {
			best = matches
		}
	}
	if len(best) == 0 {
		return []section{{text: text}}
	}
	sections := make([]section, 0, len(best)+1)
	if best[0][0] > 0 {
		sections = append(sections, section{text: text[:best[0][0]]})
	}
	for i := range best {
		start := best[i][0]
		end := len(text)
		if i+1 < len(best) {
			end = best[i+1][0]
		}
		sections = append(sections, section{
			label:  headerLabel(text[best[i][0]:best[i][1]]),
			offset: start,
			text:   text[start:end],
		})
	}
	return sections
}

func headerLabel(header string) string {
	line := header
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(strings.TrimLeft(line, "# "))
}
