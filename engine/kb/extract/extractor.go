package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/inquira/inquira/engine/kb"
	"github.com/inquira/inquira/pkg/logger"
)

// Media types the extractor accepts. Detection falls back to content
// sniffing when the upload declares no type.
const (
	mediaTypePlain    = "text/plain"
	mediaTypeMarkdown = "text/markdown"
	mediaTypePDF      = "application/pdf"
	mediaTypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Service turns uploaded bytes into plain text. One failed file never
// aborts its siblings; callers get a structured extraction error naming
// the format.
type Service struct{}

func New() *Service {
	return &Service{}
}

// Extract resolves the media type and dispatches to a format handler.
func (s *Service) Extract(ctx context.Context, content []byte, filename string, mediaType string) (string, error) {
	if len(content) == 0 {
		return "", kb.NewError(kb.ErrKindExtraction, fmt.Sprintf("file %q is empty", filename), nil)
	}
	resolved := resolveMediaType(content, filename, mediaType)
	logger.FromContext(ctx).Debug("Extracting text", "file", filename, "media_type", resolved)
	switch resolved {
	case mediaTypePlain, mediaTypeMarkdown:
		return extractText(content, filename)
	case mediaTypePDF:
		return extractPDF(content, filename)
	case mediaTypeDOCX:
		return extractDOCX(content, filename)
	default:
		return "", kb.NewError(
			kb.ErrKindExtraction,
			fmt.Sprintf("unsupported format %q for file %q", resolved, filename),
			nil,
		)
	}
}

// resolveMediaType prefers the declared type, then sniffed content, then
// the filename extension for formats sniffing reports as generic.
func resolveMediaType(content []byte, filename string, declared string) string {
	if normalized := normalizeMediaType(declared); normalized != "" {
		return normalized
	}
	detected := mimetype.Detect(content)
	for mt := detected; mt != nil; mt = mt.Parent() {
		if normalized := normalizeMediaType(mt.String()); normalized != "" {
			if normalized == mediaTypePlain && hasMarkdownExtension(filename) {
				return mediaTypeMarkdown
			}
			return normalized
		}
	}
	return detected.String()
}

func normalizeMediaType(raw string) string {
	base := strings.TrimSpace(raw)
	if idx := strings.Index(base, ";"); idx >= 0 {
		base = strings.TrimSpace(base[:idx])
	}
	switch base {
	case mediaTypePlain, mediaTypeMarkdown, mediaTypePDF, mediaTypeDOCX:
		return base
	case "text/x-markdown":
		return mediaTypeMarkdown
	default:
		return ""
	}
}

func hasMarkdownExtension(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}

func extractText(content []byte, filename string) (string, error) {
	trimmed := bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(trimmed) {
		return "", kb.NewError(
			kb.ErrKindExtraction,
			fmt.Sprintf("text file %q is not valid UTF-8", filename),
			nil,
		)
	}
	return string(trimmed), nil
}
