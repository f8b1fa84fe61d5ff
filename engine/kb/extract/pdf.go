package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/inquira/inquira/engine/kb"
)

// extractPDF reads the text layer of every page. PDFs with no text layer
// (scans) yield an extraction error rather than silent empty output.
func extractPDF(content []byte, filename string) (text string, err error) {
	defer func() {
		// the pdf parser panics on some malformed inputs
		if r := recover(); r != nil {
			text = ""
			err = kb.NewError(
				kb.ErrKindExtraction,
				fmt.Sprintf("corrupt PDF %q: %v", filename, r),
				nil,
			)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", kb.NewError(kb.ErrKindExtraction, fmt.Sprintf("corrupt PDF %q", filename), err)
	}
	builder := strings.Builder{}
	for page := 1; page <= reader.NumPage(); page++ {
		p := reader.Page(page)
		if p.V.IsNull() {
			continue
		}
		pageText, pageErr := p.GetPlainText(nil)
		if pageErr != nil {
			continue
		}
		builder.WriteString(pageText)
		builder.WriteString("\n")
	}
	result := strings.TrimSpace(builder.String())
	if result == "" {
		return "", kb.NewError(
			kb.ErrKindExtraction,
			fmt.Sprintf("PDF %q has no extractable text", filename),
			nil,
		)
	}
	return result, nil
}
