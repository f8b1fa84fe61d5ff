package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/inquira/inquira/engine/kb"
)

// docxDocument models the subset of WordprocessingML we read: paragraphs
// of text runs inside word/document.xml.
type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []struct {
		Text []string `xml:"t"`
	} `xml:"r"`
}

// extractDOCX unzips the OOXML container and flattens paragraph runs,
// one paragraph per line.
func extractDOCX(content []byte, filename string) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", kb.NewError(kb.ErrKindExtraction, fmt.Sprintf("corrupt DOCX %q", filename), err)
	}
	var documentXML []byte
	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, openErr := file.Open()
		if openErr != nil {
			return "", kb.NewError(kb.ErrKindExtraction, fmt.Sprintf("corrupt DOCX %q", filename), openErr)
		}
		documentXML, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", kb.NewError(kb.ErrKindExtraction, fmt.Sprintf("corrupt DOCX %q", filename), err)
		}
		break
	}
	if documentXML == nil {
		return "", kb.NewError(
			kb.ErrKindExtraction,
			fmt.Sprintf("DOCX %q is missing word/document.xml", filename),
			nil,
		)
	}
	var document docxDocument
	if err := xml.Unmarshal(documentXML, &document); err != nil {
		return "", kb.NewError(kb.ErrKindExtraction, fmt.Sprintf("corrupt DOCX %q", filename), err)
	}
	builder := strings.Builder{}
	for _, paragraph := range document.Body.Paragraphs {
		for _, run := range paragraph.Runs {
			for _, text := range run.Text {
				builder.WriteString(text)
			}
		}
		builder.WriteString("\n")
	}
	result := strings.TrimSpace(builder.String())
	if result == "" {
		return "", kb.NewError(
			kb.ErrKindExtraction,
			fmt.Sprintf("DOCX %q has no extractable text", filename),
			nil,
		)
	}
	return result, nil
}
