package tokens

import (
	"context"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// modelEncodings maps the model names this pipeline is configured with to
// their tiktoken encodings. Unknown models fall back to defaultEncoding.
var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-ada-002": "cl100k_base",
}

// TiktokenCounter counts tokens with a real BPE tokenizer. Construction is
// the expensive part; counting is cheap and safe for concurrent use.
type TiktokenCounter struct {
	encoding string
	tke      *tiktoken.Tiktoken
}

// NewTiktokenCounter resolves modelOrEncoding first as an encoding name,
// then as a model name, then falls back to defaultEncoding.
func NewTiktokenCounter(modelOrEncoding string) (*TiktokenCounter, error) {
	name := modelOrEncoding
	if name == "" {
		name = defaultEncoding
	}
	if tke, err := tiktoken.GetEncoding(name); err == nil {
		return &TiktokenCounter{encoding: name, tke: tke}, nil
	}
	if tke, err := tiktoken.EncodingForModel(name); err == nil {
		return &TiktokenCounter{encoding: encodingForModel(name), tke: tke}, nil
	}
	tke, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("tokens: load default encoding %q: %w", defaultEncoding, err)
	}
	return &TiktokenCounter{encoding: defaultEncoding, tke: tke}, nil
}

// CountTokens returns the exact token count under the configured encoding.
func (tc *TiktokenCounter) CountTokens(_ context.Context, text string) (int, error) {
	if tc.tke == nil {
		return 0, fmt.Errorf("tokens: encoder for %q is not initialized", tc.encoding)
	}
	return len(tc.tke.Encode(text, nil, nil)), nil
}

// GetEncoding reports which encoding the counter resolved to.
func (tc *TiktokenCounter) GetEncoding() string {
	return tc.encoding
}

func encodingForModel(model string) string {
	if encoding, ok := modelEncodings[model]; ok {
		return encoding
	}
	return defaultEncoding
}
