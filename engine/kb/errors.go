package kb

import "fmt"

// ErrorKind classifies user-visible failures. Callers receive a kind plus a
// message, never a raw stack trace.
type ErrorKind string

const (
	ErrKindValidation ErrorKind = "validation"
	ErrKindExtraction ErrorKind = "extraction"
	ErrKindEmbedding  ErrorKind = "embedding"
	ErrKindIndexing   ErrorKind = "indexing"
	ErrKindRerank     ErrorKind = "rerank"
	ErrKindGeneration ErrorKind = "generation"
	ErrKindJob        ErrorKind = "job"
)

// Error is the structured failure type crossing the service boundary.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and caller-facing message.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}
