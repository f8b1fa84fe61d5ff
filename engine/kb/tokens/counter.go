package tokens

import "context"

// Counter measures token counts for chunk sizing and budget accounting.
// Implementations must be safe for concurrent use; a single Counter instance
// is shared across one chunking run so boundaries stay self-consistent.
type Counter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// NewCounter returns the exact tiktoken-backed counter, falling back to the
// heuristic estimator when the encoding cannot be loaded (e.g. no cached BPE
// data available offline).
func NewCounter(modelOrEncoding string) Counter {
	counter, err := NewTiktokenCounter(modelOrEncoding)
	if err != nil {
		return NewHeuristicCounter()
	}
	return counter
}
