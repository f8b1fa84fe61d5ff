package core

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// ID is a k-sortable unique identifier used for jobs, documents, and chunks.
type ID string

func (i ID) String() string {
	return string(i)
}

// NewID generates a new random ID.
func NewID() (ID, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("core: failed to generate id: %w", err)
	}
	return ID(id.String()), nil
}

// MustNewID generates a new ID and panics on failure. ksuid generation only
// fails when the system entropy source is unavailable.
func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

// ParseID validates that raw is a well-formed ksuid.
func ParseID(raw string) (ID, error) {
	if _, err := ksuid.Parse(raw); err != nil {
		return "", fmt.Errorf("core: invalid id %q: %w", raw, err)
	}
	return ID(raw), nil
}
