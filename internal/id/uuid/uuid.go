// Package uuid provides surrogate identifier generators for stored entities.
package uuid

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 strings, so ids of one ingestion pass
// sort in insertion order.
type Generator struct{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRequestID returns a random UUIDv4 for correlating HTTP requests.
func NewRequestID() string {
	return uuid.NewString()
}

// Sequence hands out "<prefix>-<n>" ids in order. Intended for tests.
type Sequence struct {
	prefix string
	next   atomic.Int64
}

// NewSequence creates a Sequence starting at 1.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// NewID returns the next id in the sequence.
func (s *Sequence) NewID() (string, error) {
	return fmt.Sprintf("%s-%d", s.prefix, s.next.Add(1)), nil
}
