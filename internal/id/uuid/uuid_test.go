package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique, valid, and version 7.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
}

func TestNewRequestID(t *testing.T) {
	t.Parallel()

	if _, err := goUUID.Parse(NewRequestID()); err != nil {
		t.Fatalf("request id not valid UUID: %v", err)
	}
}

func TestSequence(t *testing.T) {
	t.Parallel()

	seq := NewSequence("post")
	first, _ := seq.NewID()
	second, _ := seq.NewID()
	if first != "post-1" || second != "post-2" {
		t.Fatalf("unexpected sequence ids %q %q", first, second)
	}
}
