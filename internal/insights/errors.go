package insights

import "errors"

// Sentinel errors classify pipeline failures. Callers match with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrFetchFailed    = errors.New("fetch failed")
	ErrNotInitialized = errors.New("database not initialized")
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrInvalidInput   = errors.New("invalid input")
)
