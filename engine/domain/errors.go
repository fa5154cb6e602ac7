package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrEmptyDocument     = errors.New("empty document")
	ErrEmptySource       = errors.New("empty source name")
	ErrEmptyQuery        = errors.New("empty query")
	ErrNoEmbedder        = errors.New("no embedder configured")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrAlreadyIndexed    = errors.New("document already indexed")
	ErrNotIndexed        = errors.New("document not indexed")
	ErrNoContent         = errors.New("document produced no chunks")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
