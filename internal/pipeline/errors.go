package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoEmbeddableContent marks a document whose slides are all empty after
// extraction. Terminal: there is nothing to retrieve.
var ErrNoEmbeddableContent = errors.New("no embeddable content")

// ErrExtractionMismatch marks a conversion result whose rendered image count
// disagrees with the number of text segments. Treated as a data-quality
// failure rather than silently misaligning slides.
var ErrExtractionMismatch = errors.New("extraction mismatch")

// DimensionMismatchError is a configuration error: the embedding service
// returned vectors of a different dimensionality than this deployment
// persists. Never retried; requires operator intervention.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: got %d, want %d", e.Got, e.Want)
}

// PermanentError wraps errors that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether retrying err can never succeed.
func IsPermanent(err error) bool {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	var de *DimensionMismatchError
	if errors.As(err, &de) {
		return true
	}
	return errors.Is(err, ErrExtractionMismatch) || errors.Is(err, ErrNoEmbeddableContent)
}
