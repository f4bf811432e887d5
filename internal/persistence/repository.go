package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence wraps I/O failures of the underlying store.
	ErrPersistence = errors.New("persistence failure")
	// ErrStateCorrupt is returned when a stored document cannot be decoded.
	ErrStateCorrupt = errors.New("state document corrupt")
)

// StateRepository defines the interface for state persistence.
// It abstracts the underlying storage mechanism (JSON file, BadgerDB)
// from the rest of the application. T is the persisted document type.
type StateRepository[T any] interface {
	// SaveState atomically saves the entire document.
	SaveState(state *T) error

	// LoadState loads the document from storage.
	// If no document is found, it should return (nil, nil).
	LoadState() (*T, error)

	// Delete removes the stored document. Deleting nothing is not an error.
	Delete() error

	// Close releases the underlying store.
	Close() error
}

// LoadOrDefault loads the document and falls back to def when nothing is stored.
// A failed load also yields def, together with the error so the caller can log it;
// loading never aborts startup.
func LoadOrDefault[T any](repo StateRepository[T], def *T) (*T, error) {
	state, err := repo.LoadState()
	if err != nil {
		return def, fmt.Errorf("loading state, falling back to defaults: %w", err)
	}
	if state == nil {
		return def, nil
	}
	return state, nil
}
