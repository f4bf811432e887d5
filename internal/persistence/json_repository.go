package persistence

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// jsonFileRepository stores a single document as indented JSON in one file.
type jsonFileRepository[T any] struct {
	path string
}

// NewJSONFileRepository returns a repository backed by the file at path.
// The file is created on the first save.
func NewJSONFileRepository[T any](path string) StateRepository[T] {
	return &jsonFileRepository[T]{path: path}
}

// SaveState writes to a temp file in the same directory and renames it over
// the target, so readers never observe a half-written document.
func (r *jsonFileRepository[T]) SaveState(state *T) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrPersistence, r.path, err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", ErrPersistence, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("%w: rename to %s: %v", ErrPersistence, r.path, err)
	}
	return nil
}

// LoadState returns (nil, nil) when the file does not exist.
func (r *jsonFileRepository[T]) LoadState() (*T, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrPersistence, r.path, err)
	}

	var state T
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStateCorrupt, r.path, err)
	}
	return &state, nil
}

// Close is a no-op for file storage.
func (r *jsonFileRepository[T]) Close() error {
	return nil
}

// Delete removes the backing file.
func (r *jsonFileRepository[T]) Delete() error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
