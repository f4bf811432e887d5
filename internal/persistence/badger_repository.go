package persistence

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/goccy/go-json"
)

// badgerRepository is the BadgerDB implementation of the StateRepository.
// Each document type lives under its own key, so the paper trader and the
// analyzer can share one database.
type badgerRepository[T any] struct {
	db       *badger.DB
	stateKey []byte
	ownsDB   bool
}

// OpenBadger opens a BadgerDB database with Badger's own logging disabled.
func OpenBadger(dbPath string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger at %s: %v", ErrPersistence, dbPath, err)
	}
	return db, nil
}

// NewBadgerRepository opens its own database at dbPath and stores the document under key.
func NewBadgerRepository[T any](dbPath, key string) (StateRepository[T], error) {
	db, err := OpenBadger(dbPath)
	if err != nil {
		return nil, err
	}
	return &badgerRepository[T]{db: db, stateKey: []byte(key), ownsDB: true}, nil
}

// NewBadgerRepositoryWithDB stores the document under key in an already open database.
// Close does not close a shared database.
func NewBadgerRepositoryWithDB[T any](db *badger.DB, key string) StateRepository[T] {
	return &badgerRepository[T]{db: db, stateKey: []byte(key)}
}

// SaveState marshals the document into JSON and saves it under the repository key.
func (r *badgerRepository[T]) SaveState(state *T) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersistence, err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.stateKey, data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// LoadState returns (nil, nil) when the key is not found.
func (r *badgerRepository[T]) LoadState() (*T, error) {
	var state T
	var decodeErr error

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.stateKey)
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				decodeErr = errors.New("state value is empty in database")
				return nil
			}
			decodeErr = json.Unmarshal(val, &state)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: key %s: %v", ErrStateCorrupt, r.stateKey, decodeErr)
	}
	return &state, nil
}

// Delete removes the stored document.
func (r *badgerRepository[T]) Delete() error {
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(r.stateKey)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Close closes the database if this repository opened it.
func (r *badgerRepository[T]) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.db.Close()
}
