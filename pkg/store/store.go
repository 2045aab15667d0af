// Package store keeps function type definitions in a bbolt database, so that
// they survive between sessions.
package store

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"src.xyfit.dev/pkg/logutil"
	. "src.xyfit.dev/pkg/store/storedefs"
)

var logger = logutil.GetLogger("[store] ")

// Functions that initialize the buckets, keyed by what they do.
var initDB = map[string](func(*bolt.Tx) error){}

// DBStore is the permanent storage backend.
type DBStore interface {
	Store
	Close() error
}

type dbStore struct {
	db *bolt.DB
}

// NewStore opens or creates the database file at dbname.
func NewStore(dbname string) (DBStore, error) {
	db, err := bolt.Open(dbname, 0644, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	st, err := NewStoreFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

// NewStoreFromDB creates a store backed by an opened bbolt database.
func NewStoreFromDB(db *bolt.DB) (DBStore, error) {
	logger.Println("initializing store")
	defer logger.Println("initialized store")
	st := &dbStore{db}
	err := db.Update(func(tx *bolt.Tx) error {
		for name, fn := range initDB {
			if err := fn(tx); err != nil {
				return fmt.Errorf("failed to %s: %w", name, err)
			}
		}
		return nil
	})
	return st, err
}

// Close closes the database.
func (s *dbStore) Close() error {
	return s.db.Close()
}
