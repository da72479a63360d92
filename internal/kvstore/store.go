// Package kvstore wraps the embedded key/value store backing one
// container's metadata (the <containerId>-dn-container.db file) and
// provides the reference-counted handle cache the container engine
// acquires it through.
package kvstore

import (
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"cargohold/internal/cargoerr"
)

// blocksBucket is the single top-level bucket block metadata records live
// in. The core treats the store as an opaque key/value map; it does not
// otherwise interpret block records (that belongs to the layer above this
// module's scope).
var blocksBucket = []byte("blocks")

// Store is one container's embedded key/value store, backed by a bbolt
// database file.
type Store struct {
	db   *bbolt.DB
	path string
}

// Open opens (creating if necessary) the bbolt database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create db dir: %v", cargoerr.ErrInternal, err)
	}
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open embedded store: %v", cargoerr.ErrInternal, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blocksBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init bucket: %v", cargoerr.ErrInternal, err)
	}
	return &Store{db: db, path: path}, nil
}

// Put stores value under key.
func (s *Store) Put(key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blocksBucket).Put(key, value)
	})
}

// Get retrieves the value stored under key, or nil if absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(blocksBucket).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Delete removes key.
func (s *Store) Delete(key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blocksBucket).Delete(key)
	})
}

// Count returns the number of records currently stored, used to rebuild
// in-memory counters after import instead of trusting the imported
// descriptor's values.
func (s *Store) Count() (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		stats := tx.Bucket(blocksBucket).Stats()
		n = uint64(stats.KeyN)
		return nil
	})
	return n, err
}

// Flush is a no-op for bbolt: every Update transaction already commits and
// (unless NoSync is set) fsyncs before returning. It exists so Store
// satisfies container.StoreHandle's flush-then-sync discipline explicitly,
// mirroring the shape of stores where flush and fsync are distinct steps.
func (s *Store) Flush() error {
	return nil
}

// Sync forces an fsync of the database file, covering the rare case the
// store was opened with NoSync for bulk loading.
func (s *Store) Sync() error {
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("%w: %v", cargoerr.ErrDbSyncError, err)
	}
	return nil
}

// Compact rewrites the database file to reclaim space from deleted
// records, used before export so packing does not capture stale freelist
// pages.
func (s *Store) Compact() error {
	tmpPath := s.path + ".compact-tmp"
	tmp, err := bbolt.Open(tmpPath, 0o644, nil)
	if err != nil {
		return fmt.Errorf("%w: open compaction target: %v", cargoerr.ErrDbCompactError, err)
	}
	if err := bbolt.Compact(tmp, s.db, 0); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", cargoerr.ErrDbCompactError, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close compaction target: %v", cargoerr.ErrDbCompactError, err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close source before swap: %v", cargoerr.ErrDbCompactError, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("%w: swap compacted db: %v", cargoerr.ErrDbCompactError, err)
	}
	db, err := bbolt.Open(s.path, 0o644, nil)
	if err != nil {
		return fmt.Errorf("%w: reopen after compaction: %v", cargoerr.ErrDbCompactError, err)
	}
	s.db = db
	return nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: %v", cargoerr.ErrInternal, err)
	}
	return nil
}
