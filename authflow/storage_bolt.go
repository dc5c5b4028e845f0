package authflow

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// storageDirPerm is the permission mode for the storage directory.
	storageDirPerm = fs.FileMode(0o700)

	// storageFilePerm is the permission mode for the storage database file.
	storageFilePerm = fs.FileMode(0o600)

	// storageOpenTimeout is the maximum time to wait for the bolt database
	// lock. Concurrent processes sharing the file (the multi-tab analog)
	// are not otherwise coordinated.
	storageOpenTimeout = 5 * time.Second
)

var sessionBucket = []byte("session")

// BoltStorage is a durable Storage backed by a bbolt database. All items
// live in a single bucket, mirroring a single web origin's local storage.
type BoltStorage struct {
	db *bolt.DB
}

// ensure that BoltStorage implements the Storage interface
var _ Storage = (*BoltStorage)(nil)

// OpenBoltStorage opens (creating if needed) a bolt database at path and
// ensures the session bucket exists.
func OpenBoltStorage(path string) (*BoltStorage, error) {
	const op = "authflow.OpenBoltStorage"
	if path == "" {
		return nil, fmt.Errorf("%s: storage path is empty: %w", op, ErrInvalidParameter)
	}
	if err := os.MkdirAll(filepath.Dir(path), storageDirPerm); err != nil {
		return nil, fmt.Errorf("%s: creating storage directory: %w", op, err)
	}
	db, err := bolt.Open(path, storageFilePerm, &bolt.Options{Timeout: storageOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("%s: opening storage db: %w", op, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: creating session bucket: %w", op, err)
	}
	return &BoltStorage{db: db}, nil
}

// Close releases the underlying database.
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// GetItem implements Storage.GetItem.
func (s *BoltStorage) GetItem(key string) ([]byte, error) {
	const op = "BoltStorage.GetItem"
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionBucket).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// SetItem implements Storage.SetItem.
func (s *BoltStorage) SetItem(key string, value []byte) error {
	const op = "BoltStorage.SetItem"
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("%s: %q: %w", op, key, err)
	}
	return nil
}

// RemoveItem implements Storage.RemoveItem.
func (s *BoltStorage) RemoveItem(key string) error {
	const op = "BoltStorage.RemoveItem"
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%s: %q: %w", op, key, err)
	}
	return nil
}
