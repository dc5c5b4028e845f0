package authflow

import (
	"fmt"
	"sync"
)

// Storage is the client-side persistence seam used by the TokenStore and
// the AuthorizationFlow. It is a deliberately small key/value surface:
// one logical origin, string keys, opaque values.
//
// Implementations must be concurrently safe. Absent keys are reported
// via an error wrapping ErrNotFound.
type Storage interface {
	// GetItem returns the value stored under key, or an error wrapping
	// ErrNotFound when the key is absent.
	GetItem(key string) ([]byte, error)

	// SetItem stores value under key, overwriting any prior value.
	SetItem(key string, value []byte) error

	// RemoveItem deletes key. Removing an absent key is not an error.
	RemoveItem(key string) error
}

// MemStorage is an in-memory Storage. It is concurrently safe and is
// primarily useful for tests and short-lived sessions.
type MemStorage struct {
	mu sync.Mutex
	m  map[string][]byte
}

// NewMemStorage creates an empty MemStorage.
func NewMemStorage() *MemStorage {
	return &MemStorage{
		m: map[string][]byte{},
	}
}

// ensure that MemStorage implements the Storage interface
var _ Storage = (*MemStorage)(nil)

// GetItem implements Storage.GetItem.
func (s *MemStorage) GetItem(key string) ([]byte, error) {
	const op = "MemStorage.GetItem"
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

// SetItem implements Storage.SetItem.
func (s *MemStorage) SetItem(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.m[key] = cp
	return nil
}

// RemoveItem implements Storage.RemoveItem.
func (s *MemStorage) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}
