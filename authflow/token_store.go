package authflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultTokenKey is the storage key holding the JSON-serialized
// TokenRecord.
const DefaultTokenKey = "auth_token"

// TokenStore persists, retrieves and validates the current TokenRecord.
// It is the exclusive owner of the token's storage key: no other
// component mutates the persisted record directly.
//
// There is no locking across processes sharing the same Storage; each
// write is independently valid, but writes are not linearizable across
// sharers.
type TokenStore struct {
	storage Storage
	key     string
	logger  hclog.Logger
	nowFunc func() time.Time
}

// NewTokenStore creates a TokenStore over the given Storage.
//
// Supported options: WithLogger, WithNow
func NewTokenStore(storage Storage, opt ...Option) (*TokenStore, error) {
	const op = "authflow.NewTokenStore"
	if storage == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	opts := getTokenStoreOpts(opt...)
	return &TokenStore{
		storage: storage,
		key:     DefaultTokenKey,
		logger:  opts.withLogger,
		nowFunc: opts.withNowFunc,
	}, nil
}

// Get reads the persisted record. It returns nil when the record is
// absent, malformed (missing required fields, non-numeric time fields,
// not JSON) or expired at call time. Malformed and expired records are
// never surfaced as errors; they are logged and treated as "no token".
func (s *TokenStore) Get() *TokenRecord {
	const op = "TokenStore.Get"
	raw, err := s.storage.GetItem(s.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Debug("unable to read persisted token record", "op", op, "error", err)
		}
		return nil
	}
	var record TokenRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		s.logger.Debug("persisted token record is not valid JSON", "op", op, "error", err)
		return nil
	}
	if err := record.Validate(WithNow(s.nowFunc)); err != nil {
		s.logger.Debug("persisted token record failed validation", "op", op, "error", err)
		return nil
	}
	return &record
}

// Set serializes and persists the record, fully overwriting any prior
// value.
func (s *TokenStore) Set(record *TokenRecord) error {
	const op = "TokenStore.Set"
	if record == nil {
		return fmt.Errorf("%s: token record is nil: %w", op, ErrNilParameter)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%s: unable to serialize token record: %w", op, err)
	}
	if err := s.storage.SetItem(s.key, raw); err != nil {
		return fmt.Errorf("%s: unable to persist token record: %w", op, err)
	}
	return nil
}

// Clear removes the persisted record.
func (s *TokenStore) Clear() error {
	const op = "TokenStore.Clear"
	if err := s.storage.RemoveItem(s.key); err != nil {
		return fmt.Errorf("%s: unable to remove token record: %w", op, err)
	}
	return nil
}

// tokenStoreOptions is the set of available options for TokenStore
// functions
type tokenStoreOptions struct {
	withLogger  hclog.Logger
	withNowFunc func() time.Time
}

// tokenStoreDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func tokenStoreDefaults() tokenStoreOptions {
	return tokenStoreOptions{
		withLogger:  hclog.NewNullLogger(),
		withNowFunc: time.Now,
	}
}

// getTokenStoreOpts gets the token store defaults and applies the opt
// overrides passed in.
func getTokenStoreOpts(opt ...Option) tokenStoreOptions {
	opts := tokenStoreDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
