package securestore

import (
	"fmt"
	"sync"
)

// MemStore is an in-memory Store for tests and for embedders that bridge a
// platform keychain themselves. It supports failure injection so callers
// can exercise their ErrUnavailable paths.
type MemStore struct {
	mu        sync.Mutex
	data      map[string][]byte
	failure   error
	writeFail map[string]error
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		data:      make(map[string][]byte),
		writeFail: make(map[string]error),
	}
}

// SetFailure makes every subsequent operation fail with err wrapped in
// ErrUnavailable. Pass nil to restore normal behavior.
func (s *MemStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// SetWriteFailure makes writes to one key fail with err wrapped in
// ErrUnavailable while everything else keeps working. Pass nil to clear.
func (s *MemStore) SetWriteFailure(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.writeFail, key)
		return
	}
	s.writeFail[key] = err
}

// Get returns the stored value for key.
func (s *MemStore) Get(key string) ([]byte, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return nil, fmt.Errorf("securestore: read %s: %w: %w", key, ErrUnavailable, s.failure)
	}
	value, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), value...), nil
}

// Set stores a copy of value under key.
func (s *MemStore) Set(key string, value []byte) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return fmt.Errorf("securestore: write %s: %w: %w", key, ErrUnavailable, s.failure)
	}
	if err := s.writeFail[key]; err != nil {
		return fmt.Errorf("securestore: write %s: %w: %w", key, ErrUnavailable, err)
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key if present.
func (s *MemStore) Delete(key string) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return fmt.Errorf("securestore: delete %s: %w: %w", key, ErrUnavailable, s.failure)
	}
	delete(s.data, key)
	return nil
}

// Len reports the number of stored keys.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
