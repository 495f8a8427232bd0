// Package securestore abstracts the per-item protected key-value store that
// holds lockgate's credential material: salt, verifier, lockout window, and
// the biometric-sealed key copy.
//
// On mobile and desktop platforms the real backing store is the OS keychain
// or keystore; embedders bridge that by implementing Store. The bundled
// FileStore keeps one 0600 file per key and is the default on headless
// systems. Writes are atomic per key; nothing here is transactional across
// keys, which is why the credential record is a single serialized blob.
package securestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Well-known keys persisted by the subsystem.
const (
	// KeyCredential holds the serialized credential record.
	KeyCredential = "credential"

	// KeyLockout holds the serialized lockout state.
	KeyLockout = "lockout"

	// KeyBiometricEnabled marks biometric unlock as enabled.
	KeyBiometricEnabled = "biometric.enabled"

	// KeyBiometricKey holds the key copy sealed behind the platform's
	// biometric gate.
	KeyBiometricKey = "biometric.key"

	// KeyAuditKey holds the audit chain key, sealed under the session key.
	KeyAuditKey = "audit.key"
)

var (
	// ErrNotFound is returned by Get for keys that were never set.
	ErrNotFound = errors.New("securestore: key not found")

	// ErrUnavailable wraps any backing-store I/O failure. Callers must
	// surface it rather than treat it as an absent key.
	ErrUnavailable = errors.New("securestore: store unavailable")

	// ErrInvalidKey is returned for key names outside [A-Za-z0-9._-].
	ErrInvalidKey = errors.New("securestore: invalid key name")
)

// Store is the secure key-value collaborator. Implementations must make Set
// atomic per key: a reader never observes a torn value.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set writes value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}

// FileStore keeps one file per key under a private directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir with 0700 permissions if needed and returns a
// store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("securestore: create %s: %w: %w", dir, ErrUnavailable, err)
	}
	return &FileStore{dir: dir}, nil
}

// Get returns the stored value for key.
func (s *FileStore) Get(key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("securestore: read %s: %w: %w", key, ErrUnavailable, err)
	}
	return data, nil
}

// Set writes value under key via a temp file and rename so a crash mid-write
// never leaves a torn value behind.
func (s *FileStore) Set(key string, value []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "."+key+".tmp-*")
	if err != nil {
		return fmt.Errorf("securestore: write %s: %w: %w", key, ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("securestore: write %s: %w: %w", key, ErrUnavailable, err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("securestore: write %s: %w: %w", key, ErrUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("securestore: sync %s: %w: %w", key, ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("securestore: close %s: %w: %w", key, ErrUnavailable, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("securestore: commit %s: %w: %w", key, ErrUnavailable, err)
	}
	return nil
}

// Delete removes the file for key if present.
func (s *FileStore) Delete(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("securestore: delete %s: %w: %w", key, ErrUnavailable, err)
	}
	return nil
}

func (s *FileStore) path(key string) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key), nil
}

func validKey(key string) bool {
	if key == "" || key[0] == '.' {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
