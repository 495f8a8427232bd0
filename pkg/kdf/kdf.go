// Package kdf derives fixed-length keys from user passphrases.
//
// Derivation is Argon2id (RFC 9106) followed by HKDF-SHA256 expansion with
// distinct info labels, so the login verifier and the at-rest encryption key
// are domain separated: neither value can be computed from the other even
// though both come from the same passphrase and salt.
package kdf

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeyLength is the length in bytes of every derived verifier and key.
	KeyLength = 32

	// MinSaltLength is the minimum accepted salt length in bytes.
	MinSaltLength = 16

	// SaltLength is the salt length produced by NewSalt.
	SaltLength = 32

	// MinMemoryKiB is the lowest Argon2id memory cost accepted; anything
	// below this makes offline brute force too cheap.
	MinMemoryKiB = 8 * 1024
)

// Domain separation labels. Changing either is a breaking format change.
const (
	infoVerifier = "lockgate/verifier/v1"
	infoKey      = "lockgate/key/v1"
)

var (
	// ErrSaltTooShort is returned when a salt shorter than MinSaltLength is supplied.
	ErrSaltTooShort = errors.New("kdf: salt too short")

	// ErrInvalidParams is returned when cost parameters are zero or below the floor.
	ErrInvalidParams = errors.New("kdf: invalid cost parameters")
)

// Params holds the Argon2id cost parameters. They are persisted alongside
// the credential so verification keeps working after the defaults change.
type Params struct {
	Time      uint32 `cbor:"time" json:"time" yaml:"time"`
	MemoryKiB uint32 `cbor:"memory_kib" json:"memory_kib" yaml:"memory_kib"`
	Threads   uint8  `cbor:"threads" json:"threads" yaml:"threads"`
}

// DefaultParams returns the cost parameters used for new credentials:
// three passes over 64 MiB with four lanes.
func DefaultParams() Params {
	return Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// Validate reports whether the parameters are usable.
func (p Params) Validate() error {
	if p.Time == 0 || p.MemoryKiB < MinMemoryKiB || p.Threads == 0 {
		return ErrInvalidParams
	}
	return nil
}

// DeriveKeys runs one Argon2id pass over (passphrase, salt) and expands the
// result into the login verifier and the encryption key. Same inputs always
// produce the same outputs. The verifier is stored for equality checks at
// unlock; the key is never persisted.
func DeriveKeys(passphrase, salt []byte, p Params) (verifier, key []byte, err error) {
	if len(salt) < MinSaltLength {
		return nil, nil, ErrSaltTooShort
	}
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	root := argon2.IDKey(passphrase, salt, p.Time, p.MemoryKiB, p.Threads, KeyLength)
	defer Wipe(root)

	verifier, err = expand(root, infoVerifier)
	if err != nil {
		return nil, nil, err
	}
	key, err = expand(root, infoKey)
	if err != nil {
		Wipe(verifier)
		return nil, nil, err
	}
	return verifier, key, nil
}

// Subkey expands an already-derived key into a purpose-specific subkey using
// HKDF-SHA256 with the given info label.
func Subkey(key []byte, info string) ([]byte, error) {
	return expand(key, info)
}

func expand(secret []byte, info string) ([]byte, error) {
	out := make([]byte, KeyLength)
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("kdf: expand %q: %w", info, err)
	}
	return out, nil
}

// NewSalt draws a fresh SaltLength-byte salt from rng.
func NewSalt(rng io.Reader) ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := io.ReadFull(rng, salt); err != nil {
		return nil, fmt.Errorf("kdf: generate salt: %w", err)
	}
	return salt, nil
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// Prevent the compiler from eliminating the wipe as dead stores.
	runtime.KeepAlive(b)
}
