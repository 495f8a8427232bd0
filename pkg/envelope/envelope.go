// Package envelope implements the authenticated encryption container used
// for every sensitive value lockgate persists.
//
// An envelope is a versioned record of nonce, ciphertext, and authentication
// tag. Sealing always draws a fresh random nonce; opening always verifies
// the tag before any plaintext is returned. Associated data lets callers
// bind an envelope to its owning record so ciphertexts cannot be swapped
// between records without detection.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// Version is the envelope format version produced by Seal. Envelopes
	// carrying any other version are rejected, never guessed at.
	Version = 1

	// KeyLength is the required key length in bytes for both suites.
	KeyLength = 32

	// TagLength is the AEAD authentication tag length in bytes.
	TagLength = 16

	// MaxPlaintextLength bounds a single envelope payload. Anything larger
	// indicates a caller bug, not a legitimate secret.
	MaxPlaintextLength = 16 << 20
)

// Suite identifies the AEAD algorithm an envelope was sealed with.
type Suite uint8

const (
	// SuiteAESGCM is AES-256-GCM with a 12-byte nonce.
	SuiteAESGCM Suite = 1

	// SuiteXChaCha20 is XChaCha20-Poly1305 with a 24-byte nonce.
	SuiteXChaCha20 Suite = 2
)

// String returns the suite name.
func (s Suite) String() string {
	switch s {
	case SuiteAESGCM:
		return "aes-256-gcm"
	case SuiteXChaCha20:
		return "xchacha20-poly1305"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// NonceLength returns the nonce length in bytes for the suite, or 0 when
// the suite is unknown.
func (s Suite) NonceLength() int {
	switch s {
	case SuiteAESGCM:
		return 12
	case SuiteXChaCha20:
		return chacha20poly1305.NonceSizeX
	default:
		return 0
	}
}

var (
	// ErrInvalidKeyLength is returned when a key is not KeyLength bytes.
	ErrInvalidKeyLength = errors.New("envelope: invalid key length")

	// ErrUnsupportedVersion is returned for envelopes from an unknown
	// format version.
	ErrUnsupportedVersion = errors.New("envelope: unsupported version")

	// ErrUnsupportedSuite is returned for envelopes sealed with an unknown
	// cipher suite.
	ErrUnsupportedSuite = errors.New("envelope: unsupported cipher suite")

	// ErrAuthenticationFailed is returned when tag verification fails.
	// A wrong key and tampered data are deliberately indistinguishable.
	ErrAuthenticationFailed = errors.New("envelope: authentication failed")

	// ErrMalformed is returned for structurally invalid encodings.
	ErrMalformed = errors.New("envelope: malformed encoding")

	// ErrPlaintextTooLarge is returned when a payload exceeds MaxPlaintextLength.
	ErrPlaintextTooLarge = errors.New("envelope: plaintext too large")
)

// Envelope is one protected value. Field lengths are fixed by Version and
// Suite; the serialized form length-prefixes the variable parts.
type Envelope struct {
	Version    uint8  `json:"version" cbor:"version"`
	Suite      Suite  `json:"suite" cbor:"suite"`
	Nonce      []byte `json:"nonce" cbor:"nonce"`
	Ciphertext []byte `json:"ciphertext" cbor:"ciphertext"`
	Tag        []byte `json:"tag" cbor:"tag"`
}

// Cipher seals and opens envelopes under one fixed key. It can open
// envelopes of every known suite but always seals with the suite it was
// constructed for. The key itself is not retained beyond AEAD setup.
type Cipher struct {
	seal  Suite
	aeads map[Suite]cipher.AEAD
	rng   io.Reader
}

// New builds a Cipher for a 32-byte key. Sealing uses suite; rng supplies
// nonces and defaults to crypto/rand when nil.
func New(key []byte, suite Suite, rng io.Reader) (*Cipher, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	if suite.NonceLength() == 0 {
		return nil, ErrUnsupportedSuite
	}
	if rng == nil {
		rng = rand.Reader
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: init aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: init gcm: %w", err)
	}
	xcha, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: init xchacha20: %w", err)
	}

	return &Cipher{
		seal: suite,
		aeads: map[Suite]cipher.AEAD{
			SuiteAESGCM:    gcm,
			SuiteXChaCha20: xcha,
		},
		rng: rng,
	}, nil
}

// Seal encrypts plaintext under a fresh random nonce and binds aad into the
// authentication tag. aad may be nil for standalone values.
func (c *Cipher) Seal(plaintext, aad []byte) (*Envelope, error) {
	if len(plaintext) > MaxPlaintextLength {
		return nil, ErrPlaintextTooLarge
	}

	nonce := make([]byte, c.seal.NonceLength())
	if _, err := io.ReadFull(c.rng, nonce); err != nil {
		return nil, fmt.Errorf("envelope: generate nonce: %w", err)
	}

	sealed := c.aeads[c.seal].Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - TagLength

	return &Envelope{
		Version:    Version,
		Suite:      c.seal,
		Nonce:      nonce,
		Ciphertext: sealed[:split:split],
		Tag:        sealed[split:],
	}, nil
}

// Open verifies env's tag over its ciphertext and aad, then returns the
// plaintext. The aad must match the value passed to Seal. Tag mismatch from
// any cause collapses into ErrAuthenticationFailed so callers cannot build
// a decryption oracle out of the error.
func (c *Cipher) Open(env *Envelope, aad []byte) ([]byte, error) {
	if env == nil {
		return nil, ErrMalformed
	}
	if env.Version != Version {
		return nil, ErrUnsupportedVersion
	}
	aead, ok := c.aeads[env.Suite]
	if !ok {
		return nil, ErrUnsupportedSuite
	}
	if len(env.Nonce) != env.Suite.NonceLength() || len(env.Tag) != TagLength {
		return nil, ErrMalformed
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+TagLength)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)

	plaintext, err := aead.Open(nil, env.Nonce, sealed, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
