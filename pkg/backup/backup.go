// Package backup writes and restores encrypted exports of the vault.
//
// A backup file is a plaintext JSON header (format version, KDF cost
// parameters, a fresh salt, the cipher suite) followed by a single sealed
// envelope holding every item. The encryption key is derived from a
// passphrase chosen at backup time, independent of the vault passphrase, so
// an old backup stays readable after the vault passphrase rotates. The
// header bytes serve as the envelope's associated data; editing either part
// makes the file fail to open.
package backup

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/knagatomi/lockgate/pkg/envelope"
	"github.com/knagatomi/lockgate/pkg/kdf"
	"github.com/knagatomi/lockgate/pkg/vault"
)

// ConflictMode selects what Restore does when an item in the backup already
// exists in the vault.
type ConflictMode int

const (
	// ConflictError aborts before writing anything.
	ConflictError ConflictMode = iota

	// ConflictSkip keeps the existing item.
	ConflictSkip

	// ConflictOverwrite replaces the existing item.
	ConflictOverwrite
)

// String returns the mode name as accepted on the command line.
func (m ConflictMode) String() string {
	switch m {
	case ConflictError:
		return "error"
	case ConflictSkip:
		return "skip"
	case ConflictOverwrite:
		return "overwrite"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Options tunes Write. The zero value selects the vault's defaults.
type Options struct {
	// Suite selects the AEAD for the payload envelope. The zero value
	// means AES-256-GCM.
	Suite envelope.Suite

	// KDF sets the Argon2id cost for the backup key. The zero value means
	// kdf.DefaultParams().
	KDF kdf.Params

	// Rand supplies the salt and nonce. Nil means crypto/rand.
	Rand io.Reader

	// Now supplies the header timestamp. Nil means time.Now.
	Now func() time.Time
}

// RestoreResult counts what Restore did.
type RestoreResult struct {
	Restored    int
	Skipped     int
	Overwritten int
}

// Write serializes items, seals them under a key derived from passphrase
// with a fresh salt, and writes the complete backup file to w. The returned
// header is what was written.
//
// Items must carry their values and notes, so they come from Get rather
// than from a listing.
func Write(w io.Writer, items []*vault.Item, passphrase []byte, opts Options) (*Header, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if opts.Suite == 0 {
		opts.Suite = envelope.SuiteAESGCM
	}
	if opts.KDF == (kdf.Params{}) {
		opts.KDF = kdf.DefaultParams()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	salt, err := kdf.NewSalt(opts.Rand)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}

	cipher, err := newCipher(passphrase, salt, opts.KDF, opts.Suite, opts.Rand)
	if err != nil {
		return nil, err
	}

	payload, err := encodePayload(items)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(payload)

	header := &Header{
		Version:   FormatVersion,
		CreatedAt: opts.Now().UTC(),
		ItemCount: len(items),
		Suite:     opts.Suite,
		KDF:       opts.KDF,
		Salt:      salt,
	}
	headerBytes, err := writeHeader(w, header)
	if err != nil {
		return nil, err
	}

	env, err := cipher.Seal(payload, headerBytes)
	if err != nil {
		return nil, fmt.Errorf("backup: seal payload: %w", err)
	}
	blob, err := env.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("backup: encode envelope: %w", err)
	}
	if _, err := w.Write(blob); err != nil {
		return nil, fmt.Errorf("backup: write payload: %w", err)
	}
	return header, nil
}

// Read parses a backup file and returns its items and header. The
// passphrase must be the one the file was written with; a wrong passphrase
// and a tampered file both come back as ErrWrongPassphrase.
func Read(r io.Reader, passphrase []byte) ([]*vault.Item, *Header, error) {
	if len(passphrase) == 0 {
		return nil, nil, ErrEmptyPassphrase
	}

	header, headerBytes, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}

	blob, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: read payload: %w", err)
	}
	if len(blob) == 0 {
		return nil, nil, ErrTruncated
	}
	var env envelope.Envelope
	if err := env.UnmarshalBinary(blob); err != nil {
		return nil, nil, fmt.Errorf("backup: decode envelope: %w", err)
	}

	cipher, err := newCipher(passphrase, header.Salt, header.KDF, header.Suite, nil)
	if err != nil {
		return nil, nil, err
	}

	payload, err := cipher.Open(&env, headerBytes)
	if err != nil {
		if errors.Is(err, envelope.ErrAuthenticationFailed) {
			return nil, nil, ErrWrongPassphrase
		}
		return nil, nil, fmt.Errorf("backup: open payload: %w", err)
	}
	defer kdf.Wipe(payload)

	items, err := decodePayload(payload)
	if err != nil {
		return nil, nil, err
	}
	return items, header, nil
}

// Restore writes items into the vault, resolving name collisions per mode.
// In ConflictError mode the vault is checked up front and left untouched
// when any collision exists. Restored items keep their names, values,
// categories, and notes; ids and timestamps are assigned by the vault.
func Restore(v *vault.Vault, items []*vault.Item, mode ConflictMode) (*RestoreResult, error) {
	if mode == ConflictError {
		for _, it := range items {
			exists, err := itemExists(v, it.Name)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, fmt.Errorf("%w: %q", ErrConflict, it.Name)
			}
		}
	}

	result := &RestoreResult{}
	for _, it := range items {
		exists, err := itemExists(v, it.Name)
		if err != nil {
			return result, err
		}
		if exists && mode == ConflictSkip {
			result.Skipped++
			continue
		}
		if _, err := v.Put(it.Name, it.Value, vault.Meta{Category: it.Category, Notes: it.Notes}); err != nil {
			return result, fmt.Errorf("backup: restore %q: %w", it.Name, err)
		}
		if exists {
			result.Overwritten++
		} else {
			result.Restored++
		}
	}
	return result, nil
}

func itemExists(v *vault.Vault, name string) (bool, error) {
	_, err := v.Stat(name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, vault.ErrItemNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("backup: check %q: %w", name, err)
}

// newCipher derives the backup encryption key and builds the payload
// cipher. The verifier half of the derivation is discarded; backups have no
// login step.
func newCipher(passphrase, salt []byte, params kdf.Params, suite envelope.Suite, rng io.Reader) (*envelope.Cipher, error) {
	verifier, key, err := kdf.DeriveKeys(passphrase, salt, params)
	if err != nil {
		return nil, fmt.Errorf("backup: derive key: %w", err)
	}
	kdf.Wipe(verifier)
	defer kdf.Wipe(key)

	cipher, err := envelope.New(key, suite, rng)
	if err != nil {
		return nil, fmt.Errorf("backup: init cipher: %w", err)
	}
	return cipher, nil
}
