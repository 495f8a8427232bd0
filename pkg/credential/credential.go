// Package credential owns passphrase setup, verification, and rotation.
//
// The persisted credential is a single serialized record holding the salt,
// the login verifier, and the KDF cost parameters. The verifier and the
// encryption key are domain separated (see pkg/kdf): possession of the
// stored record is never enough to decrypt anything.
//
// Manager methods are not safe for concurrent use. The session controller
// serializes verification attempts; nothing else should call in directly.
package credential

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/knagatomi/lockgate/pkg/kdf"
	"github.com/knagatomi/lockgate/pkg/securestore"
)

const (
	// MinPassphraseLength is the minimum passphrase length in runes.
	MinPassphraseLength = 8

	// MaxPassphraseLength caps passphrase length so KDF cost stays bounded.
	MaxPassphraseLength = 128

	recordVersion = 1
)

var (
	// ErrNotSetUp is returned when no credential record exists.
	ErrNotSetUp = errors.New("credential: not set up")

	// ErrAlreadySetUp is returned when Setup finds an existing record.
	// Overwriting a credential is only allowed through an explicit Reset.
	ErrAlreadySetUp = errors.New("credential: already set up")

	// ErrIncorrect is returned for a passphrase that does not verify.
	ErrIncorrect = errors.New("credential: incorrect passphrase")

	// ErrPassphraseTooShort is returned for passphrases under MinPassphraseLength.
	ErrPassphraseTooShort = fmt.Errorf("credential: passphrase shorter than %d characters", MinPassphraseLength)

	// ErrPassphraseTooLong is returned for passphrases over MaxPassphraseLength.
	ErrPassphraseTooLong = fmt.Errorf("credential: passphrase longer than %d characters", MaxPassphraseLength)

	// ErrUnchanged is returned by Change when the new passphrase equals the
	// current one.
	ErrUnchanged = errors.New("credential: new passphrase matches current")

	// ErrCorruptRecord is returned when the stored record fails to decode.
	ErrCorruptRecord = errors.New("credential: corrupt record")

	// ErrUnsupportedRecord is returned for records written by a newer format.
	ErrUnsupportedRecord = errors.New("credential: unsupported record version")
)

// LockedOutError reports an active lockout window. Verification attempts
// during the window are rejected before any key derivation runs.
type LockedOutError struct {
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("credential: locked out, retry in %ds", e.Seconds())
}

// Seconds returns the remaining window rounded up to whole seconds.
func (e *LockedOutError) Seconds() int {
	return int((e.Remaining + time.Second - 1) / time.Second)
}

// Record is the persisted credential. Timestamps are unix seconds so the
// serialized form is stable across CBOR time modes.
type Record struct {
	Version   int        `cbor:"version"`
	Salt      []byte     `cbor:"salt"`
	Verifier  []byte     `cbor:"verifier"`
	Params    kdf.Params `cbor:"params"`
	CreatedAt int64      `cbor:"created_at"`
}

// Config assembles a Manager. Store is required; everything else has
// defaults so production callers stay short and tests can inject clocks,
// randomness, and policies.
type Config struct {
	Store  securestore.Store
	Policy Policy           // zero value -> DefaultPolicy
	Params kdf.Params       // zero value -> kdf.DefaultParams
	Rand   io.Reader        // nil -> crypto/rand
	Now    func() time.Time // nil -> time.Now
	Logger *zerolog.Logger  // nil -> no-op
}

// Manager owns the credential record and the lockout ledger.
type Manager struct {
	store   securestore.Store
	lockout *lockout
	params  kdf.Params
	rng     io.Reader
	now     func() time.Time
	log     zerolog.Logger
}

// NewManager builds a Manager from cfg.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("credential: store is required")
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Params == (kdf.Params{}) {
		cfg.Params = kdf.DefaultParams()
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Manager{
		store:   cfg.Store,
		lockout: &lockout{store: cfg.Store, policy: cfg.Policy, now: cfg.Now, log: logger},
		params:  cfg.Params,
		rng:     cfg.Rand,
		now:     cfg.Now,
		log:     logger,
	}, nil
}

// IsSetUp reports whether a credential record exists. Store failures
// surface as errors; they never masquerade as "not set up".
func (m *Manager) IsSetUp() (bool, error) {
	_, err := m.store.Get(securestore.KeyCredential)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, securestore.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Setup creates the credential record from passphrase and returns the
// derived encryption key. The record is written as one blob in one store
// operation: a failure partway through leaves no credential at all, never a
// half-written one. Any stale lockout state is cleared first.
func (m *Manager) Setup(passphrase string) ([]byte, error) {
	pass, err := normalize(passphrase)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(pass)

	exists, err := m.IsSetUp()
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadySetUp
	}

	if err := m.lockout.clear(); err != nil {
		return nil, err
	}

	salt, err := kdf.NewSalt(m.rng)
	if err != nil {
		return nil, err
	}
	verifier, key, err := kdf.DeriveKeys(pass, salt, m.params)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(verifier)

	record := Record{
		Version:   recordVersion,
		Salt:      salt,
		Verifier:  verifier,
		Params:    m.params,
		CreatedAt: m.now().Unix(),
	}
	data, err := cbor.Marshal(record)
	if err != nil {
		kdf.Wipe(key)
		return nil, fmt.Errorf("credential: encode record: %w", err)
	}
	if err := m.store.Set(securestore.KeyCredential, data); err != nil {
		kdf.Wipe(key)
		return nil, err
	}

	m.log.Info().Msg("credential created")
	return key, nil
}

// Verify checks passphrase against the stored record and returns the
// encryption key on success.
//
// The lockout ledger is consulted before anything expensive runs: during an
// active window the KDF is never invoked, so a locked-out rejection costs
// the same whether the passphrase was right or wrong. An incorrect
// passphrase is recorded as a failure; success clears the ledger.
func (m *Manager) Verify(passphrase string) ([]byte, error) {
	record, err := m.loadRecord()
	if err != nil {
		return nil, err
	}

	if err := m.lockout.check(); err != nil {
		return nil, err
	}

	pass, err := normalize(passphrase)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(pass)

	verifier, key, err := kdf.DeriveKeys(pass, record.Salt, record.Params)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(verifier)

	if subtle.ConstantTimeCompare(verifier, record.Verifier) != 1 {
		kdf.Wipe(key)
		if lockErr := m.lockout.recordFailure(); lockErr != nil {
			return nil, fmt.Errorf("credential: record failed attempt: %w: %w", lockErr, ErrIncorrect)
		}
		return nil, ErrIncorrect
	}

	if err := m.lockout.clear(); err != nil {
		kdf.Wipe(key)
		return nil, err
	}
	return key, nil
}

// Change verifies the old passphrase, derives a replacement record under a
// fresh salt and the manager's current cost parameters, and returns the
// uncommitted rotation. The caller re-encrypts every stored envelope with
// the new key before calling Commit; on any failure it calls Discard and
// the old record stays authoritative.
func (m *Manager) Change(oldPassphrase, newPassphrase string) (*PendingChange, error) {
	oldKey, err := m.Verify(oldPassphrase)
	if err != nil {
		return nil, err
	}

	pass, err := normalize(newPassphrase)
	if err != nil {
		kdf.Wipe(oldKey)
		return nil, err
	}
	defer kdf.Wipe(pass)

	oldNorm, err := normalize(oldPassphrase)
	if err == nil {
		same := bytes.Equal(oldNorm, pass)
		kdf.Wipe(oldNorm)
		if same {
			kdf.Wipe(oldKey)
			return nil, ErrUnchanged
		}
	}

	salt, err := kdf.NewSalt(m.rng)
	if err != nil {
		kdf.Wipe(oldKey)
		return nil, err
	}
	verifier, newKey, err := kdf.DeriveKeys(pass, salt, m.params)
	if err != nil {
		kdf.Wipe(oldKey)
		return nil, err
	}
	defer kdf.Wipe(verifier)

	record := Record{
		Version:   recordVersion,
		Salt:      salt,
		Verifier:  verifier,
		Params:    m.params,
		CreatedAt: m.now().Unix(),
	}
	data, err := cbor.Marshal(record)
	if err != nil {
		kdf.Wipe(oldKey)
		kdf.Wipe(newKey)
		return nil, fmt.Errorf("credential: encode record: %w", err)
	}

	return &PendingChange{m: m, record: data, OldKey: oldKey, NewKey: newKey}, nil
}

// Reset deletes the credential record and lockout ledger. This is the
// explicit fresh-install/reset flow; all existing envelopes become
// permanently undecryptable.
func (m *Manager) Reset() error {
	if err := m.store.Delete(securestore.KeyCredential); err != nil {
		return err
	}
	if err := m.lockout.clear(); err != nil {
		return err
	}
	m.log.Warn().Msg("credential reset")
	return nil
}

// RemainingLockout returns the time left in the active lockout window, or
// zero when attempts are allowed.
func (m *Manager) RemainingLockout() (time.Duration, error) {
	return m.lockout.remaining()
}

// RemainingAttempts returns how many more consecutive failures are allowed
// before the lockout window engages.
func (m *Manager) RemainingAttempts() (int, error) {
	return m.lockout.remainingAttempts()
}

// Params returns the cost parameters used for new derivations.
func (m *Manager) Params() kdf.Params {
	return m.params
}

func (m *Manager) loadRecord() (*Record, error) {
	data, err := m.store.Get(securestore.KeyCredential)
	if err != nil {
		if errors.Is(err, securestore.ErrNotFound) {
			return nil, ErrNotSetUp
		}
		return nil, err
	}

	var record Record
	if err := cbor.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if record.Version != recordVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedRecord, record.Version)
	}
	if len(record.Salt) < kdf.MinSaltLength || len(record.Verifier) != kdf.KeyLength {
		return nil, ErrCorruptRecord
	}
	if err := record.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return &record, nil
}

// PendingChange is a derived but uncommitted credential rotation. Exactly
// one of Commit or Discard must be called.
type PendingChange struct {
	m      *Manager
	record []byte

	// OldKey decrypts existing envelopes during rotation.
	OldKey []byte

	// NewKey encrypts envelopes under the replacement credential.
	NewKey []byte
}

// Commit atomically replaces the stored credential record. The old
// passphrase stops verifying the moment this returns.
func (p *PendingChange) Commit() error {
	if err := p.m.store.Set(securestore.KeyCredential, p.record); err != nil {
		return err
	}
	p.m.log.Info().Msg("credential rotated")
	return nil
}

// Discard wipes both keys. Call on any rotation failure and after the keys
// have been handed off.
func (p *PendingChange) Discard() {
	kdf.Wipe(p.OldKey)
	kdf.Wipe(p.NewKey)
}

// normalize applies NFKC so the same logical passphrase typed through
// different input methods derives the same key, then enforces length
// bounds in runes.
func normalize(passphrase string) ([]byte, error) {
	n := norm.NFKC.String(passphrase)
	length := utf8.RuneCountInString(n)
	if length < MinPassphraseLength {
		return nil, ErrPassphraseTooShort
	}
	if length > MaxPassphraseLength {
		return nil, ErrPassphraseTooLong
	}
	return []byte(n), nil
}
