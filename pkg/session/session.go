// Package session owns the unlock state machine.
//
// A Controller sits between the UI surfaces and the credential, envelope,
// and audit layers. While unlocked it holds the derived encryption key in
// memory and exposes it only through seal/open operations; Lock and the
// inactivity auto-lock wipe the key. All state transitions are serialized,
// and at most one passphrase verification runs at a time: a second attempt
// is rejected with ErrBusy rather than queued behind a running KDF.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/knagatomi/lockgate/pkg/audit"
	"github.com/knagatomi/lockgate/pkg/biometric"
	"github.com/knagatomi/lockgate/pkg/credential"
	"github.com/knagatomi/lockgate/pkg/envelope"
	"github.com/knagatomi/lockgate/pkg/kdf"
	"github.com/knagatomi/lockgate/pkg/securestore"
)

const (
	// DefaultAutoLockTimeout is the inactivity window after which the
	// session locks itself.
	DefaultAutoLockTimeout = 5 * time.Minute

	// DefaultCheckInterval is how often AutoLockLoop polls for expiry.
	DefaultCheckInterval = 30 * time.Second

	// auditKeyLabel derives the initial audit chain key from the session
	// key. The derived key is then sealed and stored, so it survives
	// passphrase changes unchanged.
	auditKeyLabel = "lockgate/audit/v1"
)

// aadAuditKey binds the sealed audit chain key to its purpose.
var aadAuditKey = []byte("lockgate/audit-key")

var (
	// ErrBusy is returned when a verification attempt is already running.
	ErrBusy = errors.New("session: verification already in progress")

	// ErrLocked is returned by operations that need an unlocked session.
	ErrLocked = errors.New("session: session is locked")

	// ErrBiometricNotEnabled is returned by biometric unlock before
	// EnableBiometric has stored a key copy.
	ErrBiometricNotEnabled = errors.New("session: biometric unlock not enabled")

	// ErrBiometricUnavailable is returned when no usable biometric
	// exists: no hardware, nothing enrolled, or the sensor is busy.
	ErrBiometricUnavailable = errors.New("session: biometric authentication unavailable")

	// ErrBiometricCancelled is returned when the user dismisses the
	// biometric prompt.
	ErrBiometricCancelled = errors.New("session: biometric prompt cancelled")

	// ErrAuthenticationFailed is returned when the biometric did not
	// match. Unlike a wrong passphrase this never advances the lockout
	// ledger; the sensor enforces its own attempt policy.
	ErrAuthenticationFailed = errors.New("session: biometric authentication failed")

	// ErrRekeyAborted is returned when a passphrase change could not
	// re-encrypt or commit atomically. The old passphrase and all stored
	// envelopes remain exactly as they were.
	ErrRekeyAborted = errors.New("session: passphrase change aborted")
)

// Status is the externally visible session state.
type Status int

const (
	// StatusNotSetUp means no credential record exists yet.
	StatusNotSetUp Status = iota

	// StatusLocked means a credential exists and no key is in memory.
	StatusLocked

	// StatusUnlocked means the encryption key is available.
	StatusUnlocked

	// StatusLockedOut means a failed-attempt window is active.
	StatusLockedOut
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusNotSetUp:
		return "not-set-up"
	case StatusLocked:
		return "locked"
	case StatusUnlocked:
		return "unlocked"
	case StatusLockedOut:
		return "locked-out"
	default:
		return "unknown"
	}
}

// Event notifies observers of lock-state transitions.
type Event int

const (
	// EventUnlocked fires after any successful unlock, passphrase or
	// biometric.
	EventUnlocked Event = iota

	// EventLocked fires after an explicit Lock.
	EventLocked

	// EventAutoLocked fires when the inactivity timeout locks the
	// session.
	EventAutoLocked
)

// Config assembles a Controller. Credential and Store are required.
type Config struct {
	Credential *credential.Manager
	Store      securestore.Store

	// Gateway is the platform biometric bridge. Nil disables biometric
	// unlock entirely.
	Gateway biometric.Gateway

	// Audit receives security events. Nil disables audit logging.
	Audit *audit.Logger

	// Suite selects the AEAD used for new envelopes. The zero value
	// means AES-256-GCM; envelopes of either suite always open.
	Suite envelope.Suite

	// AutoLockTimeout is the inactivity window. Zero means
	// DefaultAutoLockTimeout; a negative value disables auto-lock.
	AutoLockTimeout time.Duration

	Rand   io.Reader        // nil -> crypto/rand
	Now    func() time.Time // nil -> time.Now
	Logger *zerolog.Logger  // nil -> no-op
}

// Controller is the session state machine. All methods are safe for
// concurrent use.
type Controller struct {
	creds     *credential.Manager
	store     securestore.Store
	gateway   biometric.Gateway
	audit     *audit.Logger
	sealSuite envelope.Suite
	timeout   time.Duration
	rng       io.Reader
	now       func() time.Time
	log       zerolog.Logger

	mu           sync.Mutex
	unlocked     bool
	key          []byte
	lastActivity time.Time
	verifying    bool
	rekeyer      Rekeyer
	observers    []func(Event)
}

// NewController builds a Controller from cfg.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Credential == nil {
		return nil, errors.New("session: credential manager is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if cfg.Gateway == nil {
		cfg.Gateway = biometric.Unavailable()
	}
	if cfg.Suite == 0 {
		cfg.Suite = envelope.SuiteAESGCM
	}
	if cfg.Suite.NonceLength() == 0 {
		return nil, envelope.ErrUnsupportedSuite
	}
	if cfg.AutoLockTimeout == 0 {
		cfg.AutoLockTimeout = DefaultAutoLockTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Controller{
		creds:     cfg.Credential,
		store:     cfg.Store,
		gateway:   cfg.Gateway,
		audit:     cfg.Audit,
		sealSuite: cfg.Suite,
		timeout:   cfg.AutoLockTimeout,
		rng:       cfg.Rand,
		now:       cfg.Now,
		log:       logger,
	}, nil
}

// Status derives the externally visible state. Store failures while
// probing the credential report the conservative StatusLocked.
func (c *Controller) Status() Status {
	c.mu.Lock()
	unlocked := c.unlocked
	c.mu.Unlock()

	if unlocked {
		return StatusUnlocked
	}
	if ok, err := c.creds.IsSetUp(); err == nil && !ok {
		return StatusNotSetUp
	}
	if remaining, err := c.creds.RemainingLockout(); err == nil && remaining > 0 {
		return StatusLockedOut
	}
	return StatusLocked
}

// Suite returns the AEAD suite new envelopes are sealed with.
func (c *Controller) Suite() envelope.Suite {
	return c.sealSuite
}

// Subscribe registers fn for lock-state transitions. Callbacks run on the
// goroutine that caused the transition, outside the controller's lock.
func (c *Controller) Subscribe(fn func(Event)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Lock wipes the session key. Idempotent.
func (c *Controller) Lock() {
	c.mu.Lock()
	if !c.unlocked {
		c.mu.Unlock()
		return
	}
	c.wipeKeyLocked()
	c.unlocked = false
	c.mu.Unlock()

	c.auditSuccess(audit.OpSessionLock)
	c.disarmAudit()
	c.log.Info().Msg("session locked")
	c.notify(EventLocked)
}

// UpdateActivity marks the session as active now, deferring auto-lock.
func (c *Controller) UpdateActivity() {
	c.mu.Lock()
	if c.unlocked {
		c.lastActivity = c.now()
	}
	c.mu.Unlock()
}

// CheckAutoLock locks the session when more than the configured timeout
// has passed since the last activity. It reports whether this call locked
// the session, so repeated checks after expiry return true exactly once.
func (c *Controller) CheckAutoLock() bool {
	if c.timeout <= 0 {
		return false
	}

	c.mu.Lock()
	if !c.unlocked || c.now().Sub(c.lastActivity) <= c.timeout {
		c.mu.Unlock()
		return false
	}
	c.wipeKeyLocked()
	c.unlocked = false
	c.mu.Unlock()

	c.auditSuccess(audit.OpSessionAutoLock)
	c.disarmAudit()
	c.log.Info().Dur("timeout", c.timeout).Msg("session auto-locked after inactivity")
	c.notify(EventAutoLocked)
	return true
}

// AutoLockLoop polls CheckAutoLock until ctx is done. Run it on its own
// goroutine. A non-positive interval means DefaultCheckInterval.
func (c *Controller) AutoLockLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAutoLock()
		}
	}
}

// EncryptForStorage seals plaintext into a serialized envelope bound to
// aad. Requires an unlocked session; counts as activity.
func (c *Controller) EncryptForStorage(plaintext, aad []byte) ([]byte, error) {
	ciph, err := c.sessionCipher()
	if err != nil {
		return nil, err
	}
	env, err := ciph.Seal(plaintext, aad)
	if err != nil {
		return nil, err
	}
	blob, err := env.MarshalBinary()
	if err != nil {
		return nil, err
	}
	c.UpdateActivity()
	return blob, nil
}

// DecryptFromStorage opens a serialized envelope previously produced by
// EncryptForStorage under the same aad.
func (c *Controller) DecryptFromStorage(blob, aad []byte) ([]byte, error) {
	ciph, err := c.sessionCipher()
	if err != nil {
		return nil, err
	}
	var env envelope.Envelope
	if err := env.UnmarshalBinary(blob); err != nil {
		return nil, err
	}
	plaintext, err := ciph.Open(&env, aad)
	if err != nil {
		return nil, err
	}
	c.UpdateActivity()
	return plaintext, nil
}

// RemainingLockout returns the time left in an active lockout window.
func (c *Controller) RemainingLockout() (time.Duration, error) {
	return c.creds.RemainingLockout()
}

// RemainingAttempts returns how many consecutive failures remain before
// the lockout window engages.
func (c *Controller) RemainingAttempts() (int, error) {
	return c.creds.RemainingAttempts()
}

// Reset locks the session and deletes the credential record, lockout
// ledger, biometric key copy, and sealed audit chain key. Every stored
// envelope becomes permanently undecryptable; callers wipe their own
// stores alongside.
func (c *Controller) Reset() error {
	c.Lock()

	if err := c.creds.Reset(); err != nil {
		return err
	}
	for _, key := range []string{
		securestore.KeyBiometricKey,
		securestore.KeyBiometricEnabled,
		securestore.KeyAuditKey,
	} {
		if err := c.store.Delete(key); err != nil {
			return err
		}
	}
	c.log.Warn().Msg("session state reset")
	return nil
}

// sessionCipher builds an envelope cipher for the current session key. The
// cipher holds expanded AEAD state, never the key itself, so it does not
// outlive a Lock in any usable form; each storage operation builds a fresh
// one.
func (c *Controller) sessionCipher() (*envelope.Cipher, error) {
	c.mu.Lock()
	if !c.unlocked {
		c.mu.Unlock()
		return nil, ErrLocked
	}
	key := append([]byte(nil), c.key...)
	suite := c.sealSuite
	c.mu.Unlock()

	ciph, err := envelope.New(key, suite, c.rng)
	kdf.Wipe(key)
	if err != nil {
		return nil, err
	}
	return ciph, nil
}

// wipeKeyLocked zeroes and drops the session key. Caller holds mu.
func (c *Controller) wipeKeyLocked() {
	_ = kdf.UnlockMemory(c.key)
	kdf.Wipe(c.key)
	c.key = nil
}

func (c *Controller) notify(event Event) {
	c.mu.Lock()
	observers := append(([]func(Event))(nil), c.observers...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(event)
	}
}

// auditRecord writes one audit event, dropping it silently when the chain
// key is not armed (locked-state events have nowhere safe to go).
func (c *Controller) auditRecord(op, result, item, msg string) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Record(op, result, item, msg); err != nil && !errors.Is(err, audit.ErrNoKey) {
		c.log.Warn().Err(err).Str("op", op).Msg("audit record failed")
	}
}

func (c *Controller) auditSuccess(op string) {
	c.auditRecord(op, audit.ResultSuccess, "", "")
}

func (c *Controller) auditFailure(op, msg string) {
	c.auditRecord(op, audit.ResultError, "", msg)
}

func (c *Controller) disarmAudit() {
	if c.audit != nil {
		c.audit.Clear()
	}
}
