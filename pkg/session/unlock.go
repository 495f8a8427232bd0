package session

import (
	"errors"
	"fmt"

	"github.com/knagatomi/lockgate/pkg/audit"
	"github.com/knagatomi/lockgate/pkg/credential"
	"github.com/knagatomi/lockgate/pkg/envelope"
	"github.com/knagatomi/lockgate/pkg/kdf"
	"github.com/knagatomi/lockgate/pkg/securestore"
)

// SetupPassphrase creates the credential from passphrase and unlocks the
// session with the derived key. Fails with credential.ErrAlreadySetUp when
// a credential exists; overwriting requires an explicit Reset first.
func (c *Controller) SetupPassphrase(passphrase string) error {
	if err := c.beginExclusive(); err != nil {
		return err
	}
	defer c.endExclusive()

	key, err := c.creds.Setup(passphrase)
	if err != nil {
		c.log.Warn().Err(err).Msg("credential setup failed")
		return err
	}

	c.commitUnlock(key)
	c.armAudit()
	c.auditSuccess(audit.OpCredentialSetup)
	c.log.Info().Msg("credential created, session unlocked")
	c.notify(EventUnlocked)
	return nil
}

// VerifyPassphrase checks passphrase against the stored credential and
// unlocks the session on success. An already unlocked session returns nil
// without running the KDF.
//
// Failure modes pass through from the credential layer: ErrIncorrect for a
// wrong passphrase, *LockedOutError during an active window, ErrNotSetUp
// when no credential exists, and wrapped store errors when the backing
// store cannot be read.
func (c *Controller) VerifyPassphrase(passphrase string) error {
	if err := c.beginExclusive(); err != nil {
		return err
	}
	defer c.endExclusive()

	c.mu.Lock()
	if c.unlocked {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	key, err := c.creds.Verify(passphrase)
	if err != nil {
		c.log.Warn().Err(err).Msg("unlock failed")
		return err
	}

	c.commitUnlock(key)
	c.armAudit()
	c.auditSuccess(audit.OpSessionUnlock)
	c.log.Info().Msg("session unlocked")
	c.notify(EventUnlocked)
	return nil
}

// VerifyPassphraseAsync runs VerifyPassphrase on its own goroutine so UI
// threads never block on the KDF. The channel is buffered; abandoning it
// leaks nothing.
func (c *Controller) VerifyPassphraseAsync(passphrase string) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.VerifyPassphrase(passphrase)
	}()
	return done
}

// beginExclusive reserves the single verification slot. Concurrent
// attempts are rejected with ErrBusy rather than queued, so at most one
// KDF derivation runs at a time.
func (c *Controller) beginExclusive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.verifying {
		return ErrBusy
	}
	c.verifying = true
	return nil
}

func (c *Controller) endExclusive() {
	c.mu.Lock()
	c.verifying = false
	c.mu.Unlock()
}

// commitUnlock installs key as the session key and marks the session
// unlocked. Takes ownership of key.
func (c *Controller) commitUnlock(key []byte) {
	c.mu.Lock()
	c.wipeKeyLocked()
	c.key = key
	if err := kdf.LockMemory(c.key); err != nil {
		c.log.Debug().Err(err).Msg("session key mlock failed")
	}
	c.unlocked = true
	c.lastActivity = c.now()
	c.mu.Unlock()
}

// armAudit loads the sealed audit chain key, provisioning one on first
// use, and installs it in the audit logger. Best-effort: an unreadable
// chain key degrades to an unaudited session, never a failed unlock.
func (c *Controller) armAudit() {
	if c.audit == nil {
		return
	}

	ciph, err := c.sessionCipher()
	if err != nil {
		return
	}

	raw, err := c.loadAuditKey(ciph)
	if err != nil {
		c.log.Warn().Err(err).Msg("audit chain key unavailable")
		return
	}
	if err := c.audit.SetKey(raw); err != nil {
		c.log.Warn().Err(err).Msg("audit logger arm failed")
	}
	kdf.Wipe(raw)
}

func (c *Controller) loadAuditKey(ciph *envelope.Cipher) ([]byte, error) {
	blob, err := c.store.Get(securestore.KeyAuditKey)
	if errors.Is(err, securestore.ErrNotFound) {
		return c.provisionAuditKey(ciph)
	}
	if err != nil {
		return nil, err
	}

	var env envelope.Envelope
	if err := env.UnmarshalBinary(blob); err != nil {
		c.log.Warn().Err(err).Msg("audit chain key corrupt, starting a new chain")
		return c.provisionAuditKey(ciph)
	}
	raw, err := ciph.Open(&env, aadAuditKey)
	if err != nil {
		c.log.Warn().Err(err).Msg("audit chain key unreadable, starting a new chain")
		return c.provisionAuditKey(ciph)
	}
	return raw, nil
}

// provisionAuditKey derives a fresh chain key from the session key, seals
// it, and stores it. After this the chain key is an opaque stored secret:
// passphrase changes re-seal the same key, so the chain stays verifiable
// across rotations.
func (c *Controller) provisionAuditKey(ciph *envelope.Cipher) ([]byte, error) {
	c.mu.Lock()
	if !c.unlocked {
		c.mu.Unlock()
		return nil, ErrLocked
	}
	raw, err := kdf.Subkey(c.key, auditKeyLabel)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	env, err := ciph.Seal(raw, aadAuditKey)
	if err != nil {
		kdf.Wipe(raw)
		return nil, err
	}
	blob, err := env.MarshalBinary()
	if err != nil {
		kdf.Wipe(raw)
		return nil, err
	}
	if err := c.store.Set(securestore.KeyAuditKey, blob); err != nil {
		kdf.Wipe(raw)
		return nil, fmt.Errorf("session: store audit chain key: %w", err)
	}
	return raw, nil
}

// isSetUp probes for a credential record, mapping absence to
// credential.ErrNotSetUp and store failures through unchanged.
func (c *Controller) isSetUp() error {
	ok, err := c.creds.IsSetUp()
	if err != nil {
		return err
	}
	if !ok {
		return credential.ErrNotSetUp
	}
	return nil
}
