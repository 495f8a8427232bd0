package session

import (
	"errors"
	"fmt"

	"github.com/knagatomi/lockgate/pkg/audit"
	"github.com/knagatomi/lockgate/pkg/envelope"
	"github.com/knagatomi/lockgate/pkg/kdf"
	"github.com/knagatomi/lockgate/pkg/securestore"
)

// Rekeyer re-encrypts every stored envelope from the old cipher to the new
// one and reports how many it rotated. Implementations must run the whole
// pass in a single transaction: after Rekey returns, either every envelope
// carries the new key or none does.
type Rekeyer interface {
	Rekey(oldCipher, newCipher *envelope.Cipher) (int, error)
}

// SetRekeyer registers the envelope store that must be rotated when the
// passphrase changes.
func (c *Controller) SetRekeyer(r Rekeyer) {
	c.mu.Lock()
	c.rekeyer = r
	c.mu.Unlock()
}

// ChangePassphrase rotates the credential. The old passphrase is verified
// first (an active lockout window applies and a wrong old passphrase
// counts as a failed attempt), then every stored envelope is re-encrypted
// under the new key, and only then does the new credential record replace
// the old one.
//
// The operation is atomic from the caller's point of view: on any failure
// it returns ErrRekeyAborted with the cause attached, the old passphrase
// keeps working, and stored envelopes still decrypt. On success the
// session is left unlocked under the new key.
func (c *Controller) ChangePassphrase(oldPassphrase, newPassphrase string) error {
	if err := c.beginExclusive(); err != nil {
		return err
	}
	defer c.endExclusive()

	pending, err := c.creds.Change(oldPassphrase, newPassphrase)
	if err != nil {
		c.log.Warn().Err(err).Msg("passphrase change rejected")
		return err
	}

	oldCipher, err := envelope.New(pending.OldKey, c.sealSuite, c.rng)
	if err != nil {
		pending.Discard()
		return err
	}
	newCipher, err := envelope.New(pending.NewKey, c.sealSuite, c.rng)
	if err != nil {
		pending.Discard()
		return err
	}

	c.mu.Lock()
	rekeyer := c.rekeyer
	c.mu.Unlock()

	rotated := 0
	if rekeyer != nil {
		rotated, err = rekeyer.Rekey(oldCipher, newCipher)
		if err != nil {
			pending.Discard()
			c.auditFailure(audit.OpCredentialChange, err.Error())
			return fmt.Errorf("%w: re-encrypt stored envelopes: %w", ErrRekeyAborted, err)
		}
	}

	if err := pending.Commit(); err != nil {
		// The envelopes already carry the new key. Roll them back so the
		// store matches the still-authoritative old credential.
		if rekeyer != nil {
			if _, rbErr := rekeyer.Rekey(newCipher, oldCipher); rbErr != nil {
				c.log.Error().Err(rbErr).
					Msg("rollback after failed credential commit also failed, store and credential disagree")
			}
		}
		pending.Discard()
		c.auditFailure(audit.OpCredentialChange, err.Error())
		return fmt.Errorf("%w: commit credential record: %w", ErrRekeyAborted, err)
	}

	c.carryAuxiliaryKeys(oldCipher, newCipher, pending.NewKey)

	newKey := append([]byte(nil), pending.NewKey...)
	pending.Discard()
	c.commitUnlock(newKey)
	c.armAudit()

	c.auditSuccess(audit.OpCredentialChange)
	c.auditSuccess(audit.OpRekeyComplete)
	c.log.Info().Int("envelopes", rotated).Msg("passphrase changed")
	c.notify(EventUnlocked)
	return nil
}

// carryAuxiliaryKeys moves the sealed audit chain key and the biometric
// key copy over to the new session key. Both are best-effort after the
// credential commit: a lost audit chain key starts a new chain on the next
// unlock, and a biometric copy that cannot be refreshed is removed rather
// than left holding the old key.
func (c *Controller) carryAuxiliaryKeys(oldCipher, newCipher *envelope.Cipher, newKey []byte) {
	if err := c.resealStoredKey(securestore.KeyAuditKey, aadAuditKey, oldCipher, newCipher); err != nil {
		c.log.Warn().Err(err).Msg("audit chain key reseal failed, chain will restart")
	}

	enabled, err := c.biometricEnabled()
	if err != nil || !enabled {
		return
	}
	if err := c.store.Set(securestore.KeyBiometricKey, newKey); err != nil {
		c.log.Warn().Err(err).Msg("biometric key refresh failed, disabling biometric unlock")
		_ = c.store.Delete(securestore.KeyBiometricKey)
		_ = c.store.Delete(securestore.KeyBiometricEnabled)
	}
}

// resealStoredKey re-wraps one sealed store entry from oldCipher to
// newCipher. A missing entry is not an error.
func (c *Controller) resealStoredKey(storeKey string, aad []byte, oldCipher, newCipher *envelope.Cipher) error {
	blob, err := c.store.Get(storeKey)
	if errors.Is(err, securestore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var env envelope.Envelope
	if err := env.UnmarshalBinary(blob); err != nil {
		return err
	}
	raw, err := oldCipher.Open(&env, aad)
	if err != nil {
		return err
	}
	defer kdf.Wipe(raw)

	resealed, err := newCipher.Seal(raw, aad)
	if err != nil {
		return err
	}
	out, err := resealed.MarshalBinary()
	if err != nil {
		return err
	}
	return c.store.Set(storeKey, out)
}
