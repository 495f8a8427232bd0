package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/knagatomi/lockgate/pkg/audit"
	"github.com/knagatomi/lockgate/pkg/biometric"
	"github.com/knagatomi/lockgate/pkg/kdf"
	"github.com/knagatomi/lockgate/pkg/securestore"
)

// BiometricInfo describes the biometric capability as seen right now.
type BiometricInfo struct {
	HardwareAvailable bool
	Enrolled          bool
	Enabled           bool
}

// BiometricStatus reports hardware presence, enrollment, and whether
// biometric unlock is enabled for this install.
func (c *Controller) BiometricStatus() BiometricInfo {
	enabled, err := c.biometricEnabled()
	if err != nil {
		enabled = false
	}
	return BiometricInfo{
		HardwareAvailable: c.gateway.HasHardware(),
		Enrolled:          c.gateway.IsEnrolled(),
		Enabled:           enabled,
	}
}

// EnableBiometric stores a copy of the current session key behind the
// platform biometric gate. Requires an unlocked session.
//
// The bundled file store stands in for the OS keystore: a real platform
// bridge keeps this entry in the keychain under a biometric access policy,
// so the copy is only released after a successful prompt.
func (c *Controller) EnableBiometric() error {
	if !c.gateway.HasHardware() || !c.gateway.IsEnrolled() {
		return ErrBiometricUnavailable
	}

	c.mu.Lock()
	if !c.unlocked {
		c.mu.Unlock()
		return ErrLocked
	}
	key := append([]byte(nil), c.key...)
	c.mu.Unlock()
	defer kdf.Wipe(key)

	if err := c.store.Set(securestore.KeyBiometricKey, key); err != nil {
		return err
	}
	if err := c.store.Set(securestore.KeyBiometricEnabled, []byte{1}); err != nil {
		_ = c.store.Delete(securestore.KeyBiometricKey)
		return err
	}

	c.auditSuccess(audit.OpBiometricEnable)
	c.log.Info().Msg("biometric unlock enabled")
	return nil
}

// DisableBiometric removes the stored key copy and the enabled flag.
// Idempotent; works locked or unlocked.
func (c *Controller) DisableBiometric() error {
	if err := c.store.Delete(securestore.KeyBiometricKey); err != nil {
		return err
	}
	if err := c.store.Delete(securestore.KeyBiometricEnabled); err != nil {
		return err
	}

	c.auditSuccess(audit.OpBiometricDisable)
	c.log.Info().Msg("biometric unlock disabled")
	return nil
}

// UnlockBiometric runs the platform prompt and, on success, unlocks the
// session with the stored key copy. Biometric attempts never touch the
// passphrase lockout ledger: the sensor enforces its own attempt policy,
// and a failed prompt here must not cost the user a passphrase attempt.
func (c *Controller) UnlockBiometric(ctx context.Context) error {
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

	if err := c.isSetUp(); err != nil {
		return err
	}

	enabled, err := c.biometricEnabled()
	if err != nil {
		return err
	}
	if !enabled {
		return ErrBiometricNotEnabled
	}
	if !c.gateway.HasHardware() {
		return ErrBiometricUnavailable
	}

	switch result := c.gateway.Authenticate(ctx, "Unlock lockgate"); result {
	case biometric.ResultSuccess:
	case biometric.ResultCancelled:
		c.log.Info().Msg("biometric prompt cancelled")
		return ErrBiometricCancelled
	case biometric.ResultUnavailable:
		return ErrBiometricUnavailable
	default:
		c.log.Warn().Msg("biometric authentication failed")
		return ErrAuthenticationFailed
	}

	key, err := c.store.Get(securestore.KeyBiometricKey)
	if err != nil {
		if errors.Is(err, securestore.ErrNotFound) {
			// Enabled flag without a key copy: self-heal to disabled.
			_ = c.store.Delete(securestore.KeyBiometricEnabled)
			return ErrBiometricNotEnabled
		}
		return err
	}
	if len(key) != kdf.KeyLength {
		kdf.Wipe(key)
		_ = c.store.Delete(securestore.KeyBiometricKey)
		_ = c.store.Delete(securestore.KeyBiometricEnabled)
		return fmt.Errorf("session: biometric key copy corrupt: %w", ErrBiometricNotEnabled)
	}

	c.commitUnlock(key)
	c.armAudit()
	c.auditSuccess(audit.OpSessionUnlockBiometric)
	c.log.Info().Msg("session unlocked via biometric")
	c.notify(EventUnlocked)
	return nil
}

func (c *Controller) biometricEnabled() (bool, error) {
	_, err := c.store.Get(securestore.KeyBiometricEnabled)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, securestore.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
