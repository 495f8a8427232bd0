package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/knagatomi/lockgate/pkg/credential"
	"github.com/knagatomi/lockgate/pkg/envelope"
	"github.com/knagatomi/lockgate/pkg/securestore"
)

const newTestPassphrase = "battery-staple-horse"

// testRekeyer holds serialized envelopes keyed by their aad and rotates
// them in memory, mimicking the vault's single-transaction pass.
type testRekeyer struct {
	blobs    map[string][]byte
	failWith error
	calls    int
}

func (r *testRekeyer) Rekey(oldCipher, newCipher *envelope.Cipher) (int, error) {
	r.calls++
	if r.failWith != nil {
		return 0, r.failWith
	}

	rotated := make(map[string][]byte, len(r.blobs))
	for aad, blob := range r.blobs {
		var env envelope.Envelope
		if err := env.UnmarshalBinary(blob); err != nil {
			return 0, err
		}
		plain, err := oldCipher.Open(&env, []byte(aad))
		if err != nil {
			return 0, fmt.Errorf("open %s: %w", aad, err)
		}
		resealed, err := newCipher.Seal(plain, []byte(aad))
		if err != nil {
			return 0, err
		}
		out, err := resealed.MarshalBinary()
		if err != nil {
			return 0, err
		}
		rotated[aad] = out
	}
	r.blobs = rotated
	return len(rotated), nil
}

// seedEnvelopes seals n values through the unlocked controller and parks
// them in the rekeyer.
func seedEnvelopes(t *testing.T, ctrl *Controller, rekeyer *testRekeyer, n int) {
	t.Helper()
	rekeyer.blobs = make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		aad := fmt.Sprintf("item-%d", i)
		blob, err := ctrl.EncryptForStorage([]byte("value-"+aad), []byte(aad))
		if err != nil {
			t.Fatalf("EncryptForStorage(%s) error = %v", aad, err)
		}
		rekeyer.blobs[aad] = blob
	}
}

// checkEnvelopes decrypts every parked envelope through the controller and
// compares against the seeded values.
func checkEnvelopes(t *testing.T, ctrl *Controller, rekeyer *testRekeyer) {
	t.Helper()
	for aad, blob := range rekeyer.blobs {
		plain, err := ctrl.DecryptFromStorage(blob, []byte(aad))
		if err != nil {
			t.Fatalf("DecryptFromStorage(%s) error = %v", aad, err)
		}
		if string(plain) != "value-"+aad {
			t.Errorf("DecryptFromStorage(%s) = %q, want %q", aad, plain, "value-"+aad)
		}
	}
}

// TestChangePassphraseRotatesEnvelopes checks the full rotation: the old
// passphrase stops working, the new one unlocks, and every envelope still
// decrypts.
func TestChangePassphraseRotatesEnvelopes(t *testing.T) {
	env := newTestEnv(t)
	rekeyer := &testRekeyer{}
	env.ctrl.SetRekeyer(rekeyer)

	if err := env.ctrl.SetupPassphrase(testPassphrase); err != nil {
		t.Fatalf("SetupPassphrase() error = %v", err)
	}
	seedEnvelopes(t, env.ctrl, rekeyer, 3)

	if err := env.ctrl.ChangePassphrase(testPassphrase, newTestPassphrase); err != nil {
		t.Fatalf("ChangePassphrase() error = %v", err)
	}
	if rekeyer.calls != 1 {
		t.Errorf("rekeyer called %d times, want 1", rekeyer.calls)
	}
	if got := env.ctrl.Status(); got != StatusUnlocked {
		t.Errorf("Status() after change = %v, want StatusUnlocked", got)
	}
	checkEnvelopes(t, env.ctrl, rekeyer)

	env.ctrl.Lock()
	if err := env.ctrl.VerifyPassphrase(testPassphrase); !errors.Is(err, credential.ErrIncorrect) {
		t.Errorf("VerifyPassphrase(old) error = %v, want ErrIncorrect", err)
	}
	if err := env.ctrl.VerifyPassphrase(newTestPassphrase); err != nil {
		t.Fatalf("VerifyPassphrase(new) error = %v", err)
	}
	checkEnvelopes(t, env.ctrl, rekeyer)
}

// TestChangePassphraseRejectsWrongOld checks that a wrong old passphrase
// aborts before anything is touched and counts as a failed attempt.
func TestChangePassphraseRejectsWrongOld(t *testing.T) {
	env := newTestEnv(t)
	rekeyer := &testRekeyer{}
	env.ctrl.SetRekeyer(rekeyer)

	if err := env.ctrl.SetupPassphrase(testPassphrase); err != nil {
		t.Fatalf("SetupPassphrase() error = %v", err)
	}
	seedEnvelopes(t, env.ctrl, rekeyer, 2)

	if err := env.ctrl.ChangePassphrase("wrong-horse", newTestPassphrase); !errors.Is(err, credential.ErrIncorrect) {
		t.Fatalf("ChangePassphrase(wrong old) error = %v, want ErrIncorrect", err)
	}
	if rekeyer.calls != 0 {
		t.Errorf("rekeyer called %d times, want 0", rekeyer.calls)
	}
	if remaining, err := env.ctrl.RemainingAttempts(); err != nil || remaining != 4 {
		t.Errorf("RemainingAttempts() = %d, %v, want 4", remaining, err)
	}
	checkEnvelopes(t, env.ctrl, rekeyer)
}

// TestChangePassphraseRejectsUnchanged checks the same-passphrase guard.
func TestChangePassphraseRejectsUnchanged(t *testing.T) {
	env := newTestEnv(t)

	if err := env.ctrl.SetupPassphrase(testPassphrase); err != nil {
		t.Fatalf("SetupPassphrase() error = %v", err)
	}
	if err := env.ctrl.ChangePassphrase(testPassphrase, testPassphrase); !errors.Is(err, credential.ErrUnchanged) {
		t.Errorf("ChangePassphrase(same) error = %v, want ErrUnchanged", err)
	}
}

// TestChangePassphraseAbortsOnRekeyFailure checks that a failed rotation
// pass leaves the old credential and every envelope authoritative.
func TestChangePassphraseAbortsOnRekeyFailure(t *testing.T) {
	env := newTestEnv(t)
	rekeyer := &testRekeyer{}
	env.ctrl.SetRekeyer(rekeyer)

	if err := env.ctrl.SetupPassphrase(testPassphrase); err != nil {
		t.Fatalf("SetupPassphrase() error = %v", err)
	}
	seedEnvelopes(t, env.ctrl, rekeyer, 2)

	rekeyer.failWith = errors.New("database is locked")
	err := env.ctrl.ChangePassphrase(testPassphrase, newTestPassphrase)
	if !errors.Is(err, ErrRekeyAborted) {
		t.Fatalf("ChangePassphrase() error = %v, want ErrRekeyAborted", err)
	}
	rekeyer.failWith = nil

	env.ctrl.Lock()
	if err := env.ctrl.VerifyPassphrase(newTestPassphrase); !errors.Is(err, credential.ErrIncorrect) {
		t.Errorf("VerifyPassphrase(new) after abort error = %v, want ErrIncorrect", err)
	}
	if err := env.ctrl.VerifyPassphrase(testPassphrase); err != nil {
		t.Fatalf("VerifyPassphrase(old) after abort error = %v", err)
	}
	checkEnvelopes(t, env.ctrl, rekeyer)
}

// TestChangePassphraseRollsBackOnCommitFailure checks the compensation
// path: envelopes were already rotated forward, the credential write
// fails, and the rotation is undone so the old key still opens everything.
func TestChangePassphraseRollsBackOnCommitFailure(t *testing.T) {
	env := newTestEnv(t)
	rekeyer := &testRekeyer{}
	env.ctrl.SetRekeyer(rekeyer)

	if err := env.ctrl.SetupPassphrase(testPassphrase); err != nil {
		t.Fatalf("SetupPassphrase() error = %v", err)
	}
	seedEnvelopes(t, env.ctrl, rekeyer, 2)

	env.store.SetWriteFailure(securestore.KeyCredential, errors.New("disk full"))
	err := env.ctrl.ChangePassphrase(testPassphrase, newTestPassphrase)
	if !errors.Is(err, ErrRekeyAborted) {
		t.Fatalf("ChangePassphrase() error = %v, want ErrRekeyAborted", err)
	}
	if !errors.Is(err, securestore.ErrUnavailable) {
		t.Errorf("ChangePassphrase() error = %v, want cause ErrUnavailable attached", err)
	}
	if rekeyer.calls != 2 {
		t.Errorf("rekeyer called %d times, want 2 (rotate + rollback)", rekeyer.calls)
	}
	env.store.SetWriteFailure(securestore.KeyCredential, nil)

	env.ctrl.Lock()
	if err := env.ctrl.VerifyPassphrase(testPassphrase); err != nil {
		t.Fatalf("VerifyPassphrase(old) after rollback error = %v", err)
	}
	checkEnvelopes(t, env.ctrl, rekeyer)
}

// TestChangePassphraseKeepsAuditChain checks that the audit chain stays
// verifiable across a rotation: the chain key is resealed, not replaced.
func TestChangePassphraseKeepsAuditChain(t *testing.T) {
	env := newTestEnv(t)

	if err := env.ctrl.SetupPassphrase(testPassphrase); err != nil {
		t.Fatalf("SetupPassphrase() error = %v", err)
	}
	env.ctrl.Lock()
	if err := env.ctrl.VerifyPassphrase(testPassphrase); err != nil {
		t.Fatalf("VerifyPassphrase() error = %v", err)
	}
	if err := env.ctrl.ChangePassphrase(testPassphrase, newTestPassphrase); err != nil {
		t.Fatalf("ChangePassphrase() error = %v", err)
	}

	report, err := env.audit.Verify()
	if err != nil {
		t.Fatalf("audit Verify() error = %v", err)
	}
	if !report.Valid {
		t.Errorf("audit chain invalid after rotation, problems = %v", report.Problems)
	}
	if report.Records < 5 {
		t.Errorf("audit chain has %d records, want at least 5", report.Records)
	}
}
