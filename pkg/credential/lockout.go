package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"

	"github.com/knagatomi/lockgate/pkg/securestore"
)

// Policy configures the brute-force lockout: after MaxAttempts consecutive
// failures, verification is rejected for Duration without running the KDF.
type Policy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultPolicy returns five attempts and a five-minute window.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Duration: 5 * time.Minute}
}

// Validate reports whether the policy is usable.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 || p.Duration <= 0 {
		return errors.New("credential: invalid lockout policy")
	}
	return nil
}

// lockoutState is the persisted ledger. It lives in the secure store, not
// in memory, so killing and relaunching the process cannot reset the
// cooldown. Timestamps are unix seconds; LockoutUntil zero means no window.
type lockoutState struct {
	FailedAttempts int   `cbor:"failed_attempts"`
	LockoutUntil   int64 `cbor:"lockout_until"`
	UpdatedAt      int64 `cbor:"updated_at"`
}

type lockout struct {
	store  securestore.Store
	policy Policy
	now    func() time.Time
	log    zerolog.Logger
}

// check returns nil when a verification attempt may proceed. During an
// active window it returns *LockedOutError without any derivation work.
// Expiry is lazy: the first check at or past the deadline clears the ledger.
func (l *lockout) check() error {
	st, err := l.load()
	if err != nil {
		return err
	}
	if st.LockoutUntil == 0 {
		return nil
	}

	until := time.Unix(st.LockoutUntil, 0)
	if now := l.now(); now.Before(until) {
		return &LockedOutError{Remaining: until.Sub(now)}
	}

	l.log.Info().Msg("lockout window expired")
	return l.clear()
}

// recordFailure increments the counter and arms the window when the
// threshold is reached. The counter never climbs past the threshold.
func (l *lockout) recordFailure() error {
	st, err := l.load()
	if err != nil {
		return err
	}

	if st.FailedAttempts < l.policy.MaxAttempts {
		st.FailedAttempts++
	}
	if st.FailedAttempts >= l.policy.MaxAttempts && st.LockoutUntil == 0 {
		until := l.now().Add(l.policy.Duration)
		st.LockoutUntil = until.Unix()
		l.log.Warn().
			Int("failed_attempts", st.FailedAttempts).
			Time("until", until).
			Msg("lockout engaged")
	}
	st.UpdatedAt = l.now().Unix()
	return l.save(st)
}

// clear removes the ledger entirely; absent means zero failures.
func (l *lockout) clear() error {
	return l.store.Delete(securestore.KeyLockout)
}

// remaining returns the time left in the window, zero when attempts are
// allowed. Read-only: expiry still happens lazily in check.
func (l *lockout) remaining() (time.Duration, error) {
	st, err := l.load()
	if err != nil {
		return 0, err
	}
	if st.LockoutUntil == 0 {
		return 0, nil
	}
	until := time.Unix(st.LockoutUntil, 0)
	if now := l.now(); now.Before(until) {
		return until.Sub(now), nil
	}
	return 0, nil
}

func (l *lockout) remainingAttempts() (int, error) {
	st, err := l.load()
	if err != nil {
		return 0, err
	}
	left := l.policy.MaxAttempts - st.FailedAttempts
	if left < 0 {
		left = 0
	}
	return left, nil
}

func (l *lockout) load() (*lockoutState, error) {
	data, err := l.store.Get(securestore.KeyLockout)
	if err != nil {
		if errors.Is(err, securestore.ErrNotFound) {
			return &lockoutState{}, nil
		}
		return nil, err
	}

	var st lockoutState
	if err := cbor.Unmarshal(data, &st); err != nil {
		// A corrupt ledger fails closed: arm one full window rather than
		// treating the damage as zero failures. Persisting it makes the
		// window expirable through the normal lazy path.
		l.log.Error().Err(err).Msg("corrupt lockout state, failing closed")
		armed := &lockoutState{
			FailedAttempts: l.policy.MaxAttempts,
			LockoutUntil:   l.now().Add(l.policy.Duration).Unix(),
			UpdatedAt:      l.now().Unix(),
		}
		if saveErr := l.save(armed); saveErr != nil {
			return nil, saveErr
		}
		return armed, nil
	}
	return &st, nil
}

func (l *lockout) save(st *lockoutState) error {
	data, err := cbor.Marshal(st)
	if err != nil {
		return fmt.Errorf("credential: encode lockout state: %w", err)
	}
	return l.store.Set(securestore.KeyLockout, data)
}
