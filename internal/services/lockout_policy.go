package services

import (
	"fmt"
	"math"
	"time"

	"github.com/covella/loginguard/internal/models"
)

// LockoutPolicy holds the tunable lockout parameters. All decisions are
// pure functions of ledger-derived state and the server clock.
type LockoutPolicy struct {
	// FailureThreshold is the number of failed attempts that triggers a
	// lockout. The boundary is inclusive: the Nth failure locks.
	FailureThreshold int

	// LockoutDuration is the base cooldown once the threshold is crossed.
	LockoutDuration time.Duration

	// FailureWindow is the sliding window in which failures count toward
	// the threshold. Older failures are ignored.
	FailureWindow time.Duration

	// ProgressiveMultiplier scales the cooldown for each repeat lockout
	// within ProgressiveResetPeriod. 1 disables escalation.
	ProgressiveMultiplier float64

	// MaxLockoutDuration caps the escalated cooldown.
	MaxLockoutDuration time.Duration

	// ProgressiveResetPeriod is how long an identifier must stay clean
	// before its repeat-lockout count resets.
	ProgressiveResetPeriod time.Duration
}

// DefaultLockoutPolicy returns the stock policy: 5 failures in 30 minutes
// locks for 15 minutes, quadrupling per repeat lockout up to 24 hours.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		FailureThreshold:       5,
		LockoutDuration:        15 * time.Minute,
		FailureWindow:          30 * time.Minute,
		ProgressiveMultiplier:  4.0,
		MaxLockoutDuration:     24 * time.Hour,
		ProgressiveResetPeriod: 7 * 24 * time.Hour,
	}
}

// Validate rejects unusable parameters. Called once at startup so requests
// never see a misconfigured policy.
func (p LockoutPolicy) Validate() error {
	switch {
	case p.FailureThreshold <= 0:
		return fmt.Errorf("%w: failure threshold must be positive (got %d)", models.ErrPolicyMisconfigured, p.FailureThreshold)
	case p.LockoutDuration <= 0:
		return fmt.Errorf("%w: lockout duration must be positive (got %s)", models.ErrPolicyMisconfigured, p.LockoutDuration)
	case p.FailureWindow <= 0:
		return fmt.Errorf("%w: failure window must be positive (got %s)", models.ErrPolicyMisconfigured, p.FailureWindow)
	case p.ProgressiveMultiplier < 1:
		return fmt.Errorf("%w: progressive multiplier must be >= 1 (got %g)", models.ErrPolicyMisconfigured, p.ProgressiveMultiplier)
	case p.MaxLockoutDuration < p.LockoutDuration:
		return fmt.Errorf("%w: max lockout duration below base duration", models.ErrPolicyMisconfigured)
	}
	return nil
}

// ShouldLock reports whether the given failure count triggers a lockout.
func (p LockoutPolicy) ShouldLock(failures int) bool {
	return failures >= p.FailureThreshold
}

// RemainingAttempts returns the attempts left before lockout, never negative.
func (p LockoutPolicy) RemainingAttempts(failures int) int {
	remaining := p.FailureThreshold - failures
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NextLockoutCount returns the ordinal of a lockout being opened now, given
// the identifier's previous lockout row (nil if none). The count restarts
// at 1 after a sustained clean period.
func (p LockoutPolicy) NextLockoutCount(prev *models.Lockout, now time.Time) int {
	if prev == nil || now.Sub(prev.LockedAt) > p.ProgressiveResetPeriod {
		return 1
	}
	return prev.LockoutCount + 1
}

// DurationFor returns the cooldown for the nth lockout of an identifier:
// base * multiplier^(n-1), capped at MaxLockoutDuration.
func (p LockoutPolicy) DurationFor(lockoutCount int) time.Duration {
	if lockoutCount <= 1 || p.ProgressiveMultiplier == 1 {
		return p.LockoutDuration
	}

	scaled := float64(p.LockoutDuration) * math.Pow(p.ProgressiveMultiplier, float64(lockoutCount-1))
	if scaled > float64(p.MaxLockoutDuration) || scaled < 0 {
		return p.MaxLockoutDuration
	}
	return time.Duration(scaled)
}

// PolicyVerdict is the outcome of evaluating an identifier's state.
type PolicyVerdict struct {
	Locked            bool
	LockedUntil       *time.Time
	RemainingAttempts int

	// OpenNew is set when the threshold was crossed and no window is
	// active yet; the caller persists the new window.
	OpenNew bool
}

// Evaluate decides the lockout status for an identifier from its qualifying
// failure count and its existing lockout row (nil if none). An active
// unexpired window wins; otherwise crossing the threshold yields a new
// window sized by the identifier's repeat-lockout history.
func (p LockoutPolicy) Evaluate(failures int, prev *models.Lockout, now time.Time) PolicyVerdict {
	if prev.Active(now) {
		until := prev.LockedUntil
		return PolicyVerdict{Locked: true, LockedUntil: &until}
	}

	if p.ShouldLock(failures) {
		until := now.Add(p.DurationFor(p.NextLockoutCount(prev, now)))
		return PolicyVerdict{Locked: true, LockedUntil: &until, OpenNew: true}
	}

	return PolicyVerdict{RemainingAttempts: p.RemainingAttempts(failures)}
}
