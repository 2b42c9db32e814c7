package models

import "time"

// LoginAttempt represents a single recorded login attempt.
// Attempts are immutable once recorded; the ledger is append-only.
type LoginAttempt struct {
	ID          string    `json:"id" db:"id"`
	Identifier  string    `json:"identifier" db:"identifier"`
	IPAddress   string    `json:"ip_address" db:"ip_address"`
	UserAgent   string    `json:"user_agent,omitempty" db:"user_agent"`
	Success     bool      `json:"success" db:"success"`
	AttemptTime time.Time `json:"attempt_time" db:"attempt_time"`
	ExpiresAt   time.Time `json:"-" db:"expires_at"`
}

// Lockout is a persisted lockout window for an identifier. At most one row
// exists per identifier; repeat lockouts update the row in place and bump
// LockoutCount, which drives progressive lockout durations.
type Lockout struct {
	Identifier   string    `json:"identifier" db:"identifier"`
	LockedAt     time.Time `json:"locked_at" db:"locked_at"`
	LockedUntil  time.Time `json:"locked_until" db:"locked_until"`
	FailureCount int       `json:"failure_count" db:"failure_count"`
	LockoutCount int       `json:"lockout_count" db:"lockout_count"`
}

// Active reports whether the lockout window covers the given instant.
func (l *Lockout) Active(now time.Time) bool {
	return l != nil && now.Before(l.LockedUntil)
}

// Reason explains a guard verdict to the caller.
type Reason string

const (
	ReasonNone      Reason = "NONE"
	ReasonLocked    Reason = "LOCKED"
	ReasonThrottled Reason = "THROTTLED"
)

// CheckResult is the verdict returned for a single login attempt.
type CheckResult struct {
	Allowed           bool       `json:"allowed"`
	Reason            Reason     `json:"reason"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
	RemainingAttempts int        `json:"remaining_attempts"`
}

// AccountStatus is a read-only snapshot for display and admin purposes.
type AccountStatus struct {
	Identifier   string     `json:"identifier"`
	Locked       bool       `json:"locked"`
	LockedUntil  *time.Time `json:"locked_until,omitempty"`
	FailureCount int        `json:"failure_count"`
}
