package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/covella/loginguard/internal/guardtime"
	"github.com/covella/loginguard/internal/models"
	pkglogger "github.com/covella/loginguard/pkg/logger"
)

// AttemptLedger defines the ledger operations the guard needs
type AttemptLedger interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	RecentAttempts(ctx context.Context, identifier string, window time.Duration, limit int) ([]models.LoginAttempt, error)
	CountFailuresSince(ctx context.Context, identifier string, since time.Time) (int, error)
	CountFailuresByIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error)
	LastSuccessTime(ctx context.Context, identifier string) (*time.Time, error)
}

// LockoutStore defines the lockout persistence operations the guard needs
type LockoutStore interface {
	GetLockout(ctx context.Context, identifier string) (*models.Lockout, error)
	OpenLockout(ctx context.Context, identifier string, until time.Time, failureCount, lockoutCount int) (*models.Lockout, bool, error)
	DeleteLockout(ctx context.Context, identifier string) (bool, error)
	ListActiveLockouts(ctx context.Context) ([]models.Lockout, error)
}

// GuardConfig holds guard behavior beyond the lockout policy itself.
type GuardConfig struct {
	Policy LockoutPolicy

	// MaxFailuresPerIP throttles an IP across all identifiers once its
	// failures in the failure window reach this count. 0 disables it.
	MaxFailuresPerIP int

	// FailClosed denies logins when storage is unreachable. The default
	// (false) fails open: a storage outage must not lock out the whole
	// user base.
	FailClosed bool

	// StorageTimeout bounds each storage call; RetryBackoff is the pause
	// before the single retry.
	StorageTimeout time.Duration
	RetryBackoff   time.Duration
}

// GuardService records login attempts and enforces the lockout policy.
// It is safe for concurrent use; the single-lockout-per-burst guarantee
// comes from the store's conditional upsert, not from locking here.
type GuardService struct {
	ledger      AttemptLedger
	lockouts    LockoutStore
	cfg         GuardConfig
	delay       *guardtime.Delay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewGuardService creates a new GuardService. The policy is validated here;
// a misconfigured policy is a startup error, never a per-request one.
func NewGuardService(ledger AttemptLedger, lockouts LockoutStore, cfg GuardConfig, delay *guardtime.Delay, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) (*GuardService, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 3 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}

	return &GuardService{
		ledger:      ledger,
		lockouts:    lockouts,
		cfg:         cfg,
		delay:       delay,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}, nil
}

// SetClock overrides the guard's time source.
func (s *GuardService) SetClock(now func() time.Time) {
	s.now = now
}

// CheckLoginAttempt records one login attempt and returns the verdict.
//
// The attempt is recorded first so even rejected attempts are auditable.
// Whether THIS attempt was permitted is decided from the pre-attempt
// lockout state; a failure that crosses the threshold is itself allowed
// and locks subsequent attempts. A success submitted during an active
// lockout is denied and does not clear the lockout.
func (s *GuardService) CheckLoginAttempt(ctx context.Context, identifier, ipAddress, userAgent string, success bool) (*models.CheckResult, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || ipAddress == "" {
		return nil, fmt.Errorf("%w: identifier and ip address are required", models.ErrInvalidInput)
	}

	now := s.now()

	// Pre-attempt state.
	prev, err := s.getLockout(ctx, identifier)
	if err != nil {
		return s.degrade("lockout lookup", err)
	}

	ipFailures := 0
	if s.cfg.MaxFailuresPerIP > 0 {
		ipFailures, err = s.countIPFailures(ctx, ipAddress, now.Add(-s.cfg.Policy.FailureWindow))
		if err != nil {
			return s.degrade("ip failure count", err)
		}
	}

	// Record before deciding so the ledger stays complete.
	attempt := &models.LoginAttempt{
		Identifier: identifier,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		Success:    success,
		ExpiresAt:  now.Add(2 * s.cfg.Policy.FailureWindow),
	}
	if err := s.recordAttempt(ctx, attempt); err != nil {
		if s.cfg.FailClosed {
			return nil, err
		}
		// Fail open: an unrecorded attempt must not block the login flow.
		s.logger.Warn("attempt not recorded, continuing fail-open",
			slog.String("identifier", identifier), slog.Any("error", err))
	}

	if prev.Active(now) {
		until := prev.LockedUntil
		result := &models.CheckResult{Allowed: false, Reason: models.ReasonLocked, LockedUntil: &until}
		s.audit(identifier, ipAddress, userAgent, success, "lockout_active")
		s.delayDenied()
		return result, nil
	}

	if s.cfg.MaxFailuresPerIP > 0 && ipFailures >= s.cfg.MaxFailuresPerIP {
		result := &models.CheckResult{
			Allowed:           false,
			Reason:            models.ReasonThrottled,
			RemainingAttempts: s.cfg.Policy.RemainingAttempts(0),
		}
		s.logger.Warn("ip throttled",
			slog.String("ip_address", ipAddress),
			slog.Int("failed_attempts", ipFailures))
		s.audit(identifier, ipAddress, userAgent, success, "ip_throttled")
		s.delayDenied()
		return result, nil
	}

	if success {
		// Recording the success is the reset: failures are only counted
		// after the most recent success.
		s.audit(identifier, ipAddress, userAgent, true, "")
		return &models.CheckResult{
			Allowed:           true,
			Reason:            models.ReasonNone,
			RemainingAttempts: s.cfg.Policy.FailureThreshold,
		}, nil
	}

	failures, err := s.countFailures(ctx, identifier, prev, now)
	if err != nil {
		return s.degrade("failure count", err)
	}

	verdict := s.cfg.Policy.Evaluate(failures, prev, now)
	if verdict.OpenNew {
		lockout, opened, err := s.openLockout(ctx, identifier, *verdict.LockedUntil, failures, s.cfg.Policy.NextLockoutCount(prev, now))
		if err != nil {
			if s.cfg.FailClosed {
				return nil, err
			}
			s.logger.Error("failed to open lockout window",
				slog.String("identifier", identifier), slog.Any("error", err))
		} else if opened {
			s.logger.Warn("lockout window opened",
				slog.String("identifier", identifier),
				slog.Int("failures", failures),
				slog.Time("locked_until", lockout.LockedUntil))
			s.auditLogger.LogLockoutOpened(identifier, ipAddress, failures, lockout.LockedUntil)
		}
	}

	// This failure was itself permitted; the new window, if any, applies
	// to subsequent attempts.
	s.audit(identifier, ipAddress, userAgent, false, "invalid_credentials")
	s.delayDenied()
	return &models.CheckResult{
		Allowed:           true,
		Reason:            models.ReasonNone,
		RemainingAttempts: s.cfg.Policy.RemainingAttempts(failures),
	}, nil
}

// GetAccountStatus returns a side-effect-free snapshot of an identifier's
// lockout state for display and admin purposes.
func (s *GuardService) GetAccountStatus(ctx context.Context, identifier string) (*models.AccountStatus, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", models.ErrInvalidInput)
	}

	now := s.now()

	prev, err := s.getLockout(ctx, identifier)
	if err != nil {
		return nil, err
	}

	failures, err := s.countFailures(ctx, identifier, prev, now)
	if err != nil {
		return nil, err
	}

	status := &models.AccountStatus{
		Identifier:   identifier,
		FailureCount: failures,
	}
	if prev.Active(now) {
		until := prev.LockedUntil
		status.Locked = true
		status.LockedUntil = &until
	}

	return status, nil
}

// RecentAttempts returns an identifier's attempt history within the failure
// window, newest first.
func (s *GuardService) RecentAttempts(ctx context.Context, identifier string, limit int) ([]models.LoginAttempt, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", models.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	return s.ledger.RecentAttempts(ctx, identifier, s.cfg.Policy.FailureWindow, limit)
}

// ListActiveLockouts returns all currently locked identifiers.
func (s *GuardService) ListActiveLockouts(ctx context.Context) ([]models.Lockout, error) {
	return s.lockouts.ListActiveLockouts(ctx)
}

// Unlock force-clears an identifier's lockout. Returns ErrNotFound when no
// lockout row exists.
func (s *GuardService) Unlock(ctx context.Context, identifier string) error {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" {
		return fmt.Errorf("%w: identifier is required", models.ErrInvalidInput)
	}

	deleted, err := s.lockouts.DeleteLockout(ctx, identifier)
	if err != nil {
		return err
	}
	if !deleted {
		return models.ErrNotFound
	}

	s.logger.Info("lockout cleared by admin", slog.String("identifier", identifier))
	s.auditLogger.LogUnlock(identifier)
	return nil
}

// countFailures counts the failures that qualify toward the threshold:
// inside the sliding window, after the most recent success, and after the
// end of the last lockout window. Attempts hammered during a lockout never
// inflate the next cooldown.
func (s *GuardService) countFailures(ctx context.Context, identifier string, prev *models.Lockout, now time.Time) (int, error) {
	since := now.Add(-s.cfg.Policy.FailureWindow)

	var lastSuccess *time.Time
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		lastSuccess, err = s.ledger.LastSuccessTime(ctx, identifier)
		return err
	})
	if err != nil {
		return 0, err
	}

	if lastSuccess != nil && lastSuccess.After(since) {
		since = *lastSuccess
	}
	if prev != nil && prev.LockedUntil.After(since) {
		since = prev.LockedUntil
	}

	var count int
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		count, err = s.ledger.CountFailuresSince(ctx, identifier, since)
		return err
	})
	return count, err
}

func (s *GuardService) getLockout(ctx context.Context, identifier string) (*models.Lockout, error) {
	var lockout *models.Lockout
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		lockout, err = s.lockouts.GetLockout(ctx, identifier)
		return err
	})
	return lockout, err
}

func (s *GuardService) openLockout(ctx context.Context, identifier string, until time.Time, failures, lockoutCount int) (*models.Lockout, bool, error) {
	var (
		lockout *models.Lockout
		opened  bool
	)
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		lockout, opened, err = s.lockouts.OpenLockout(ctx, identifier, until, failures, lockoutCount)
		return err
	})
	return lockout, opened, err
}

func (s *GuardService) recordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		return s.ledger.RecordAttempt(ctx, attempt)
	})
}

func (s *GuardService) countIPFailures(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	var count int
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		count, err = s.ledger.CountFailuresByIPSince(ctx, ipAddress, since)
		return err
	})
	return count, err
}

// withRetry runs a storage call with the configured timeout and at most one
// retry after a short backoff. The final error is always distinguishable as
// ErrStorageUnavailable.
func (s *GuardService) withRetry(ctx context.Context, fn func(context.Context) error) error {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	err := fn(opCtx)
	cancel()
	if err == nil {
		return nil
	}

	select {
	case <-time.After(s.cfg.RetryBackoff):
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, ctx.Err())
	}

	opCtx, cancel = context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()
	if err := fn(opCtx); err != nil {
		if errors.Is(err, models.ErrStorageUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

// degrade applies the configured fail-open/fail-closed policy after a
// storage failure on the evaluation path.
func (s *GuardService) degrade(op string, err error) (*models.CheckResult, error) {
	if s.cfg.FailClosed {
		return nil, err
	}

	s.logger.Warn("storage degraded, failing open", slog.String("op", op), slog.Any("error", err))
	return &models.CheckResult{
		Allowed:           true,
		Reason:            models.ReasonNone,
		RemainingAttempts: s.cfg.Policy.FailureThreshold,
	}, nil
}

func (s *GuardService) delayDenied() {
	if s.delay != nil {
		s.delay.Wait(false)
	}
}

func (s *GuardService) audit(identifier, ipAddress, userAgent string, success bool, failureReason string) {
	s.auditLogger.LogLoginAttempt(pkglogger.AttemptEvent{
		Identifier:    identifier,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		Success:       success,
		FailureReason: failureReason,
	})
}
