package services_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/covella/loginguard/internal/models"
	"github.com/covella/loginguard/internal/services"
	pkglogger "github.com/covella/loginguard/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a controllable time source shared by store and service
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memoryStore implements AttemptLedger and LockoutStore in memory with the
// same atomicity the SQL store provides.
type memoryStore struct {
	mu       sync.Mutex
	clock    *fakeClock
	attempts []models.LoginAttempt
	lockouts map[string]*models.Lockout
	opened   int

	recordErr  error
	lockoutErr error
	countErr   error
}

func newMemoryStore(clock *fakeClock) *memoryStore {
	return &memoryStore{
		clock:    clock,
		lockouts: make(map[string]*models.Lockout),
	}
}

func (m *memoryStore) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	attempt.AttemptTime = m.clock.Now()
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *memoryStore) RecentAttempts(ctx context.Context, identifier string, window time.Duration, limit int) ([]models.LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	since := m.clock.Now().Add(-window)
	var out []models.LoginAttempt
	for _, a := range m.attempts {
		if a.Identifier == identifier && !a.AttemptTime.Before(since) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptTime.After(out[j].AttemptTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) CountFailuresSince(ctx context.Context, identifier string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	count := 0
	for _, a := range m.attempts {
		if a.Identifier == identifier && !a.Success && !a.AttemptTime.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) CountFailuresByIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, a := range m.attempts {
		if a.IPAddress == ipAddress && !a.Success && !a.AttemptTime.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) LastSuccessTime(ctx context.Context, identifier string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, a := range m.attempts {
		if a.Identifier == identifier && a.Success {
			t := a.AttemptTime
			if last == nil || t.After(*last) {
				last = &t
			}
		}
	}
	return last, nil
}

func (m *memoryStore) GetLockout(ctx context.Context, identifier string) (*models.Lockout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockoutErr != nil {
		return nil, m.lockoutErr
	}
	if l, ok := m.lockouts[identifier]; ok {
		copied := *l
		return &copied, nil
	}
	return nil, nil
}

func (m *memoryStore) OpenLockout(ctx context.Context, identifier string, until time.Time, failureCount, lockoutCount int) (*models.Lockout, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockoutErr != nil {
		return nil, false, m.lockoutErr
	}

	now := m.clock.Now()
	if existing, ok := m.lockouts[identifier]; ok && now.Before(existing.LockedUntil) {
		copied := *existing
		return &copied, false, nil
	}

	l := &models.Lockout{
		Identifier:   identifier,
		LockedAt:     now,
		LockedUntil:  until,
		FailureCount: failureCount,
		LockoutCount: lockoutCount,
	}
	m.lockouts[identifier] = l
	m.opened++
	copied := *l
	return &copied, true, nil
}

func (m *memoryStore) DeleteLockout(ctx context.Context, identifier string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lockouts[identifier]; !ok {
		return false, nil
	}
	delete(m.lockouts, identifier)
	return true, nil
}

func (m *memoryStore) ListActiveLockouts(ctx context.Context) ([]models.Lockout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	var out []models.Lockout
	for _, l := range m.lockouts {
		if now.Before(l.LockedUntil) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func newTestGuard(t *testing.T, store *memoryStore, clock *fakeClock, mutate func(*services.GuardConfig)) *services.GuardService {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := services.GuardConfig{
		Policy: services.LockoutPolicy{
			FailureThreshold:       5,
			LockoutDuration:        15 * time.Minute,
			FailureWindow:          30 * time.Minute,
			ProgressiveMultiplier:  4.0,
			MaxLockoutDuration:     24 * time.Hour,
			ProgressiveResetPeriod: 7 * 24 * time.Hour,
		},
		StorageTimeout: 200 * time.Millisecond,
		RetryBackoff:   time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	guard, err := services.NewGuardService(store, store, cfg, nil, logger, pkglogger.NewAuditLogger(logger))
	require.NoError(t, err)
	guard.SetClock(clock.Now)
	return guard
}

func TestGuardCheckLoginAttempt_DefaultPolicySequence(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(clock)
	guard := newTestGuard(t, store, clock, nil)
	ctx := context.Background()

	// Attempts 1-4 failing: allowed, remaining attempts counting down.
	for i, wantRemaining := range []int{4, 3, 2, 1} {
		result, err := guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "Mozilla/5.0", false)
		require.NoError(t, err, "attempt %d", i+1)
		assert.True(t, result.Allowed, "attempt %d", i+1)
		assert.Equal(t, models.ReasonNone, result.Reason)
		assert.Equal(t, wantRemaining, result.RemainingAttempts, "attempt %d", i+1)
	}

	// Attempt 5 is the triggering failure: itself allowed, locks what follows.
	result, err := guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "Mozilla/5.0", false)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, models.ReasonNone, result.Reason)
	assert.Equal(t, 0, result.RemainingAttempts)

	// Attempt 6, even with correct credentials, is locked out.
	result, err = guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "Mozilla/5.0", true)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, models.ReasonLocked, result.Reason)
	require.NotNil(t, result.LockedUntil)
	assert.Equal(t, clock.Now().Add(15*time.Minute), *result.LockedUntil)

	status, err := guard.GetAccountStatus(ctx, "buyer@example.com")
	require.NoError(t, err)
	assert.True(t, status.Locked)
}

func TestGuardCheckLoginAttempt_SuccessResetsFailureCount(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(clock)
	guard := newTestGuard(t, store, clock, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "", false)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	result, err := guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "", true)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	// Next failure counts from a clean slate.
	clock.Advance(time.Second)
	result, err = guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "", false)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 4, result.RemainingAttempts)
}

func TestGuardCheckLoginAttempt_SuccessDuringLockoutDoesNotClear(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(clock)
	guard := newTestGuard(t, store, clock, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "", false)
		require.NoError(t, err)
	}

	lockedUntil := store.lockouts["buyer@example.com"].LockedUntil

	// A correct-credential attempt during the window is denied and must
	// not shift the lockout.
	result, err := guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "", true)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, models.ReasonLocked, result.Reason)
	assert.Equal(t, lockedUntil, store.lockouts["buyer@example.com"].LockedUntil)

	status, err := guard.GetAccountStatus(ctx, "buyer@example.com")
	require.NoError(t, err)
	assert.True(t, status.Locked)
}

func TestGuardCheckLoginAttempt_FreshWindowAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(clock)
	guard := newTestGuard(t, store, clock, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "", false)
		require.NoError(t, err)
	}

	// Hammering during the window neither counts nor extends.
	clock.Advance(5 * time.Minute)
	result, err := guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "", false)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, models.ReasonLocked, result.Reason)

	clock.Advance(11 * time.Minute) // past the 15 minute window

	// A failure after expiry is evaluated against a fresh count.
	result, err = guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "", false)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 4, result.RemainingAttempts)

	// And a correct-credential attempt succeeds.
	result, err = guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "", true)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, models.ReasonNone, result.Reason)
}

func TestGuardCheckLoginAttempt_ConcurrentBurstOpensOneLockout(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(clock)
	guard := newTestGuard(t, store, clock, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "", false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.opened, "exactly one lockout window must be opened")

	status, err := guard.GetAccountStatus(ctx, "buyer@example.com")
	require.NoError(t, err)
	assert.True(t, status.Locked)
	require.NotNil(t, status.LockedUntil)
	assert.Equal(t, clock.Now().Add(15*time.Minute), *status.LockedUntil)
}

func TestGuardCheckLoginAttempt_ProgressiveLockoutEscalates(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(clock)
	guard := newTestGuard(t, store, clock, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "", false)
		require.NoError(t, err)
	}
	first := store.lockouts["buyer@example.com"]
	assert.Equal(t, 15*time.Minute, first.LockedUntil.Sub(clock.Now()))

	// Wait out the window, then cross the threshold again.
	clock.Advance(16 * time.Minute)
	for i := 0; i < 5; i++ {
		_, err := guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "", false)
		require.NoError(t, err)
	}

	second := store.lockouts["buyer@example.com"]
	assert.Equal(t, 2, second.LockoutCount)
	assert.Equal(t, time.Hour, second.LockedUntil.Sub(clock.Now()))
}

func TestGuardCheckLoginAttempt_IPThrottling(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(clock)
	guard := newTestGuard(t, store, clock, func(cfg *services.GuardConfig) {
		cfg.MaxFailuresPerIP = 3
	})
	ctx := context.Background()

	// Distributed attack: different identifiers, one origin.
	for _, id := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		result, err := guard.CheckLoginAttempt(ctx, id, "198.51.100.9", "", false)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := guard.CheckLoginAttempt(ctx, "d@example.com", "198.51.100.9", "", false)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, models.ReasonThrottled, result.Reason)

	// Other IPs are unaffected.
	result, err = guard.CheckLoginAttempt(ctx, "e@example.com", "198.51.100.10", "", false)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestGuardCheckLoginAttempt_FailOpenOnStorageOutage(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(clock)
	store.lockoutErr = models.ErrStorageUnavailable
	guard := newTestGuard(t, store, clock, nil)

	result, err := guard.CheckLoginAttempt(context.Background(), "buyer@example.com", "203.0.113.7", "", false)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, models.ReasonNone, result.Reason)
}

func TestGuardCheckLoginAttempt_FailClosedOnStorageOutage(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(clock)
	store.lockoutErr = models.ErrStorageUnavailable
	guard := newTestGuard(t, store, clock, func(cfg *services.GuardConfig) {
		cfg.FailClosed = true
	})

	_, err := guard.CheckLoginAttempt(context.Background(), "buyer@example.com", "203.0.113.7", "", false)
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
}

func TestGuardCheckLoginAttempt_InvalidInput(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(clock)
	guard := newTestGuard(t, store, clock, nil)

	_, err := guard.CheckLoginAttempt(context.Background(), "  ", "203.0.113.7", "", false)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = guard.CheckLoginAttempt(context.Background(), "buyer@example.com", "", "", false)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	// Rejected input must not touch the ledger.
	assert.Empty(t, store.attempts)
}

func TestGuardNewGuardService_RejectsMisconfiguredPolicy(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	clock := newFakeClock()
	store := newMemoryStore(clock)

	cfg := services.GuardConfig{
		Policy: services.LockoutPolicy{
			FailureThreshold: 0,
			LockoutDuration:  15 * time.Minute,
			FailureWindow:    30 * time.Minute,
		},
	}

	_, err := services.NewGuardService(store, store, cfg, nil, logger, pkglogger.NewAuditLogger(logger))
	assert.ErrorIs(t, err, models.ErrPolicyMisconfigured)
}

func TestGuardUnlock(t *testing.T) {
	clock := newFakeClock()
	store := newMemoryStore(clock)
	guard := newTestGuard(t, store, clock, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := guard.CheckLoginAttempt(ctx, "buyer@example.com", "203.0.113.7", "", false)
		require.NoError(t, err)
	}

	require.NoError(t, guard.Unlock(ctx, "buyer@example.com"))

	status, err := guard.GetAccountStatus(ctx, "buyer@example.com")
	require.NoError(t, err)
	assert.False(t, status.Locked)

	// Unlocking an identifier without a lockout row reports not found.
	err = guard.Unlock(ctx, "clean@example.com")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
