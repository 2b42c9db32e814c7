package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/covella/loginguard/internal/repositories"
)

// CleanupManager periodically prunes expired attempt and lockout rows so
// the ledger only carries what the policy can still use.
type CleanupManager struct {
	attempts         *repositories.AttemptRepository
	lockouts         *repositories.LockoutRepository
	logger           *slog.Logger
	interval         time.Duration
	lockoutRetention time.Duration
	stopCh           chan struct{}
}

// NewCleanupManager creates a new cleanup manager. Expired lockout rows are
// kept for lockoutRetention after expiry so progressive lockout counting
// still sees recent repeat offenders.
func NewCleanupManager(
	attempts *repositories.AttemptRepository,
	lockouts *repositories.LockoutRepository,
	logger *slog.Logger,
	interval time.Duration,
	lockoutRetention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		attempts:         attempts,
		lockouts:         lockouts,
		logger:           logger,
		interval:         interval,
		lockoutRetention: lockoutRetention,
		stopCh:           make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup prunes expired attempts and stale lockout rows
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	attemptsDeleted, err := cm.attempts.DeleteExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to prune expired attempts", slog.Any("error", err))
	}

	lockoutsDeleted, err := cm.lockouts.DeleteStale(cleanupCtx, time.Now().Add(-cm.lockoutRetention))
	if err != nil {
		cm.logger.Error("failed to prune stale lockouts", slog.Any("error", err))
	}

	if attemptsDeleted > 0 || lockoutsDeleted > 0 {
		cm.logger.Info("ledger cleanup completed",
			slog.Int64("attempts_deleted", attemptsDeleted),
			slog.Int64("lockouts_deleted", lockoutsDeleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
