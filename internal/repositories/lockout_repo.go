package repositories

import (
	"context"
	"time"

	"github.com/covella/loginguard/internal/database"
	"github.com/covella/loginguard/internal/models"
	"github.com/jackc/pgx/v5"
)

// LockoutRepository persists lockout windows, one row per identifier
type LockoutRepository struct {
	db *database.DB
}

// NewLockoutRepository creates a new LockoutRepository
func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

// GetLockout returns the lockout row for an identifier, expired or not.
// Returns nil when no row exists. Callers decide activeness; expired rows
// still matter for progressive lockout counting.
func (r *LockoutRepository) GetLockout(ctx context.Context, identifier string) (*models.Lockout, error) {
	query := `
		SELECT identifier, locked_at, locked_until, failure_count, lockout_count
		FROM account_lockouts
		WHERE identifier = $1
	`

	var l models.Lockout
	err := r.db.Pool.QueryRow(ctx, query, identifier).Scan(
		&l.Identifier, &l.LockedAt, &l.LockedUntil, &l.FailureCount, &l.LockoutCount,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &l, nil
}

// OpenLockout atomically opens a lockout window for an identifier. When a
// burst of concurrent failures all cross the threshold, the conditional
// upsert guarantees exactly one of them opens the window: an existing row
// is only overwritten if its window has already expired. Returns the row
// as persisted and whether this call was the one that opened it.
func (r *LockoutRepository) OpenLockout(ctx context.Context, identifier string, until time.Time, failureCount, lockoutCount int) (*models.Lockout, bool, error) {
	query := `
		INSERT INTO account_lockouts (identifier, locked_at, locked_until, failure_count, lockout_count)
		VALUES ($1, now(), $2, $3, $4)
		ON CONFLICT (identifier) DO UPDATE
		SET locked_at = now(),
		    locked_until = excluded.locked_until,
		    failure_count = excluded.failure_count,
		    lockout_count = excluded.lockout_count
		WHERE account_lockouts.locked_until <= now()
		RETURNING identifier, locked_at, locked_until, failure_count, lockout_count
	`

	var l models.Lockout
	err := r.db.Pool.QueryRow(ctx, query, identifier, until, failureCount, lockoutCount).Scan(
		&l.Identifier, &l.LockedAt, &l.LockedUntil, &l.FailureCount, &l.LockoutCount,
	)
	if err == pgx.ErrNoRows {
		// Lost the race: another attempt opened a window that is still
		// active. Return the winner's row.
		existing, gerr := r.GetLockout(ctx, identifier)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, database.MapPostgresError(err)
	}

	return &l, true, nil
}

// DeleteLockout removes the lockout row for an identifier. Returns true
// when a row was deleted (admin force-unlock).
func (r *LockoutRepository) DeleteLockout(ctx context.Context, identifier string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM account_lockouts WHERE identifier = $1`, identifier)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListActiveLockouts returns all currently active lockout windows, most
// recently opened first.
func (r *LockoutRepository) ListActiveLockouts(ctx context.Context) ([]models.Lockout, error) {
	query := `
		SELECT identifier, locked_at, locked_until, failure_count, lockout_count
		FROM account_lockouts
		WHERE locked_until > now()
		ORDER BY locked_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var lockouts []models.Lockout
	for rows.Next() {
		var l models.Lockout
		if err := rows.Scan(&l.Identifier, &l.LockedAt, &l.LockedUntil, &l.FailureCount, &l.LockoutCount); err != nil {
			return nil, database.MapPostgresError(err)
		}
		lockouts = append(lockouts, l)
	}

	return lockouts, database.MapPostgresError(rows.Err())
}

// DeleteStale removes expired lockout rows last touched before the cutoff.
// Rows newer than the cutoff are kept so progressive lockout counting still
// sees recent history.
func (r *LockoutRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM account_lockouts WHERE locked_until <= now() AND locked_at < $1`
	tag, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
