package repositories

import (
	"context"
	"time"

	"github.com/covella/loginguard/internal/database"
	"github.com/covella/loginguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AttemptRepository is the durable ledger of login attempts
type AttemptRepository struct {
	db *database.DB
}

// NewAttemptRepository creates a new AttemptRepository
func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// RecordAttempt appends a login attempt to the ledger. The attempt time is
// taken from the database clock, never from the caller.
func (r *AttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}

	query := `
		INSERT INTO login_attempts (id, identifier, ip_address, user_agent, success, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.ID,
		attempt.Identifier,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Success,
		attempt.ExpiresAt,
	)

	return database.MapPostgresError(err)
}

// RecentAttempts returns attempts for an identifier within the lookback
// window, newest first, capped at limit.
func (r *AttemptRepository) RecentAttempts(ctx context.Context, identifier string, window time.Duration, limit int) ([]models.LoginAttempt, error) {
	query := `
		SELECT id, identifier, ip_address, user_agent, success, attempt_time, expires_at
		FROM login_attempts
		WHERE identifier = $1 AND attempt_time >= $2
		ORDER BY attempt_time DESC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, identifier, time.Now().Add(-window), limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var attempts []models.LoginAttempt
	for rows.Next() {
		var a models.LoginAttempt
		if err := rows.Scan(&a.ID, &a.Identifier, &a.IPAddress, &a.UserAgent, &a.Success, &a.AttemptTime, &a.ExpiresAt); err != nil {
			return nil, database.MapPostgresError(err)
		}
		attempts = append(attempts, a)
	}

	return attempts, database.MapPostgresError(rows.Err())
}

// CountFailuresSince returns the number of failed attempts for an identifier
// at or after the given instant.
func (r *AttemptRepository) CountFailuresSince(ctx context.Context, identifier string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE identifier = $1 AND success = false AND attempt_time >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, identifier, since).Scan(&count)
	return count, database.MapPostgresError(err)
}

// CountFailuresByIPSince returns the number of failed attempts from an IP
// at or after the given instant, across all identifiers.
func (r *AttemptRepository) CountFailuresByIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND success = false AND attempt_time >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ipAddress, since).Scan(&count)
	return count, database.MapPostgresError(err)
}

// LastSuccessTime returns the timestamp of the most recent successful
// attempt for an identifier, or nil if there is none.
func (r *AttemptRepository) LastSuccessTime(ctx context.Context, identifier string) (*time.Time, error) {
	query := `
		SELECT attempt_time FROM login_attempts
		WHERE identifier = $1 AND success = true
		ORDER BY attempt_time DESC
		LIMIT 1
	`

	var successTime time.Time
	err := r.db.Pool.QueryRow(ctx, query, identifier).Scan(&successTime)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &successTime, nil
}

// DeleteExpired removes attempts past their retention time and returns the
// number of rows deleted.
func (r *AttemptRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM login_attempts WHERE expires_at <= now()`
	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
