package database

import (
	"context"
	"errors"

	"github.com/covella/loginguard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapPostgresError translates driver errors into the service's sentinel
// errors. Timeouts and connection failures become ErrStorageUnavailable so
// the guard can apply its fail-open/fail-closed policy.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.ErrStorageUnavailable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return models.ErrBadRequest
		case "23502": // not_null_violation
			return models.ErrInvalidInput
		}
	}

	if pgconn.Timeout(err) {
		return models.ErrStorageUnavailable
	}

	return err
}
