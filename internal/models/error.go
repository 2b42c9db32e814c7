package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")

	// Guard-specific errors
	ErrStorageUnavailable  = errors.New("attempt storage unavailable")
	ErrPolicyMisconfigured = errors.New("lockout policy misconfigured")
)
