package domain

import "errors"

var (
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrAuthorizationDenied = errors.New("access denied")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidToken        = errors.New("invalid token")
	ErrMissingSigningKey   = errors.New("token signing key is not configured")
	ErrPasswordTooLong     = errors.New("password exceeds 72 bytes")

	// ErrIdempotencyKeyReused is returned when a registration idempotency key
	// is presented with a different payload than the one it was first used with.
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different registration")
	// ErrRegistrationInProgress is returned while the first request holding an
	// idempotency key has not finished.
	ErrRegistrationInProgress = errors.New("registration with this idempotency key is in progress")
)
