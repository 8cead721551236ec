// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across storage/session/transport layers.
var (
	// ErrNotFound indicates the requested storage slot does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt indicates persisted state that cannot be parsed or opened.
	ErrCorrupt = errors.New("corrupt")

	// ErrStorage indicates the storage backend itself failed (disabled, quota, I/O).
	ErrStorage = errors.New("storage failure")

	// ErrNoToken indicates no usable access token is held.
	ErrNoToken = errors.New("no token")

	// ErrTokenInvalid indicates a token that cannot be decoded into claims.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrRefreshFailed indicates the refresh endpoint did not yield a new token.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrSessionEnded indicates the session was cleared while a refresh was in flight.
	ErrSessionEnded = errors.New("session ended")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates too many failed logins.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a uniqueness conflict.
	ErrAlreadyExists = errors.New("already exists")
)
