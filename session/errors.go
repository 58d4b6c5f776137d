package session

import "errors"

// Store errors.
var (
	// ErrSessionNotFound is returned when no session matches the lookup.
	ErrSessionNotFound = errors.New("session not found")
	// ErrVersionConflict is returned by Replace when the stored version moved on.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrRedisUnavailable wraps transport failures of the Redis store.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrSessionCorrupt is returned when a stored blob cannot be decoded.
	ErrSessionCorrupt = errors.New("session corrupt")
)

// Manager errors.
var (
	// ErrSessionLimitExceeded is returned when a user already holds the maximum number of active sessions.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	// ErrTokenRotation is returned when a refresh token cannot be exchanged:
	// it is invalid, expired, stale, or lost a concurrent rotation.
	ErrTokenRotation = errors.New("token rotation failed")
	// ErrUserMismatch is returned when the refresh token subject does not own the session.
	ErrUserMismatch = errors.New("token user does not match session")
	// ErrSessionInactive is returned when refreshing a session that was invalidated.
	ErrSessionInactive = errors.New("session inactive")
	// ErrSessionExpired is returned when refreshing a session past its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrRefreshReuse marks a refresh token that was already rotated out.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
)
