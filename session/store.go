package session

import "context"

// Store persists sessions with three indices: by id, by refresh token and by
// user. Implementations return copies and are safe for concurrent use.
type Store interface {
	// Save upserts s unconditionally. If the stored record held a different
	// refresh token, the old index entry is removed in the same atomic step.
	// On success s.Version holds the new stored version.
	Save(ctx context.Context, s *Session) error
	// Replace is Save guarded by s.Version: it fails with ErrVersionConflict if
	// the stored version differs, or ErrSessionNotFound if nothing is stored.
	Replace(ctx context.Context, s *Session) error

	FindByID(ctx context.Context, id string) (*Session, error)
	FindByRefreshToken(ctx context.Context, token string) (*Session, error)
	// FindByUserID returns every indexed session for the user, active or not.
	FindByUserID(ctx context.Context, userID string) ([]*Session, error)

	// Delete removes the session from all indices. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// UserSessionCount counts the user's indexed sessions that are active.
	UserSessionCount(ctx context.Context, userID string) (int, error)
	// InvalidateAllByUserID marks every session of the user inactive and clears
	// the user index. It returns the number of sessions flipped.
	InvalidateAllByUserID(ctx context.Context, userID string) (int, error)
	// CleanupExpired deletes expired and inactive sessions and returns how many it removed.
	CleanupExpired(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)

	// Start launches the periodic cleanup sweep; Close stops it.
	Start()
	Close() error
}
