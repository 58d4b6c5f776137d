package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/session"
)

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	Common
	Sessions *session.Manager
}

// RunLogout invalidates every session of userID and returns the count.
func RunLogout(ctx context.Context, userID string, client Client, deps LogoutDeps) (int, error) {
	deps.defaults()
	n, err := deps.Sessions.InvalidateUserSessions(ctx, userID)
	if err != nil {
		deps.emit(ctx, ActionLogout, false, userID, "", "session invalidation failed", client, nil)
		return 0, err
	}
	deps.emit(ctx, ActionLogout, true, userID, "", "all sessions invalidated", client, nil)
	return n, nil
}

// RunLogoutSession invalidates one session. Unknown ids succeed.
func RunLogoutSession(ctx context.Context, sessionID string, client Client, deps LogoutDeps) error {
	deps.defaults()
	userID := ""
	if s, err := deps.Sessions.Store().FindByID(ctx, sessionID); err == nil {
		userID = s.UserID
	} else if !errors.Is(err, session.ErrSessionNotFound) {
		deps.emit(ctx, ActionLogout, false, "", sessionID, "session lookup failed", client, nil)
		return err
	}
	if err := deps.Sessions.InvalidateSession(ctx, sessionID); err != nil {
		deps.emit(ctx, ActionLogout, false, userID, sessionID, "session invalidation failed", client, nil)
		return err
	}
	deps.emit(ctx, ActionLogout, true, userID, sessionID, "session invalidated", client, nil)
	return nil
}
