package flows

import (
	"context"
	"errors"
	"fmt"
)

// ErrSessionsNotRevoked reports a reset that stored the new password but
// could not revoke the user's existing sessions.
var ErrSessionsNotRevoked = errors.New("password changed but sessions were not revoked")

// RecoveryMetrics carries metric IDs used by verification and reset flows.
type RecoveryMetrics struct {
	VerifySuccess int
	VerifyFailure int
	ResetSuccess  int
	ResetFailure  int
}

// RecoveryDeps captures email verification and password reset dependencies.
type RecoveryDeps struct {
	Common
	VerifyToken func(ctx context.Context, token, email string) (UserRecord, error)

	FindByEmail func(ctx context.Context, email string) (UserRecord, error)
	FindByID    func(ctx context.Context, id string) (UserRecord, error)
	SendReset   func(ctx context.Context, userID string, client Client) error

	ConsumeReset   func(ctx context.Context, token string) (userID string, err error)
	ReleaseReset   func(ctx context.Context, token string) error
	HashPassword   func(plaintext string) (string, error)
	UpdatePassword func(ctx context.Context, userID, hash string) error
	RevokeSessions func(ctx context.Context, userID string) (int, error)
	ClearLockout   func(ctx context.Context, identifier string) error

	Metrics RecoveryMetrics
}

// RunVerifyEmail consumes a verification token.
func RunVerifyEmail(ctx context.Context, token, email string, client Client, deps RecoveryDeps) (UserRecord, error) {
	deps.defaults()
	user, err := deps.VerifyToken(ctx, token, NormalizeEmail(email))
	if err != nil {
		deps.MetricInc(deps.Metrics.VerifyFailure)
		deps.emit(ctx, ActionVerifyEmail, false, "", "", err.Error(), client, nil)
		return UserRecord{}, err
	}
	deps.MetricInc(deps.Metrics.VerifySuccess)
	deps.emit(ctx, ActionVerifyEmail, true, user.ID, "", "email verified", client, nil)
	return user, nil
}

// RunRequestPasswordReset sends a reset link when the address belongs to an
// account. It returns nil for unknown addresses and delivery failures alike
// so callers cannot learn which emails exist.
func RunRequestPasswordReset(ctx context.Context, email string, client Client, deps RecoveryDeps) error {
	deps.defaults()
	email = NormalizeEmail(email)

	user, err := deps.FindByEmail(ctx, email)
	if err != nil {
		desc := "unknown email"
		if !errors.Is(err, deps.Errors.UserNotFound) {
			desc = "user lookup failed"
			deps.Warn(ctx, "password reset lookup failed", "error", err)
		}
		deps.emit(ctx, ActionPasswordResetSent, false, "", "", desc, client, map[string]string{"email": email})
		return nil
	}

	if err := deps.SendReset(ctx, user.ID, client); err != nil {
		deps.Warn(ctx, "password reset email not sent", "user_id", user.ID, "error", err)
		deps.emit(ctx, ActionPasswordResetSent, false, user.ID, "", "reset email not sent", client, nil)
		return nil
	}
	deps.emit(ctx, ActionPasswordResetSent, true, user.ID, "", "reset email sent", client, nil)
	return nil
}

// RunResetPassword consumes a reset token, stores the new hash, revokes every
// session of the user and clears any lockout on the address. If storing the
// hash fails the token is released for another attempt. If revocation fails
// the new password stays in place and the error wraps ErrSessionsNotRevoked.
func RunResetPassword(ctx context.Context, token, newPassword string, client Client, deps RecoveryDeps) error {
	deps.defaults()

	fail := func(userID, desc string, err error) error {
		deps.MetricInc(deps.Metrics.ResetFailure)
		deps.emit(ctx, ActionPasswordReset, false, userID, "", desc, client, nil)
		return err
	}

	userID, err := deps.ConsumeReset(ctx, token)
	if err != nil {
		return fail("", err.Error(), err)
	}

	release := func() {
		if rbErr := deps.ReleaseReset(ctx, token); rbErr != nil {
			deps.Warn(ctx, "reset token release failed", "user_id", userID, "error", rbErr)
		}
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		release()
		return fail(userID, "password hashing failed", err)
	}
	if err := deps.UpdatePassword(ctx, userID, hash); err != nil {
		release()
		return fail(userID, "password update failed", err)
	}

	_, revokeErr := deps.RevokeSessions(ctx, userID)
	if deps.FindByID != nil && deps.ClearLockout != nil {
		if user, err := deps.FindByID(ctx, userID); err == nil {
			if err := deps.ClearLockout(ctx, NormalizeEmail(user.Email)); err != nil {
				deps.Warn(ctx, "clearing lockout after reset failed", "user_id", userID, "error", err)
			}
		}
	}
	if revokeErr != nil {
		// password and token are already committed; old sessions may be live
		deps.Warn(ctx, "session revocation after reset failed", "user_id", userID, "error", revokeErr)
		return fail(userID, "password changed, session revocation failed", fmt.Errorf("%w: %w", ErrSessionsNotRevoked, revokeErr))
	}

	deps.MetricInc(deps.Metrics.ResetSuccess)
	deps.emit(ctx, ActionPasswordReset, true, userID, "", "password reset", client, nil)
	return nil
}
