package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/session"
)

// LoginMetrics carries metric IDs used by the login flow.
type LoginMetrics struct {
	Success      int
	Failure      int
	Locked       int
	LockoutStart int
}

// LoginRequest is the flow-local login input.
type LoginRequest struct {
	Email    string
	Password string
	Client   Client
}

// LoginResult is returned on success.
type LoginResult struct {
	User         UserRecord
	Session      *session.Session
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Common
	Credentials CredentialDeps
	Lockout     lockout.Tracker

	CreateSession func(context.Context, session.CreateParams) (*session.Session, error)
	AccessTTL     time.Duration

	// Best-effort side effects. Failures are logged and never fail the login.
	UpdateLastLogin func(ctx context.Context, userID string, at time.Time) error
	NeedsRehash     func(hash string) (bool, error)
	HashPassword    func(plaintext string) (string, error)
	UpdatePassword  func(ctx context.Context, userID, hash string) error

	ObserveDuration func(time.Duration)
	Metrics         LoginMetrics
}

// RunLogin authenticates email and password and opens a session. Every path
// emits exactly one audit event. Unknown users, wrong passwords and inactive
// accounts all return Errors.InvalidCredentials and all count toward lockout.
func RunLogin(ctx context.Context, req LoginRequest, deps LoginDeps) (*LoginResult, error) {
	deps.defaults()
	if deps.ObserveDuration != nil {
		start := deps.Now()
		defer func() { deps.ObserveDuration(deps.Now().Sub(start)) }()
	}

	id := NormalizeEmail(req.Email)

	locked, err := deps.Lockout.IsLockedOut(ctx, id)
	if err != nil {
		deps.emit(ctx, ActionLogin, false, "", "", "lockout check failed", req.Client, map[string]string{"email": id})
		return nil, err
	}
	if locked {
		remaining, err := deps.Lockout.RemainingLockoutTime(ctx, id)
		if err != nil {
			deps.Warn(ctx, "lockout remaining time lookup failed", "error", err)
		}
		deps.MetricInc(deps.Metrics.Locked)
		deps.emit(ctx, ActionLogin, false, "", "", "account locked", req.Client, map[string]string{"email": id})
		return nil, deps.Errors.Locked(remaining)
	}

	res, err := ValidateCredentials(ctx, id, req.Password, deps.Credentials)
	if err != nil {
		deps.emit(ctx, ActionLogin, false, "", "", "user lookup failed", req.Client, map[string]string{"email": id})
		return nil, err
	}
	if res.Outcome != CredentialsValid {
		info, err := deps.Lockout.RecordFailedAttempt(ctx, id)
		if err != nil {
			// an uncounted failure would let guessing bypass the lockout
			deps.MetricInc(deps.Metrics.Failure)
			deps.emit(ctx, ActionLogin, false, res.User.ID, "", "lockout record failed", req.Client, map[string]string{"email": id})
			return nil, err
		}
		if info.Locked(deps.Now()) {
			// the pre-check passed, so this failure started the lock
			deps.MetricInc(deps.Metrics.LockoutStart)
		}
		deps.MetricInc(deps.Metrics.Failure)
		deps.emit(ctx, ActionLogin, false, res.User.ID, "", res.Outcome.String(), req.Client, map[string]string{"email": id})
		return nil, deps.Errors.InvalidCredentials
	}

	user := res.User
	if err := deps.Lockout.ClearLockout(ctx, id); err != nil {
		deps.Warn(ctx, "clearing lockout failed", "user_id", user.ID, "error", err)
	}

	sess, err := deps.CreateSession(ctx, session.CreateParams{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		UserAgent: req.Client.UserAgent,
		IPAddress: req.Client.IPAddress,
	})
	if err != nil {
		desc := "session creation failed"
		if errors.Is(err, session.ErrSessionLimitExceeded) {
			desc = "session limit exceeded"
			if deps.Errors.SessionLimit != nil {
				err = errors.Join(deps.Errors.SessionLimit, err)
			}
		}
		deps.MetricInc(deps.Metrics.Failure)
		deps.emit(ctx, ActionLogin, false, user.ID, "", desc, req.Client, nil)
		return nil, err
	}

	now := deps.Now()
	if deps.UpdateLastLogin != nil {
		if err := deps.UpdateLastLogin(ctx, user.ID, now); err != nil {
			deps.Warn(ctx, "last login update failed", "user_id", user.ID, "error", err)
		}
	}
	rehash(ctx, user, req.Password, deps)

	deps.MetricInc(deps.Metrics.Success)
	deps.emit(ctx, ActionLogin, true, user.ID, sess.ID, CredentialsValid.String(), req.Client, nil)

	user.PasswordHash = ""
	return &LoginResult{
		User:         user,
		Session:      sess,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresIn:    deps.AccessTTL,
	}, nil
}

func rehash(ctx context.Context, user UserRecord, plaintext string, deps LoginDeps) {
	if deps.NeedsRehash == nil || deps.HashPassword == nil || deps.UpdatePassword == nil {
		return
	}
	need, err := deps.NeedsRehash(user.PasswordHash)
	if err != nil || !need {
		return
	}
	hash, err := deps.HashPassword(plaintext)
	if err != nil {
		deps.Warn(ctx, "password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := deps.UpdatePassword(ctx, user.ID, hash); err != nil {
		deps.Warn(ctx, "password rehash store failed", "user_id", user.ID, "error", err)
	}
}
