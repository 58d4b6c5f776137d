package flows

import (
	"context"
	"errors"
)

// RegisterMetrics carries metric IDs used by the registration flow.
type RegisterMetrics struct {
	Success int
	Failure int
}

// RegisterRequest is the flow-local registration input. Field validation
// happens before the flow runs.
type RegisterRequest struct {
	Email       string
	Password    string
	DisplayName string
	Role        string
	Client      Client
}

// NewUser is handed to the user store.
type NewUser struct {
	Email         string
	DisplayName   string
	PasswordHash  string
	Role          string
	IsActive      bool
	EmailVerified bool
}

// RegisterResult is returned on success.
type RegisterResult struct {
	User             UserRecord
	VerificationSent bool
}

// RegisterDeps captures registration dependencies.
type RegisterDeps struct {
	Common
	FindByEmail  func(ctx context.Context, email string) (UserRecord, error)
	HashPassword func(plaintext string) (string, error)
	CreateUser   func(ctx context.Context, u NewUser) (UserRecord, error)
	// SendVerification is optional. Its failure never fails registration.
	SendVerification func(ctx context.Context, userID string, client Client) error

	ActivateOnRegister bool
	DefaultRole        string
	Metrics            RegisterMetrics
}

// RunRegister creates an account and sends a verification email best-effort.
func RunRegister(ctx context.Context, req RegisterRequest, deps RegisterDeps) (*RegisterResult, error) {
	deps.defaults()
	email := NormalizeEmail(req.Email)

	fail := func(desc string, err error) (*RegisterResult, error) {
		deps.MetricInc(deps.Metrics.Failure)
		deps.emit(ctx, ActionRegister, false, "", "", desc, req.Client, map[string]string{"email": email})
		return nil, err
	}

	_, err := deps.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return fail("email already registered", deps.Errors.AccountExists)
	case !errors.Is(err, deps.Errors.UserNotFound):
		return fail("user lookup failed", err)
	}

	hash, err := deps.HashPassword(req.Password)
	if err != nil {
		return fail("password hashing failed", err)
	}

	role := req.Role
	if role == "" {
		role = deps.DefaultRole
	}
	user, err := deps.CreateUser(ctx, NewUser{
		Email:        email,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Role:         role,
		IsActive:     deps.ActivateOnRegister,
	})
	if err != nil {
		if errors.Is(err, deps.Errors.AccountExists) {
			return fail("email already registered", err)
		}
		return fail("user creation failed", err)
	}

	sent := false
	if deps.SendVerification != nil {
		if err := deps.SendVerification(ctx, user.ID, req.Client); err != nil {
			deps.Warn(ctx, "verification email not sent", "user_id", user.ID, "error", err)
		} else {
			sent = true
		}
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.emit(ctx, ActionRegister, true, user.ID, "", "user registered", req.Client, nil)

	user.PasswordHash = ""
	return &RegisterResult{User: user, VerificationSent: sent}, nil
}
