package flows

import "context"

// Deps groups the per-flow dependency sets. The root engine builds it once.
type Deps struct {
	Login    LoginDeps
	Register RegisterDeps
	Recovery RecoveryDeps
	Logout   LogoutDeps
}

// Service is the flow runner held by the engine.
type Service struct {
	deps Deps
}

// New returns a service with immutable wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether login has been wired.
func (s Service) Initialized() bool {
	return s.deps.Login.CreateSession != nil && s.deps.Login.Lockout != nil
}

func (s Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	return RunLogin(ctx, req, s.deps.Login)
}

func (s Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	return RunRegister(ctx, req, s.deps.Register)
}

func (s Service) VerifyEmail(ctx context.Context, token, email string, client Client) (UserRecord, error) {
	return RunVerifyEmail(ctx, token, email, client, s.deps.Recovery)
}

func (s Service) RequestPasswordReset(ctx context.Context, email string, client Client) error {
	return RunRequestPasswordReset(ctx, email, client, s.deps.Recovery)
}

func (s Service) ResetPassword(ctx context.Context, token, newPassword string, client Client) error {
	return RunResetPassword(ctx, token, newPassword, client, s.deps.Recovery)
}

func (s Service) Logout(ctx context.Context, userID string, client Client) (int, error) {
	return RunLogout(ctx, userID, client, s.deps.Logout)
}

func (s Service) LogoutSession(ctx context.Context, sessionID string, client Client) error {
	return RunLogoutSession(ctx, sessionID, client, s.deps.Logout)
}
