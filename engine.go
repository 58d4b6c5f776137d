package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/verification"
)

// Engine is the authentication facade. It is safe for concurrent use after
// Builder.Build and until Close.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	users        UserStore
	hasher       PasswordHasher
	jwtManager   *jwt.Manager
	sessionStore session.Store
	sessions     *session.Manager
	lockout      lockout.Tracker
	verifier     *verification.Manager
	hasMailer    bool
	resetMailer  bool
	sharedStore  bool
	roles        *permission.RoleManager
	audit        *audit.Dispatcher
	metrics      *Metrics
	validate     *validator.Validate
	service      flows.Service

	closeOnce sync.Once
	closeErr  error
}

// CleanupReport counts what CleanupExpired removed.
type CleanupReport struct {
	Sessions int
	Lockouts int
	Tokens   int
}

func (e *Engine) ready() bool {
	return e != nil && e.service.Initialized()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) warn(ctx context.Context, msg string, args ...any) {
	e.logger.WarnContext(ctx, msg, args...)
}

func (e *Engine) wireFlows(dummyHash string) flows.Service {
	common := flows.Common{
		Now:       e.now,
		Emit:      e.audit.Emit,
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		Warn:      e.warn,
		Errors: flows.Errors{
			InvalidCredentials: ErrInvalidCredentials,
			AccountExists:      ErrAccountExists,
			UserNotFound:       ErrUserNotFound,
			SessionLimit:       ErrSessionLimitExceeded,
			Locked: func(remaining time.Duration) error {
				return &LockoutError{Remaining: remaining}
			},
		},
	}

	updatePassword := func(ctx context.Context, userID, hash string) error {
		_, err := e.users.Update(ctx, userID, UserUpdate{PasswordHash: &hash})
		return err
	}
	findByEmail := func(ctx context.Context, email string) (flows.UserRecord, error) {
		u, err := e.users.FindByEmail(ctx, email)
		return toFlowUser(u), err
	}
	findByID := func(ctx context.Context, id string) (flows.UserRecord, error) {
		u, err := e.users.FindByID(ctx, id)
		return toFlowUser(u), err
	}

	login := flows.LoginDeps{
		Common: common,
		Credentials: flows.CredentialDeps{
			FindCredentials: func(ctx context.Context, email string) (flows.UserRecord, error) {
				u, err := e.users.FindCredentialsByEmail(ctx, email)
				return toFlowUser(u), err
			},
			VerifyPassword: e.hasher.Verify,
			DummyHash:      dummyHash,
			UserNotFound:   ErrUserNotFound,
		},
		Lockout:       e.lockout,
		CreateSession: e.sessions.CreateSession,
		AccessTTL:     e.jwtManager.AccessTTL(),
		UpdateLastLogin: func(ctx context.Context, userID string, at time.Time) error {
			_, err := e.users.Update(ctx, userID, UserUpdate{LastLoginAt: &at})
			return err
		},
		HashPassword:   e.hasher.Hash,
		UpdatePassword: updatePassword,
		ObserveDuration: func(d time.Duration) {
			e.metrics.Observe(MetricLoginLatency, d)
		},
		Metrics: flows.LoginMetrics{
			Success:      int(MetricLoginSuccess),
			Failure:      int(MetricLoginFailure),
			Locked:       int(MetricLoginLocked),
			LockoutStart: int(MetricLockoutTriggered),
		},
	}
	if r, ok := e.hasher.(rehasher); ok {
		login.NeedsRehash = r.NeedsRehash
	}

	register := flows.RegisterDeps{
		Common:       common,
		FindByEmail:  findByEmail,
		HashPassword: e.hasher.Hash,
		CreateUser: func(ctx context.Context, n flows.NewUser) (flows.UserRecord, error) {
			u, err := e.users.Create(ctx, CreateUserInput{
				Email:         n.Email,
				DisplayName:   n.DisplayName,
				PasswordHash:  n.PasswordHash,
				Role:          n.Role,
				IsActive:      n.IsActive,
				EmailVerified: n.EmailVerified,
			})
			return toFlowUser(u), err
		},
		ActivateOnRegister: e.config.Account.ActivateOnRegister,
		DefaultRole:        e.config.Account.DefaultRole,
		Metrics: flows.RegisterMetrics{
			Success: int(MetricRegisterSuccess),
			Failure: int(MetricRegisterFailure),
		},
	}
	if e.hasMailer {
		register.SendVerification = func(ctx context.Context, userID string, client flows.Client) error {
			return e.sendVerification(ctx, userID, client)
		}
	}

	recovery := flows.RecoveryDeps{
		Common: common,
		VerifyToken: func(ctx context.Context, token, email string) (flows.UserRecord, error) {
			u, err := e.verifier.VerifyToken(ctx, token, email)
			if err != nil {
				return flows.UserRecord{}, err
			}
			return flows.UserRecord{
				ID:            u.ID,
				Email:         u.Email,
				DisplayName:   u.DisplayName,
				IsActive:      true,
				EmailVerified: true,
			}, nil
		},
		FindByEmail: findByEmail,
		FindByID:    findByID,
		SendReset: func(ctx context.Context, userID string, client flows.Client) error {
			_, err := e.verifier.SendPasswordResetEmail(ctx, verification.CreateParams{
				UserID:    userID,
				IPAddress: client.IPAddress,
				UserAgent: client.UserAgent,
			})
			return err
		},
		ConsumeReset:   e.verifier.ConsumePasswordReset,
		ReleaseReset:   e.verifier.ReleasePasswordReset,
		HashPassword:   e.hasher.Hash,
		UpdatePassword: updatePassword,
		RevokeSessions: e.sessions.InvalidateUserSessions,
		ClearLockout:   e.lockout.ClearLockout,
		Metrics: flows.RecoveryMetrics{
			VerifySuccess: int(MetricEmailVerificationSuccess),
			VerifyFailure: int(MetricEmailVerificationFailure),
			ResetSuccess:  int(MetricPasswordResetSuccess),
			ResetFailure:  int(MetricPasswordResetFailure),
		},
	}

	return flows.New(flows.Deps{
		Login:    login,
		Register: register,
		Recovery: recovery,
		Logout:   flows.LogoutDeps{Common: common, Sessions: e.sessions},
	})
}

func (e *Engine) validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		return &ValidationError{Fields: fields}
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}

// Register creates an account and sends a verification email when a mailer
// is configured. A failed send is reported through VerificationSent and
// never fails registration.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if err := e.validate.Struct(req); err != nil {
		return nil, e.validationError(err)
	}
	if req.Role != "" {
		if _, ok := e.roles.Mask(req.Role); !ok {
			return nil, &ValidationError{Fields: map[string]string{"role": "unknown"}}
		}
	}

	res, err := e.service.Register(ctx, flows.RegisterRequest{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		Client:      clientFromContext(ctx),
	})
	if err != nil {
		return nil, err
	}
	return &RegisterResult{User: fromFlowUser(res.User), VerificationSent: res.VerificationSent}, nil
}

// Login authenticates email and password and opens a session. Locked
// identifiers get a *LockoutError; unknown users, wrong passwords and
// inactive accounts all get ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if err := e.validate.Struct(req); err != nil {
		return nil, e.validationError(err)
	}

	res, err := e.service.Login(ctx, flows.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		Client:   clientFromContext(ctx),
	})
	if err != nil {
		if errors.Is(err, ErrSessionLimitExceeded) {
			e.metricInc(MetricSessionLimitExceeded)
		}
		return nil, err
	}
	e.metricInc(MetricSessionCreated)

	user := fromFlowUser(res.User)
	user.LastLoginAt = res.Session.CreatedAt
	return &LoginResult{
		User:         user,
		SessionID:    res.Session.ID,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn,
		Message:      "login successful",
	}, nil
}

// Logout invalidates every session of userID and returns how many were active.
func (e *Engine) Logout(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.service.Logout(ctx, userID, clientFromContext(ctx))
	if err != nil {
		return 0, err
	}
	e.metricInc(MetricLogoutAll)
	for range n {
		e.metricInc(MetricSessionInvalidated)
	}
	return n, nil
}

// LogoutSession invalidates one session. Unknown or inactive sessions succeed.
func (e *Engine) LogoutSession(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.service.LogoutSession(ctx, sessionID, clientFromContext(ctx)); err != nil {
		return err
	}
	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	return nil
}

// RefreshTokens exchanges a refresh token for a new access token and, with
// rotation enabled, a new refresh token. A token that was already rotated
// out fails with session.ErrTokenRotation.
func (e *Engine) RefreshTokens(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	client := clientFromContext(ctx)
	res, err := e.sessions.RefreshTokens(ctx, refreshToken, client.UserAgent, client.IPAddress)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		desc := "refresh rejected"
		if errors.Is(err, session.ErrRefreshReuse) {
			e.metricInc(MetricRefreshReuseDetected)
			desc = "refresh token reuse detected"
		}
		e.emit(ctx, AuditRefresh, false, "", "", desc, client)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emit(ctx, AuditRefresh, true, res.Session.UserID, res.Session.ID, "tokens refreshed", client)
	return &RefreshResult{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		SessionID:    res.Session.ID,
		ExpiresIn:    res.ExpiresIn,
	}, nil
}

// ValidateSession reports whether sessionID is live. Expired sessions are
// invalidated as a side effect.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (SessionValidation, error) {
	if !e.ready() {
		return SessionValidation{}, ErrEngineNotReady
	}
	return e.sessions.ValidateSession(ctx, sessionID)
}

// ValidateAccess verifies an access token. In strict mode the session it
// names must also be live; otherwise only the signature and claims are
// checked.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string, strict bool) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	defer func() { e.metrics.Observe(MetricValidateLatency, e.now().Sub(start)) }()

	claims, err := e.jwtManager.Verify(accessToken, jwt.TypeAccess)
	if err != nil {
		e.metricInc(MetricValidateAccessFailure)
		return nil, err
	}
	if strict {
		v, err := e.sessions.ValidateSession(ctx, claims.SessionID)
		if err != nil {
			e.metricInc(MetricValidateAccessFailure)
			return nil, err
		}
		if !v.Valid {
			e.metricInc(MetricValidateAccessFailure)
			return nil, fmt.Errorf("%w: session %s", ErrUnauthorized, v.Reason)
		}
	}

	res := &AuthResult{
		UserID:    claims.UserID(),
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res, nil
}

func (e *Engine) sendVerification(ctx context.Context, userID string, client flows.Client) error {
	_, err := e.verifier.SendVerificationEmail(ctx, verification.CreateParams{
		UserID:    userID,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})
	if err != nil {
		return err
	}
	e.metricInc(MetricEmailVerificationSent)
	return nil
}

// SendVerificationEmail issues a new verification token for userID and
// mails it. It fails for verified users and when the per-user token cap is
// reached.
func (e *Engine) SendVerificationEmail(ctx context.Context, userID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.sendVerification(ctx, userID, clientFromContext(ctx))
}

// VerifyEmail consumes a verification token. When email is non-empty it
// must match the token's account.
func (e *Engine) VerifyEmail(ctx context.Context, token, email string) (UserRecord, error) {
	if !e.ready() {
		return UserRecord{}, ErrEngineNotReady
	}
	u, err := e.service.VerifyEmail(ctx, token, email, clientFromContext(ctx))
	if err != nil {
		return UserRecord{}, err
	}
	return fromFlowUser(u), nil
}

// RequestPasswordReset mails a reset link if email belongs to an account.
// Only malformed input is reported; unknown addresses succeed.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.validate.Var(email, "required,email"); err != nil {
		return &ValidationError{Fields: map[string]string{"email": "email"}}
	}
	e.metricInc(MetricPasswordResetRequest)
	return e.service.RequestPasswordReset(ctx, email, clientFromContext(ctx))
}

// ResetPassword consumes a reset token, stores the new password, revokes
// every session of the user and clears their lockout.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.validate.Var(newPassword, "required,min=8,max=1024"); err != nil {
		var verrs validator.ValidationErrors
		tag := "invalid"
		if errors.As(err, &verrs) && len(verrs) > 0 {
			tag = verrs[0].Tag()
		}
		return &ValidationError{Fields: map[string]string{"password": tag}}
	}
	return e.service.ResetPassword(ctx, token, newPassword, clientFromContext(ctx))
}

// HasPermission reports whether role grants perm.
func (e *Engine) HasPermission(role, perm string) bool {
	if e == nil || e.roles == nil {
		return false
	}
	return e.roles.HasPermission(role, perm)
}

// UserSessions lists every indexed session of userID, active or not.
func (e *Engine) UserSessions(ctx context.Context, userID string) ([]*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	return e.sessions.UserSessions(ctx, userID)
}

func (e *Engine) SessionStats(ctx context.Context) (SessionStats, error) {
	if !e.ready() {
		return SessionStats{}, ErrEngineNotReady
	}
	return e.sessions.Stats(ctx)
}

func (e *Engine) TokenStatistics(ctx context.Context) (TokenStats, error) {
	if !e.ready() {
		return TokenStats{}, ErrEngineNotReady
	}
	return e.verifier.TokenStatistics(ctx)
}

// CleanupExpired runs every sweep once, independent of the background
// intervals.
func (e *Engine) CleanupExpired(ctx context.Context) (CleanupReport, error) {
	if !e.ready() {
		return CleanupReport{}, ErrEngineNotReady
	}
	var report CleanupReport
	var errs []error
	var err error
	if report.Sessions, err = e.sessionStore.CleanupExpired(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sessions: %w", err))
	}
	if report.Lockouts, err = e.lockout.Cleanup(ctx); err != nil {
		errs = append(errs, fmt.Errorf("lockouts: %w", err))
	}
	if report.Tokens, err = e.verifier.CleanupExpiredTokens(ctx); err != nil {
		errs = append(errs, fmt.Errorf("verification tokens: %w", err))
	}
	return report, errors.Join(errs...)
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

// AuditDropped counts audit events lost to a full buffer or a closed dispatcher.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByAction breaks AuditDropped down by audit action.
func (e *Engine) AuditDroppedByAction() map[string]uint64 {
	if e == nil {
		return map[string]uint64{}
	}
	return e.audit.DroppedByAction()
}

// Close stops every sweep, closes the stores and drains the audit buffer.
// It does not wait for in-flight requests. Calling Close again is a no-op.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		var errs []error
		if e.verifier != nil {
			errs = append(errs, e.verifier.Close())
		}
		if e.lockout != nil {
			errs = append(errs, e.lockout.Close())
		}
		if e.sessionStore != nil {
			errs = append(errs, e.sessionStore.Close())
		}
		e.audit.Close()
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}

func (e *Engine) emit(ctx context.Context, action string, ok bool, userID, sessionID, desc string, client flows.Client) {
	e.audit.Emit(ctx, AuditEvent{
		Timestamp:   e.now(),
		Action:      action,
		UserID:      userID,
		SessionID:   sessionID,
		Success:     ok,
		Description: desc,
		IPAddress:   client.IPAddress,
		UserAgent:   client.UserAgent,
	})
}

// sessionTokens adapts the JWT manager to the session manager.
type sessionTokens struct {
	jm *jwt.Manager
}

func (t sessionTokens) IssueAccess(s session.TokenSubject) (string, error) {
	return t.jm.IssueAccess(jwt.Subject(s))
}

func (t sessionTokens) IssueRefresh(s session.TokenSubject) (string, error) {
	return t.jm.IssueRefresh(jwt.Subject(s))
}

func (t sessionTokens) VerifyRefresh(token string) (session.TokenSubject, error) {
	claims, err := t.jm.Verify(token, jwt.TypeRefresh)
	if err != nil {
		return session.TokenSubject{}, err
	}
	return session.TokenSubject{
		UserID:    claims.UserID(),
		Email:     claims.Email,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	}, nil
}

func (t sessionTokens) AccessTTL() time.Duration { return t.jm.AccessTTL() }

// userDirectory adapts a UserStore to the verification manager.
type userDirectory struct {
	users UserStore
}

func (d userDirectory) FindByID(ctx context.Context, id string) (verification.User, error) {
	u, err := d.users.FindByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return verification.User{}, errors.Join(verification.ErrUserNotFound, err)
	}
	if err != nil {
		return verification.User{}, err
	}
	return verification.User{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		EmailVerified: u.EmailVerified,
	}, nil
}

func (d userDirectory) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	yes := true
	_, err := d.users.Update(ctx, id, UserUpdate{
		EmailVerified:   &yes,
		IsActive:        &yes,
		EmailVerifiedAt: &at,
	})
	return err
}

func toFlowUser(u UserRecord) flows.UserRecord {
	return flows.UserRecord{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		PasswordHash:  u.PasswordHash,
		Role:          u.Role,
		IsActive:      u.IsActive,
		EmailVerified: u.EmailVerified,
	}
}

func fromFlowUser(u flows.UserRecord) UserRecord {
	return UserRecord{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		Role:          u.Role,
		IsActive:      u.IsActive,
		EmailVerified: u.EmailVerified,
	}
}
