package session

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/internal"
)

const maxWriteAttempts = 5

// TokenSubject is the identity the manager asks the issuer to sign.
type TokenSubject struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
}

// TokenIssuer mints the access/refresh pair bound to a session.
type TokenIssuer interface {
	IssueAccess(subj TokenSubject) (string, error)
	IssueRefresh(subj TokenSubject) (string, error)
	// VerifyRefresh must reject anything that is not an unexpired refresh token.
	VerifyRefresh(token string) (TokenSubject, error)
	AccessTTL() time.Duration
}

// ManagerConfig controls session limits and rotation.
type ManagerConfig struct {
	MaxSessionsPerUser    int
	SessionTimeout        time.Duration
	TokenRotationInterval time.Duration
	EnableTokenRotation   bool
	// RevokeOnRefreshReuse invalidates a session when one of its rotated-out
	// refresh tokens is presented again.
	RevokeOnRefreshReuse bool

	Now    func() time.Time
	Logger *slog.Logger
}

// DefaultManagerConfig returns the production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxSessionsPerUser:    5,
		SessionTimeout:        7 * 24 * time.Hour,
		TokenRotationInterval: 15 * time.Minute,
		EnableTokenRotation:   true,
	}
}

// CreateParams describes a new session. Timeout overrides the configured
// SessionTimeout when non-nil; a negative value creates an already-expired
// session.
type CreateParams struct {
	UserID    string
	Email     string
	Role      string
	UserAgent string
	IPAddress string
	Metadata  map[string]string
	Timeout   *time.Duration
}

// ValidationReason explains why a session failed validation.
type ValidationReason string

const (
	ReasonNone     ValidationReason = ""
	ReasonNotFound ValidationReason = "not_found"
	ReasonInactive ValidationReason = "inactive"
	ReasonExpired  ValidationReason = "expired"
)

// Validation is the outcome of ValidateSession.
type Validation struct {
	Valid           bool
	Reason          ValidationReason
	Session         *Session
	NeedsRefresh    bool
	TimeUntilExpiry time.Duration
}

// RefreshResult is returned by RefreshTokens. RefreshToken is empty when
// rotation is disabled; the caller keeps using the token it presented.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	Session      *Session
	ExpiresIn    time.Duration
}

// Manager owns session lifecycle and token rotation on top of a Store.
type Manager struct {
	store  Store
	issuer TokenIssuer
	cfg    ManagerConfig

	// Creation is serialized per user so the session cap holds within a process.
	userLocks [64]sync.Mutex
}

// NewManager validates cfg and wires the store and issuer.
func NewManager(store Store, issuer TokenIssuer, cfg ManagerConfig) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if issuer == nil {
		return nil, errors.New("token issuer is required")
	}
	if cfg.MaxSessionsPerUser <= 0 {
		return nil, errors.New("MaxSessionsPerUser must be > 0")
	}
	if cfg.SessionTimeout <= 0 {
		return nil, errors.New("SessionTimeout must be > 0")
	}
	if cfg.TokenRotationInterval < 0 {
		return nil, errors.New("TokenRotationInterval must be >= 0")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{store: store, issuer: issuer, cfg: cfg}, nil
}

// Store exposes the underlying store.
func (m *Manager) Store() Store { return m.store }

func (m *Manager) userLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &m.userLocks[h.Sum32()%uint32(len(m.userLocks))]
}

// CreateSession enforces the per-user cap, mints tokens and persists the session.
func (m *Manager) CreateSession(ctx context.Context, p CreateParams) (*Session, error) {
	if p.UserID == "" {
		return nil, errors.New("user id is required")
	}

	lock := m.userLock(p.UserID)
	lock.Lock()
	defer lock.Unlock()

	count, err := m.store.UserSessionCount(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if count >= m.cfg.MaxSessionsPerUser {
		return nil, ErrSessionLimitExceeded
	}

	id, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	subj := TokenSubject{UserID: p.UserID, Email: p.Email, Role: p.Role, SessionID: id}
	access, err := m.issuer.IssueAccess(subj)
	if err != nil {
		return nil, err
	}
	refresh, err := m.issuer.IssueRefresh(subj)
	if err != nil {
		return nil, err
	}

	timeout := m.cfg.SessionTimeout
	if p.Timeout != nil {
		timeout = *p.Timeout
	}
	now := m.cfg.Now()
	sess := &Session{
		ID:           id,
		UserID:       p.UserID,
		Email:        p.Email,
		Role:         p.Role,
		AccessToken:  access,
		RefreshToken: refresh,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(timeout),
		IsActive:     true,
		UserAgent:    p.UserAgent,
		IPAddress:    p.IPAddress,
	}
	if len(p.Metadata) > 0 {
		sess.Metadata = maps.Clone(p.Metadata)
	}

	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// ValidateSession checks existence, activity and expiry. An expired session is
// invalidated as a side effect. A valid session has its LastActivity touched.
// The error return is reserved for store failures.
func (m *Manager) ValidateSession(ctx context.Context, id string) (Validation, error) {
	now := m.cfg.Now()

	sess, err := m.update(ctx, id, func(s *Session) error {
		if !s.IsActive {
			return errStopInactive
		}
		if s.Expired(now) {
			return errStopExpired
		}
		s.LastActivity = now
		return nil
	})
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return Validation{Reason: ReasonNotFound}, nil
	case errors.Is(err, errStopInactive):
		return Validation{Reason: ReasonInactive, Session: sess}, nil
	case errors.Is(err, errStopExpired):
		if err := m.InvalidateSession(ctx, id); err != nil {
			return Validation{}, err
		}
		sess.IsActive = false
		return Validation{Reason: ReasonExpired, Session: sess}, nil
	case err != nil:
		return Validation{}, err
	}

	remaining := sess.ExpiresAt.Sub(now)
	return Validation{
		Valid:           true,
		Session:         sess,
		NeedsRefresh:    remaining < m.cfg.TokenRotationInterval,
		TimeUntilExpiry: remaining,
	}, nil
}

var (
	errStopInactive = errors.New("session inactive")
	errStopExpired  = errors.New("session expired")
	errStopStale    = errors.New("refresh token no longer current")
)

// RefreshTokens exchanges a refresh token for a new access token and, when
// rotation is enabled, a new refresh token. Among concurrent calls presenting
// the same token exactly one succeeds.
func (m *Manager) RefreshTokens(ctx context.Context, refreshToken, userAgent, ipAddress string) (*RefreshResult, error) {
	subj, err := m.issuer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, errors.Join(ErrTokenRotation, err)
	}

	sess, err := m.store.FindByRefreshToken(ctx, refreshToken)
	if errors.Is(err, ErrSessionNotFound) {
		if m.detectReuse(ctx, subj, refreshToken) {
			return nil, errors.Join(ErrTokenRotation, ErrSessionNotFound, ErrRefreshReuse)
		}
		return nil, errors.Join(ErrTokenRotation, ErrSessionNotFound)
	}
	if err != nil {
		return nil, err
	}
	if sess.UserID != subj.UserID {
		return nil, ErrUserMismatch
	}

	now := m.cfg.Now()
	if !sess.IsActive {
		return nil, ErrSessionInactive
	}
	if sess.Expired(now) {
		if err := m.InvalidateSession(ctx, sess.ID); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}

	next := TokenSubject{UserID: sess.UserID, Email: sess.Email, Role: sess.Role, SessionID: sess.ID}
	access, err := m.issuer.IssueAccess(next)
	if err != nil {
		return nil, err
	}
	var refresh string
	if m.cfg.EnableTokenRotation {
		if refresh, err = m.issuer.IssueRefresh(next); err != nil {
			return nil, err
		}
	}

	updated, err := m.update(ctx, sess.ID, func(s *Session) error {
		if s.RefreshToken != refreshToken {
			return errStopStale
		}
		if !s.IsActive {
			return errStopInactive
		}
		s.AccessToken = access
		if refresh != "" {
			s.RefreshToken = refresh
		}
		s.LastActivity = now
		if userAgent != "" {
			s.UserAgent = userAgent
		}
		if ipAddress != "" {
			s.IPAddress = ipAddress
		}
		return nil
	})
	switch {
	case errors.Is(err, errStopStale), errors.Is(err, ErrSessionNotFound):
		return nil, errors.Join(ErrTokenRotation, ErrSessionNotFound)
	case errors.Is(err, errStopInactive):
		return nil, ErrSessionInactive
	case errors.Is(err, ErrVersionConflict):
		return nil, errors.Join(ErrTokenRotation, err)
	case err != nil:
		return nil, err
	}

	return &RefreshResult{
		AccessToken:  access,
		RefreshToken: refresh,
		Session:      updated,
		ExpiresIn:    m.issuer.AccessTTL(),
	}, nil
}

// detectReuse reports whether token is a rotated-out refresh token of a
// session that still exists, revoking that session when configured.
func (m *Manager) detectReuse(ctx context.Context, subj TokenSubject, token string) bool {
	if subj.SessionID == "" {
		return false
	}
	sess, err := m.store.FindByID(ctx, subj.SessionID)
	if err != nil || sess.UserID != subj.UserID || sess.RefreshToken == token {
		return false
	}

	m.cfg.Logger.Warn("refresh token reuse detected", "session_id", sess.ID, "user_id", sess.UserID)
	if m.cfg.RevokeOnRefreshReuse {
		if err := m.InvalidateSession(ctx, sess.ID); err != nil {
			m.cfg.Logger.Warn("revoke reused session failed", "session_id", sess.ID, "error", err)
		}
	}
	return true
}

// InvalidateSession marks the session inactive. Unknown or already inactive
// sessions are not an error.
func (m *Manager) InvalidateSession(ctx context.Context, id string) error {
	_, err := m.update(ctx, id, func(s *Session) error {
		if !s.IsActive {
			return errStopInactive
		}
		s.IsActive = false
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, errStopInactive) {
		return nil
	}
	return err
}

// InvalidateUserSessions marks every session of the user inactive.
func (m *Manager) InvalidateUserSessions(ctx context.Context, userID string) (int, error) {
	return m.store.InvalidateAllByUserID(ctx, userID)
}

// UserSessions lists the user's indexed sessions.
func (m *Manager) UserSessions(ctx context.Context, userID string) ([]*Session, error) {
	return m.store.FindByUserID(ctx, userID)
}

// Stats delegates to the store.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.store.Stats(ctx)
}

// update runs a read-modify-write through Replace, retrying on version
// conflicts. fn may abort by returning an error; the freshly read session is
// returned alongside it.
func (m *Manager) update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		sess, err := m.store.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(sess); err != nil {
			return sess, err
		}
		err = m.store.Replace(ctx, sess)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
	return nil, ErrVersionConflict
}
