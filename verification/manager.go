package verification

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/sweep"
)

// User is the slice of an account the manager needs.
type User struct {
	ID            string
	Email         string
	DisplayName   string
	EmailVerified bool
}

// UserDirectory is the manager's view of the user store.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (User, error)
	// MarkEmailVerified sets the user verified and active.
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
}

// Config controls token lifetimes and limits.
type Config struct {
	TokenTTL         time.Duration
	PasswordResetTTL time.Duration
	// MaxTokensPerUser caps outstanding tokens per user and type.
	MaxTokensPerUser int
	CleanupInterval  time.Duration
	// VerificationURL is the base of the link sent to users. The token is
	// appended as the "token" query parameter.
	VerificationURL  string
	PasswordResetURL string
	Now              func() time.Time
	Logger           *slog.Logger
}

// DefaultConfig returns 24h verification tokens, 1h reset tokens and a cap of 5.
func DefaultConfig() Config {
	return Config{
		TokenTTL:         24 * time.Hour,
		PasswordResetTTL: time.Hour,
		MaxTokensPerUser: 5,
		CleanupInterval:  time.Hour,
	}
}

func (c Config) validate() error {
	if c.TokenTTL <= 0 {
		return errors.New("verification: token TTL must be > 0")
	}
	if c.PasswordResetTTL <= 0 {
		return errors.New("verification: password reset TTL must be > 0")
	}
	if c.MaxTokensPerUser <= 0 {
		return errors.New("verification: max tokens per user must be > 0")
	}
	if c.CleanupInterval < 0 {
		return errors.New("verification: cleanup interval must be >= 0")
	}
	for _, raw := range []string{c.VerificationURL, c.PasswordResetURL} {
		if raw == "" {
			continue
		}
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("verification: invalid link base %q: %w", raw, err)
		}
	}
	return nil
}

// CreateParams describes a token request.
type CreateParams struct {
	UserID    string
	Type      TokenType
	IPAddress string
	UserAgent string
	// ExpiresIn overrides the configured lifetime when positive.
	ExpiresIn time.Duration
}

// Manager creates, delivers and consumes tokens.
type Manager struct {
	store  Store
	users  UserDirectory
	mailer Mailer
	cfg    Config
	now    func() time.Time
	log    *slog.Logger

	sweeper *sweep.Sweeper

	// Count and insert are serialized per user so the cap holds within a
	// process even for stores that are not CappedCreators.
	userLocks [64]sync.Mutex
}

// NewManager wires a manager. mailer may be nil, in which case send
// operations fail.
func NewManager(store Store, users UserDirectory, mailer Mailer, cfg Config) (*Manager, error) {
	if store == nil || users == nil {
		return nil, errors.New("verification: store and user directory are required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Manager{store: store, users: users, mailer: mailer, cfg: cfg, now: cfg.Now, log: cfg.Logger}
	if m.now == nil {
		m.now = time.Now
	}
	if m.log == nil {
		m.log = slog.New(slog.DiscardHandler)
	}
	m.sweeper = sweep.New(cfg.CleanupInterval, func(ctx context.Context) {
		n, err := m.CleanupExpiredTokens(ctx)
		if err != nil {
			m.log.WarnContext(ctx, "verification token sweep failed", "error", err)
			return
		}
		if n > 0 {
			m.log.DebugContext(ctx, "verification token sweep", "removed", n)
		}
	})
	return m, nil
}

func (m *Manager) ttl(typ TokenType) time.Duration {
	if typ == TypePasswordReset {
		return m.cfg.PasswordResetTTL
	}
	return m.cfg.TokenTTL
}

// CreateToken issues a token for an existing user. Email verification tokens
// are refused for users who are already verified.
func (m *Manager) CreateToken(ctx context.Context, p CreateParams) (*Token, error) {
	if p.Type == "" {
		p.Type = TypeEmailVerification
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrTokenInvalid, p.Type)
	}

	user, err := m.users.FindByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return m.createFor(ctx, user, p)
}

func (m *Manager) createFor(ctx context.Context, user User, p CreateParams) (*Token, error) {
	if p.Type == TypeEmailVerification && user.EmailVerified {
		return nil, ErrEmailAlreadyVerified
	}

	raw, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	ttl := m.ttl(p.Type)
	if p.ExpiresIn > 0 {
		ttl = p.ExpiresIn
	}

	mu := m.userLock(user.ID)
	mu.Lock()
	defer mu.Unlock()

	now := m.now()
	tok := &Token{
		Token:     raw,
		UserID:    user.ID,
		Type:      p.Type,
		ExpiresAt: now.Add(ttl),
		IPAddress: p.IPAddress,
		UserAgent: p.UserAgent,
		CreatedAt: now,
	}
	if cc, ok := m.store.(CappedCreator); ok {
		if err := cc.CreateIfBelow(ctx, tok, m.cfg.MaxTokensPerUser, now); err != nil {
			return nil, err
		}
		return tok, nil
	}

	count, err := m.store.CountOutstanding(ctx, user.ID, p.Type, now)
	if err != nil {
		return nil, err
	}
	if count >= m.cfg.MaxTokensPerUser {
		return nil, ErrTokenLimitExceeded
	}
	if err := m.store.Create(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &m.userLocks[h.Sum32()%uint32(len(m.userLocks))]
}

// lookup loads a token and checks it can still be consumed.
func (m *Manager) lookup(ctx context.Context, raw string, typ TokenType, now time.Time) (*Token, error) {
	if !internal.ValidOpaqueToken(raw) {
		return nil, ErrTokenNotFound
	}
	tok, err := m.store.FindByToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	if tok.Type != typ {
		return nil, ErrTokenInvalid
	}
	if tok.IsUsed {
		return nil, ErrTokenUsed
	}
	if tok.Expired(now) {
		return nil, ErrTokenExpired
	}
	return tok, nil
}

// VerifyToken consumes an email verification token and marks its user
// verified and active. When email is non-empty it must match the user's
// address, case-insensitively.
func (m *Manager) VerifyToken(ctx context.Context, raw, email string) (User, error) {
	now := m.now()
	tok, err := m.lookup(ctx, raw, TypeEmailVerification, now)
	if err != nil {
		return User{}, err
	}

	user, err := m.users.FindByID(ctx, tok.UserID)
	if err != nil {
		return User{}, err
	}
	if email != "" && !strings.EqualFold(strings.TrimSpace(email), user.Email) {
		return User{}, ErrTokenInvalid
	}

	if av, ok := m.store.(AtomicVerifier); ok {
		if err := av.ConsumeAndVerify(ctx, raw, now); err != nil {
			return User{}, err
		}
	} else {
		if err := m.store.MarkUsed(ctx, raw, now); err != nil {
			return User{}, err
		}
		if err := m.users.MarkEmailVerified(ctx, user.ID, now); err != nil {
			if rbErr := m.store.MarkUnused(ctx, raw); rbErr != nil {
				m.log.ErrorContext(ctx, "verification token rollback failed", "user_id", user.ID, "error", rbErr)
				return User{}, errors.Join(err, rbErr)
			}
			return User{}, err
		}
	}

	user.EmailVerified = true
	return user, nil
}

// ConsumePasswordReset marks a reset token used and returns its user ID.
// Other outstanding reset tokens for the same user are revoked.
func (m *Manager) ConsumePasswordReset(ctx context.Context, raw string) (string, error) {
	now := m.now()
	tok, err := m.lookup(ctx, raw, TypePasswordReset, now)
	if err != nil {
		return "", err
	}
	if err := m.store.MarkUsed(ctx, raw, now); err != nil {
		return "", err
	}
	if _, err := m.store.RevokeOutstanding(ctx, tok.UserID, TypePasswordReset, now); err != nil {
		m.log.WarnContext(ctx, "revoking sibling reset tokens failed", "user_id", tok.UserID, "error", err)
	}
	return tok.UserID, nil
}

// ReleasePasswordReset undoes ConsumePasswordReset for a token whose
// follow-up password update failed.
func (m *Manager) ReleasePasswordReset(ctx context.Context, raw string) error {
	return m.store.MarkUnused(ctx, raw)
}

func link(base, token string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// SendVerificationEmail creates an email verification token and delivers it.
// The token is kept even if delivery fails so the caller may retry sending.
func (m *Manager) SendVerificationEmail(ctx context.Context, p CreateParams) (*Token, error) {
	if m.mailer == nil {
		return nil, errors.New("verification: no mailer configured")
	}
	p.Type = TypeEmailVerification
	user, err := m.users.FindByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	tok, err := m.createFor(ctx, user, p)
	if err != nil {
		return nil, err
	}
	msg := Message{
		To:          user.Email,
		DisplayName: user.DisplayName,
		Token:       tok.Token,
		URL:         link(m.cfg.VerificationURL, tok.Token),
		ExpiresIn:   tok.ExpiresAt.Sub(tok.CreatedAt),
	}
	if err := m.mailer.SendVerificationEmail(ctx, msg); err != nil {
		return tok, fmt.Errorf("verification: send email: %w", err)
	}
	return tok, nil
}

// SendPasswordResetEmail creates a reset token and delivers it through a
// PasswordResetMailer.
func (m *Manager) SendPasswordResetEmail(ctx context.Context, p CreateParams) (*Token, error) {
	rm, ok := m.mailer.(PasswordResetMailer)
	if !ok {
		return nil, errors.New("verification: mailer cannot send password reset email")
	}
	p.Type = TypePasswordReset
	user, err := m.users.FindByID(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	tok, err := m.createFor(ctx, user, p)
	if err != nil {
		return nil, err
	}
	msg := Message{
		To:          user.Email,
		DisplayName: user.DisplayName,
		Token:       tok.Token,
		URL:         link(m.cfg.PasswordResetURL, tok.Token),
		ExpiresIn:   tok.ExpiresAt.Sub(tok.CreatedAt),
	}
	if err := rm.SendPasswordResetEmail(ctx, msg); err != nil {
		return tok, fmt.Errorf("verification: send email: %w", err)
	}
	return tok, nil
}

// CleanupExpiredTokens deletes every token past its expiry, used or not.
func (m *Manager) CleanupExpiredTokens(ctx context.Context) (int, error) {
	return m.store.DeleteExpired(ctx, m.now())
}

// TokenStatistics summarizes the store.
func (m *Manager) TokenStatistics(ctx context.Context) (Stats, error) {
	return m.store.Stats(ctx, m.now())
}

// Start launches the cleanup loop if CleanupInterval > 0.
func (m *Manager) Start() { m.sweeper.Start() }

// Close stops the cleanup loop.
func (m *Manager) Close() error {
	m.sweeper.Stop()
	return nil
}
