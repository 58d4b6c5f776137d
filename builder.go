package authcore

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/verification"
)

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users             UserStore
	sessionStore      session.Store
	lockoutTracker    lockout.Tracker
	verificationStore verification.Store
	mailer            Mailer
	auditSink         AuditSink
	hasher            PasswordHasher
	roles             map[string][]string
	logger            *slog.Logger
	now               func() time.Time

	built bool
}

// New returns a builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithUserStore sets the required user collaborator.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithRedis moves sessions and lockout records to Redis. Explicit
// WithSessionStore and WithLockoutTracker values still win.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessionStore = store
	return b
}

func (b *Builder) WithLockoutTracker(tracker lockout.Tracker) *Builder {
	b.lockoutTracker = tracker
	return b
}

func (b *Builder) WithVerificationStore(store verification.Store) *Builder {
	b.verificationStore = store
	return b
}

// WithMailer sets the verification mailer. Password reset emails are sent
// only if it also implements PasswordResetMailer.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithPasswordHasher replaces the hasher selected by Config.Password.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

// WithRoles maps role names to permission names. Permission bits are
// assigned in sorted order. Without roles only Account.DefaultRole exists,
// with no permissions.
func (b *Builder) WithRoles(roles map[string][]string) *Builder {
	b.roles = roles
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration, wires every component and starts the
// cleanup sweeps. The Engine owns the stores it was given and closes them.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- ROLES --------
	roles := b.roles
	if len(roles) == 0 {
		roles = map[string][]string{cfg.Account.DefaultRole: nil}
	}
	if _, ok := roles[cfg.Account.DefaultRole]; !ok {
		return nil, fmt.Errorf("Account DefaultRole %q is not a configured role", cfg.Account.DefaultRole)
	}
	roleManager, err := permission.Build(roles, cfg.Permission.RootBitReserved)
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	hasher := b.hasher
	if hasher == nil {
		h, err := password.New(cfg.Password.hasherConfig())
		if err != nil {
			return nil, err
		}
		hasher = h
	}
	dummy, err := dummyHash(hasher)
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		PurposeTTL:    cfg.JWT.PurposeTTL,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	// -------- SESSIONS --------
	sessionStore := b.sessionStore
	if sessionStore == nil {
		opts := session.StoreOptions{CleanupInterval: cfg.Session.CleanupInterval, Now: now, Logger: logger}
		if b.redis != nil {
			sessionStore = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix, opts)
		} else {
			sessionStore = session.NewMemoryStore(opts)
		}
	}
	sessions, err := session.NewManager(sessionStore, sessionTokens{jm: jm}, session.ManagerConfig{
		MaxSessionsPerUser:    cfg.Session.MaxSessionsPerUser,
		SessionTimeout:        cfg.Session.Timeout,
		TokenRotationInterval: cfg.Session.TokenRotationInterval,
		EnableTokenRotation:   cfg.Session.EnableTokenRotation,
		RevokeOnRefreshReuse:  cfg.Session.RevokeOnRefreshReuse,
		Now:                   now,
		Logger:                logger,
	})
	if err != nil {
		return nil, err
	}

	// -------- LOCKOUT --------
	tracker := b.lockoutTracker
	if tracker == nil {
		lcfg := lockout.Config{
			MaxFailedAttempts: cfg.Lockout.MaxFailedAttempts,
			Duration:          cfg.Lockout.Duration,
			CleanupInterval:   cfg.Lockout.CleanupInterval,
			Retention:         cfg.Lockout.Retention,
			Now:               now,
			Logger:            logger,
		}
		if b.redis != nil {
			tracker, err = lockout.NewRedisTracker(b.redis, cfg.Lockout.RedisPrefix, lcfg)
		} else {
			tracker, err = lockout.NewMemoryTracker(lcfg)
		}
		if err != nil {
			return nil, err
		}
	}

	// -------- VERIFICATION --------
	vstore := b.verificationStore
	if vstore == nil {
		vstore = verification.NewMemoryStore()
	}
	verifier, err := verification.NewManager(vstore, userDirectory{users: b.users}, b.mailer, verification.Config{
		TokenTTL:         cfg.EmailVerification.TokenTTL,
		PasswordResetTTL: cfg.EmailVerification.PasswordResetTTL,
		MaxTokensPerUser: cfg.EmailVerification.MaxTokensPerUser,
		CleanupInterval:  cfg.EmailVerification.CleanupInterval,
		VerificationURL:  cfg.EmailVerification.VerificationURL,
		PasswordResetURL: cfg.EmailVerification.PasswordResetURL,
		Now:              now,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		logger:       logger,
		now:          now,
		users:        b.users,
		hasher:       hasher,
		jwtManager:   jm,
		sessionStore: sessionStore,
		sessions:     sessions,
		lockout:      tracker,
		verifier:     verifier,
		hasMailer:    b.mailer != nil,
		resetMailer:  canReset(b.mailer),
		sharedStore:  sharedSessionStore(sessionStore),
		roles:        roleManager,
		metrics:      NewMetrics(cfg.Metrics),
		validate:     newValidator(),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:        cfg.Audit.Enabled,
			BufferSize:     cfg.Audit.BufferSize,
			DropIfFull:     cfg.Audit.DropIfFull,
			EnqueueTimeout: cfg.Audit.EnqueueTimeout,
			SinkTimeout:    cfg.Audit.SinkTimeout,
			Now:            now,
		}, b.auditSink),
	}
	engine.service = engine.wireFlows(dummy)

	sessionStore.Start()
	tracker.Start()
	verifier.Start()

	b.built = true
	return engine, nil
}

// dummyHash hashes a random secret so lookups of unknown users can spend
// the same verification work as real ones.
func dummyHash(h PasswordHasher) (string, error) {
	secret, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	hash, err := h.Hash(secret[:32])
	if err != nil {
		return "", fmt.Errorf("dummy password hash: %w", err)
	}
	return hash, nil
}

func canReset(m Mailer) bool {
	_, ok := m.(PasswordResetMailer)
	return ok
}

func sharedSessionStore(store session.Store) bool {
	_, local := store.(*session.MemoryStore)
	return !local
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}
