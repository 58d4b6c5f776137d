package authcore

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MrEthical07/authcore/password"
)

// EnvPrefix is prepended to every environment variable read by LoadConfigFromEnv.
const EnvPrefix = "AUTHCORE_"

// Config is the full engine configuration. Start from DefaultConfig and
// override fields, or use LoadConfigFromEnv.
type Config struct {
	JWT               JWTConfig               `envPrefix:"JWT_"`
	Session           SessionConfig           `envPrefix:"SESSION_"`
	Lockout           LockoutConfig           `envPrefix:"LOCKOUT_"`
	EmailVerification EmailVerificationConfig `envPrefix:"EMAIL_VERIFICATION_"`
	Account           AccountConfig           `envPrefix:"ACCOUNT_"`
	Password          PasswordConfig          `envPrefix:"PASSWORD_"`
	Permission        PermissionConfig        `envPrefix:"PERMISSION_"`
	Audit             AuditConfig             `envPrefix:"AUDIT_"`
	Metrics           MetricsConfig           `envPrefix:"METRICS_"`
}

// JWTConfig controls token signing.
type JWTConfig struct {
	AccessTTL     time.Duration `env:"ACCESS_TTL"`
	RefreshTTL    time.Duration `env:"REFRESH_TTL"`
	PurposeTTL    time.Duration `env:"PURPOSE_TTL"`
	SigningMethod string        `env:"SIGNING_METHOD"` // "hs256" or "ed25519"
	Issuer        string        `env:"ISSUER"`
	Audience      string        `env:"AUDIENCE"`
	Leeway        time.Duration `env:"LEEWAY"`
	KeyID         string        `env:"KEY_ID"`

	// PrivateKey is the HMAC secret for hs256 or the Ed25519 private key
	// (raw or PEM). PublicKey is the Ed25519 public key.
	PrivateKey []byte `env:"-"`
	PublicKey  []byte `env:"-"`

	Secret         string `env:"SECRET"`
	PrivateKeyFile string `env:"PRIVATE_KEY_FILE"`
	PublicKeyFile  string `env:"PUBLIC_KEY_FILE"`
}

// SessionConfig controls session lifetime, limits and storage.
type SessionConfig struct {
	Timeout               time.Duration `env:"TIMEOUT"`
	TokenRotationInterval time.Duration `env:"TOKEN_ROTATION_INTERVAL"`
	MaxSessionsPerUser    int           `env:"MAX_SESSIONS_PER_USER"`
	EnableTokenRotation   bool          `env:"ENABLE_TOKEN_ROTATION"`
	RevokeOnRefreshReuse  bool          `env:"REVOKE_ON_REFRESH_REUSE"`
	CleanupInterval       time.Duration `env:"CLEANUP_INTERVAL"`
	RedisPrefix           string        `env:"REDIS_PREFIX"`
}

// LockoutConfig controls brute-force protection.
type LockoutConfig struct {
	MaxFailedAttempts int           `env:"MAX_FAILED_ATTEMPTS"`
	Duration          time.Duration `env:"DURATION"`
	CleanupInterval   time.Duration `env:"CLEANUP_INTERVAL"`
	Retention         time.Duration `env:"RETENTION"`
	RedisPrefix       string        `env:"REDIS_PREFIX"`
}

// EmailVerificationConfig controls verification and reset tokens.
type EmailVerificationConfig struct {
	TokenTTL         time.Duration `env:"TOKEN_TTL"`
	PasswordResetTTL time.Duration `env:"PASSWORD_RESET_TTL"`
	MaxTokensPerUser int           `env:"MAX_TOKENS_PER_USER"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL"`
	VerificationURL  string        `env:"URL"`
	PasswordResetURL string        `env:"PASSWORD_RESET_URL"`
}

// AccountConfig controls registration.
type AccountConfig struct {
	// ActivateOnRegister creates accounts active. By default an account
	// becomes active when its email is verified.
	ActivateOnRegister bool   `env:"ACTIVATE_ON_REGISTER"`
	DefaultRole        string `env:"DEFAULT_ROLE"`
}

// PasswordConfig selects the hashing algorithm.
type PasswordConfig struct {
	Algorithm         string `env:"ALGORITHM"`
	BcryptCost        int    `env:"BCRYPT_COST"`
	Argon2Memory      uint32 `env:"ARGON2_MEMORY"`
	Argon2Time        uint32 `env:"ARGON2_TIME"`
	Argon2Parallelism uint8  `env:"ARGON2_PARALLELISM"`
}

// PermissionConfig controls the role mask.
type PermissionConfig struct {
	RootBitReserved bool `env:"ROOT_BIT_RESERVED"`
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`

	// EnqueueTimeout bounds how long a request waits for audit buffer space
	// when DropIfFull is false.
	EnqueueTimeout time.Duration `env:"ENQUEUE_TIMEOUT"`
	SinkTimeout    time.Duration `env:"SINK_TIMEOUT"`
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"ENABLE_LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns the documented defaults. JWT key material is left
// empty and must be supplied.
func DefaultConfig() Config {
	argon := password.DefaultArgon2Params()
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			PurposeTTL:    time.Hour,
			SigningMethod: "hs256",
			Issuer:        "authcore",
		},
		Session: SessionConfig{
			Timeout:               7 * 24 * time.Hour,
			TokenRotationInterval: 15 * time.Minute,
			MaxSessionsPerUser:    5,
			EnableTokenRotation:   true,
			CleanupInterval:       time.Hour,
			RedisPrefix:           "acs",
		},
		Lockout: LockoutConfig{
			MaxFailedAttempts: 5,
			Duration:          15 * time.Minute,
			CleanupInterval:   time.Hour,
			RedisPrefix:       "alo",
		},
		EmailVerification: EmailVerificationConfig{
			TokenTTL:         24 * time.Hour,
			PasswordResetTTL: time.Hour,
			MaxTokensPerUser: 5,
			CleanupInterval:  time.Hour,
		},
		Account: AccountConfig{
			DefaultRole: "user",
		},
		Password: PasswordConfig{
			Algorithm:         string(password.AlgorithmBcrypt),
			BcryptCost:        12,
			Argon2Memory:      argon.Memory,
			Argon2Time:        argon.Time,
			Argon2Parallelism: argon.Parallelism,
		},
		Permission: PermissionConfig{RootBitReserved: true},
		Audit: AuditConfig{
			Enabled:        true,
			BufferSize:     1024,
			DropIfFull:     true,
			EnqueueTimeout: 100 * time.Millisecond,
			SinkTimeout:    5 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// LoadConfigFromEnv overlays AUTHCORE_* variables on DefaultConfig. Key
// files named by AUTHCORE_JWT_PRIVATE_KEY_FILE and AUTHCORE_JWT_PUBLIC_KEY_FILE
// are read; AUTHCORE_JWT_SECRET supplies an hs256 secret directly.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.JWT.loadKeys(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (j *JWTConfig) loadKeys() error {
	if j.Secret != "" && len(j.PrivateKey) == 0 {
		j.PrivateKey = []byte(j.Secret)
	}
	if j.PrivateKeyFile != "" {
		b, err := os.ReadFile(j.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("config: read jwt private key: %w", err)
		}
		j.PrivateKey = b
	}
	if j.PublicKeyFile != "" {
		b, err := os.ReadFile(j.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("config: read jwt public key: %w", err)
		}
		j.PublicKey = b
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneConfig(cfg Config) Config {
	cfg.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	cfg.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return cfg
}

func (c PasswordConfig) hasherConfig() password.Config {
	argon := password.DefaultArgon2Params()
	if c.Argon2Memory > 0 {
		argon.Memory = c.Argon2Memory
	}
	if c.Argon2Time > 0 {
		argon.Time = c.Argon2Time
	}
	if c.Argon2Parallelism > 0 {
		argon.Parallelism = c.Argon2Parallelism
	}
	return password.Config{
		Algorithm:  password.Algorithm(strings.ToLower(c.Algorithm)),
		BcryptCost: c.BcryptCost,
		Argon2:     argon,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.PurposeTTL < 0 {
		return errors.New("JWT PurposeTTL must be >= 0")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Session
	if c.Session.Timeout <= 0 {
		return errors.New("Session Timeout must be > 0")
	}
	if c.Session.MaxSessionsPerUser <= 0 {
		return errors.New("Session MaxSessionsPerUser must be > 0")
	}
	if c.Session.TokenRotationInterval < 0 {
		return errors.New("Session TokenRotationInterval must be >= 0")
	}
	if c.Session.CleanupInterval < 0 {
		return errors.New("Session CleanupInterval must be >= 0")
	}
	if c.JWT.RefreshTTL > c.Session.Timeout {
		return errors.New("JWT RefreshTTL must not exceed Session Timeout")
	}

	// Lockout
	if c.Lockout.MaxFailedAttempts <= 0 {
		return errors.New("Lockout MaxFailedAttempts must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}
	if c.Lockout.CleanupInterval < 0 || c.Lockout.Retention < 0 {
		return errors.New("Lockout CleanupInterval and Retention must be >= 0")
	}

	// Email verification
	if c.EmailVerification.TokenTTL <= 0 || c.EmailVerification.PasswordResetTTL <= 0 {
		return errors.New("EmailVerification TTLs must be > 0")
	}
	if c.EmailVerification.MaxTokensPerUser <= 0 {
		return errors.New("EmailVerification MaxTokensPerUser must be > 0")
	}
	for _, raw := range []string{c.EmailVerification.VerificationURL, c.EmailVerification.PasswordResetURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("EmailVerification link base %q must be an absolute URL", raw)
		}
	}

	// Account
	if c.Account.DefaultRole == "" {
		return errors.New("Account DefaultRole must be set")
	}

	// Password
	switch password.Algorithm(strings.ToLower(c.Password.Algorithm)) {
	case password.AlgorithmBcrypt, password.AlgorithmArgon2id:
	default:
		return errors.New("Password Algorithm must be 'bcrypt' or 'argon2id'")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Audit.EnqueueTimeout < 0 || c.Audit.SinkTimeout < 0 {
		return errors.New("Audit EnqueueTimeout and SinkTimeout must be >= 0")
	}
	return nil
}
