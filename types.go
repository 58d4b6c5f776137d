package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/verification"
)

// UserRecord is an account as seen by the engine. PasswordHash is only
// guaranteed to be populated by FindCredentialsByEmail.
type UserRecord struct {
	ID              string
	Email           string
	DisplayName     string
	PasswordHash    string
	Role            string
	IsActive        bool
	EmailVerified   bool
	EmailVerifiedAt time.Time
	LastLoginAt     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateUserInput is passed to UserStore.Create. Email is already normalized.
type CreateUserInput struct {
	Email         string
	DisplayName   string
	PasswordHash  string
	Role          string
	IsActive      bool
	EmailVerified bool
}

// UserUpdate is a partial update; nil fields are left unchanged.
type UserUpdate struct {
	DisplayName     *string
	PasswordHash    *string
	Role            *string
	IsActive        *bool
	EmailVerified   *bool
	EmailVerifiedAt *time.Time
	LastLoginAt     *time.Time
}

// UserStore is the relational user collaborator. Lookups by email receive
// the normalized (trimmed, lower-cased) address. Missing rows return
// ErrUserNotFound and Create returns ErrAccountExists for a taken email.
type UserStore interface {
	FindByID(ctx context.Context, id string) (UserRecord, error)
	FindByEmail(ctx context.Context, email string) (UserRecord, error)
	FindCredentialsByEmail(ctx context.Context, email string) (UserRecord, error)
	Create(ctx context.Context, in CreateUserInput) (UserRecord, error)
	Update(ctx context.Context, id string, u UserUpdate) (UserRecord, error)
}

// PasswordHasher hashes and checks passwords. Implementations that also have
// NeedsRehash(hash string) (bool, error) get hashes upgraded on login.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) (bool, error)
}

type rehasher interface {
	NeedsRehash(hash string) (bool, error)
}

// Mailer delivers verification emails; PasswordResetMailer is optional on
// the same value.
type (
	Mailer              = verification.Mailer
	PasswordResetMailer = verification.PasswordResetMailer
	VerificationEmail   = verification.Message
)

// LoginRequest is the input to Engine.Login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
}

// LoginResult is returned by a successful Engine.Login.
type LoginResult struct {
	User         UserRecord
	SessionID    string
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Message      string
}

// RegisterRequest is the input to Engine.Register. An empty Role takes
// Account.DefaultRole.
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=1024"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Role        string `json:"role" validate:"omitempty,max=64"`
}

// RegisterResult is returned by a successful Engine.Register.
// VerificationSent is false when the verification email could not be sent.
type RegisterResult struct {
	User             UserRecord
	VerificationSent bool
}

// RefreshResult is returned by Engine.RefreshTokens. RefreshToken is empty
// when rotation is disabled and the presented token stays valid.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	ExpiresIn    time.Duration
}

// AuthResult describes a validated access token.
type AuthResult struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
	ExpiresAt time.Time
}

// Session re-exports the session record for callers of ValidateSession.
type (
	Session           = session.Session
	SessionValidation = session.Validation
	SessionStats      = session.Stats
	TokenStats        = verification.Stats
)
