package flows

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
)

// Audit actions.
const (
	ActionLogin             = "login"
	ActionLogout            = "logout"
	ActionRegister          = "register"
	ActionVerifyEmail       = "verify_email"
	ActionPasswordReset     = "password_reset"
	ActionPasswordResetSent = "password_reset_requested"
)

// UserRecord is the flow-local user shape.
type UserRecord struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	Role          string
	IsActive      bool
	EmailVerified bool
}

// Errors carries host-level sentinels so flows do not import the root package.
type Errors struct {
	InvalidCredentials error
	AccountExists      error
	UserNotFound       error
	SessionLimit       error
	Locked             func(remaining time.Duration) error
}

// Common is shared by every flow.
type Common struct {
	Now       func() time.Time
	Emit      func(context.Context, audit.Event)
	MetricInc func(id int)
	Warn      func(ctx context.Context, msg string, args ...any)
	Errors    Errors
}

func (c *Common) defaults() {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Emit == nil {
		c.Emit = func(context.Context, audit.Event) {}
	}
	if c.MetricInc == nil {
		c.MetricInc = func(int) {}
	}
	if c.Warn == nil {
		c.Warn = func(context.Context, string, ...any) {}
	}
}

// Client identifies the caller for audit records.
type Client struct {
	IPAddress string
	UserAgent string
}

func (c *Common) emit(ctx context.Context, action string, ok bool, userID, sessionID, desc string, client Client, meta map[string]string) {
	c.Emit(ctx, audit.Event{
		Timestamp:   c.Now(),
		Action:      action,
		UserID:      userID,
		SessionID:   sessionID,
		Success:     ok,
		Description: desc,
		IPAddress:   client.IPAddress,
		UserAgent:   client.UserAgent,
		Metadata:    meta,
	})
}

// NormalizeEmail trims and lower-cases an address. Lockout records and user
// lookups are keyed by the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
