package verification

import (
	"context"
	"log/slog"
	"time"
)

// Message is the payload handed to a Mailer.
type Message struct {
	To          string
	DisplayName string
	Token       string
	URL         string
	ExpiresIn   time.Duration
}

// ExpiryHours returns ExpiresIn rounded down to whole hours, minimum 1.
func (m Message) ExpiryHours() int {
	h := int(m.ExpiresIn / time.Hour)
	if h < 1 {
		return 1
	}
	return h
}

// Mailer delivers verification email. Delivery failures are reported, not retried.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, msg Message) error
}

// PasswordResetMailer is an optional extension for reset links.
type PasswordResetMailer interface {
	SendPasswordResetEmail(ctx context.Context, msg Message) error
}

// LogMailer writes messages to a logger instead of sending them. It is meant
// for development; the token appears in the log.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

func (m LogMailer) SendVerificationEmail(ctx context.Context, msg Message) error {
	m.logger().InfoContext(ctx, "verification email", "to", msg.To, "url", msg.URL, "expiry_hours", msg.ExpiryHours())
	return nil
}

func (m LogMailer) SendPasswordResetEmail(ctx context.Context, msg Message) error {
	m.logger().InfoContext(ctx, "password reset email", "to", msg.To, "url", msg.URL, "expiry_hours", msg.ExpiryHours())
	return nil
}
