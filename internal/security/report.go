package security

import (
	"fmt"
	"time"
)

// Thresholds below which BuildReport warns.
const (
	MinBcryptCost   = 12
	MinArgon2Memory = 19 * 1024
	MaxAccessTTL    = time.Hour
	MaxLockoutLimit = 20
)

type PasswordReport struct {
	Algorithm   string
	BcryptCost  int
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

type Report struct {
	SigningAlgorithm             string
	AccessTTL                    time.Duration
	RefreshTTL                   time.Duration
	SessionTimeout               time.Duration
	Password                     PasswordReport
	RefreshRotationEnabled       bool
	RefreshReuseDetectionEnabled bool
	RevokeOnRefreshReuse         bool
	SessionCapsActive            bool
	LockoutActive                bool
	SharedSessionStore           bool
	EmailVerificationActive      bool
	PasswordResetActive          bool
	AccountsActiveOnRegister     bool
	AuditEnabled                 bool
	MetricsEnabled               bool
	Warnings                     []string
}

type ReportInput struct {
	SigningAlgorithm     string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	SessionTimeout       time.Duration
	Password             PasswordReport
	EnableTokenRotation  bool
	RevokeOnRefreshReuse bool
	MaxSessionsPerUser   int
	MaxFailedAttempts    int
	LockoutDuration      time.Duration
	SharedSessionStore   bool
	VerificationMailer   bool
	PasswordResetMailer  bool
	ActivateOnRegister   bool
	AuditEnabled         bool
	MetricsEnabled       bool
}

// BuildReport derives the posture flags and lists settings worth a second
// look. Warnings are advisory; none of them makes a configuration invalid.
func BuildReport(input ReportInput) Report {
	r := Report{
		SigningAlgorithm:             input.SigningAlgorithm,
		AccessTTL:                    input.AccessTTL,
		RefreshTTL:                   input.RefreshTTL,
		SessionTimeout:               input.SessionTimeout,
		Password:                     input.Password,
		RefreshRotationEnabled:       input.EnableTokenRotation,
		RefreshReuseDetectionEnabled: input.EnableTokenRotation,
		RevokeOnRefreshReuse:         input.EnableTokenRotation && input.RevokeOnRefreshReuse,
		SessionCapsActive:            input.MaxSessionsPerUser > 0,
		LockoutActive:                input.MaxFailedAttempts > 0 && input.LockoutDuration > 0,
		SharedSessionStore:           input.SharedSessionStore,
		EmailVerificationActive:      input.VerificationMailer,
		PasswordResetActive:          input.PasswordResetMailer,
		AccountsActiveOnRegister:     input.ActivateOnRegister,
		AuditEnabled:                 input.AuditEnabled,
		MetricsEnabled:               input.MetricsEnabled,
	}

	warn := func(format string, args ...any) {
		r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	}
	switch input.Password.Algorithm {
	case "bcrypt":
		if input.Password.BcryptCost < MinBcryptCost {
			warn("bcrypt cost %d is below %d", input.Password.BcryptCost, MinBcryptCost)
		}
	case "argon2id":
		if input.Password.Memory < MinArgon2Memory {
			warn("argon2id memory %d KiB is below %d KiB", input.Password.Memory, MinArgon2Memory)
		}
	}
	if input.AccessTTL > MaxAccessTTL {
		warn("access token TTL %s exceeds %s", input.AccessTTL, MaxAccessTTL)
	}
	if !r.RefreshRotationEnabled {
		warn("refresh token rotation is disabled; a leaked refresh token stays usable until the session expires")
	}
	if !r.LockoutActive {
		warn("account lockout is disabled")
	} else if input.MaxFailedAttempts > MaxLockoutLimit {
		warn("lockout allows %d failed attempts", input.MaxFailedAttempts)
	}
	if !r.SharedSessionStore {
		warn("sessions are held in process memory and are lost on restart")
	}
	if !r.EmailVerificationActive && !r.AccountsActiveOnRegister {
		warn("no mailer is configured; new accounts cannot be verified by email")
	}
	if !r.AuditEnabled {
		warn("audit events are disabled")
	}
	return r
}
