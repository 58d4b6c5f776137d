package authcore

import (
	"strings"

	"github.com/MrEthical07/authcore/internal/security"
)

type (
	SecurityReport         = security.Report
	PasswordSecurityReport = security.PasswordReport
)

// SecurityReport summarizes the effective security settings of the engine
// and lists warnings for weak or missing protections. It performs no I/O.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config
	return security.BuildReport(security.ReportInput{
		SigningAlgorithm: strings.ToLower(cfg.JWT.SigningMethod),
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.JWT.RefreshTTL,
		SessionTimeout:   cfg.Session.Timeout,
		Password: security.PasswordReport{
			Algorithm:   strings.ToLower(cfg.Password.Algorithm),
			BcryptCost:  cfg.Password.BcryptCost,
			Memory:      cfg.Password.Argon2Memory,
			Time:        cfg.Password.Argon2Time,
			Parallelism: cfg.Password.Argon2Parallelism,
		},
		EnableTokenRotation:  cfg.Session.EnableTokenRotation,
		RevokeOnRefreshReuse: cfg.Session.RevokeOnRefreshReuse,
		MaxSessionsPerUser:   cfg.Session.MaxSessionsPerUser,
		MaxFailedAttempts:    cfg.Lockout.MaxFailedAttempts,
		LockoutDuration:      cfg.Lockout.Duration,
		SharedSessionStore:   e.sharedStore,
		VerificationMailer:   e.hasMailer,
		PasswordResetMailer:  e.resetMailer,
		ActivateOnRegister:   cfg.Account.ActivateOnRegister,
		AuditEnabled:         cfg.Audit.Enabled,
		MetricsEnabled:       cfg.Metrics.Enabled,
	})
}
