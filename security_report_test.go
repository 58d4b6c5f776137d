package authcore_test

import (
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
)

func hasWarning(report authcore.SecurityReport, substr string) bool {
	for _, w := range report.Warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestSecurityReportReflectsPosture(t *testing.T) {
	h := newHarness(t, nil, nil)

	report := h.engine.SecurityReport()
	if report.SigningAlgorithm != "hs256" {
		t.Fatalf("expected hs256, got %q", report.SigningAlgorithm)
	}
	if report.Password.Algorithm != "bcrypt" || report.Password.BcryptCost != 4 {
		t.Fatalf("unexpected password report: %+v", report.Password)
	}
	if !report.RefreshRotationEnabled || !report.RefreshReuseDetectionEnabled || report.RevokeOnRefreshReuse {
		t.Fatalf("unexpected rotation flags: %+v", report)
	}
	if !report.SessionCapsActive || !report.LockoutActive {
		t.Fatal("expected session caps and lockout active")
	}
	if !report.EmailVerificationActive || !report.PasswordResetActive {
		t.Fatal("expected recording mailer to enable verification and reset")
	}
	if report.SharedSessionStore {
		t.Fatal("memory session store reported as shared")
	}
	if !hasWarning(report, "bcrypt cost 4") {
		t.Fatalf("expected low bcrypt cost warning, got %v", report.Warnings)
	}
	if !hasWarning(report, "process memory") {
		t.Fatalf("expected in-memory session warning, got %v", report.Warnings)
	}
}

func TestSecurityReportWithRedisAndWeakLockout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	h := newHarness(t, func(c *authcore.Config) {
		c.Lockout.MaxFailedAttempts = 50
		c.Session.EnableTokenRotation = false
		c.Audit.Enabled = false
	}, func(b *authcore.Builder) {
		b.WithRedis(client)
	})

	report := h.engine.SecurityReport()
	if !report.SharedSessionStore {
		t.Fatal("expected redis sessions reported as shared")
	}
	if !report.LockoutActive || report.RefreshRotationEnabled || report.AuditEnabled {
		t.Fatalf("unexpected flags: %+v", report)
	}
	for _, want := range []string{"lockout allows 50 failed attempts", "rotation is disabled", "audit events are disabled"} {
		if !hasWarning(report, want) {
			t.Fatalf("expected warning %q, got %v", want, report.Warnings)
		}
	}
	if hasWarning(report, "process memory") {
		t.Fatalf("unexpected memory warning: %v", report.Warnings)
	}
}

func TestSecurityReportNilEngine(t *testing.T) {
	var e *authcore.Engine
	if r := e.SecurityReport(); r.SigningAlgorithm != "" || len(r.Warnings) != 0 {
		t.Fatalf("expected zero report, got %+v", r)
	}
}
