package authcore_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
)

func nextEvent(t *testing.T, sink *authcore.ChannelSink) authcore.AuditEvent {
	t.Helper()
	select {
	case ev := <-sink.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
	}
	return authcore.AuditEvent{}
}

func TestLoginEmitsOneEventPerAttempt(t *testing.T) {
	h := newHarness(t, nil, nil)
	user := h.registerActive(t, "u1@example.com", "password1")
	if ev := nextEvent(t, h.audit); ev.Action != authcore.AuditRegister {
		t.Fatalf("expected register event first, got %+v", ev)
	}
	if ev := nextEvent(t, h.audit); ev.Action != authcore.AuditVerifyEmail || !ev.Success {
		t.Fatalf("expected verify event, got %+v", ev)
	}

	ctx := authcore.WithUserAgent(authcore.WithClientIP(context.Background(), "203.0.113.7"), "test-agent")
	_, _ = h.engine.Login(ctx, authcore.LoginRequest{Email: "nobody@example.com", Password: "password1"})
	_, _ = h.engine.Login(ctx, authcore.LoginRequest{Email: "u1@example.com", Password: "wrong-password"})
	res, err := h.engine.Login(ctx, authcore.LoginRequest{Email: "u1@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	unknown := nextEvent(t, h.audit)
	if unknown.Action != authcore.AuditLogin || unknown.Success || unknown.UserID != "" || unknown.Description != "user not found" {
		t.Fatalf("unexpected unknown-user event: %+v", unknown)
	}
	if unknown.IPAddress != "203.0.113.7" || unknown.UserAgent != "test-agent" {
		t.Fatalf("expected client info on event: %+v", unknown)
	}

	bad := nextEvent(t, h.audit)
	if bad.Success || bad.UserID != user.ID || bad.Description != "invalid password" {
		t.Fatalf("unexpected bad-password event: %+v", bad)
	}

	ok := nextEvent(t, h.audit)
	if !ok.Success || ok.UserID != user.ID || ok.SessionID != res.SessionID {
		t.Fatalf("unexpected success event: %+v", ok)
	}

	sessions, err := h.engine.UserSessions(ctx, user.ID)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("expected one session, got %d %v", len(sessions), err)
	}
	if sessions[0].IPAddress != "203.0.113.7" || sessions[0].UserAgent != "test-agent" {
		t.Fatalf("expected client info on session: %+v", sessions[0])
	}
}

func TestRegisterAndRefreshEvents(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	res, err := h.engine.Register(ctx, authcore.RegisterRequest{Email: "a@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ev := nextEvent(t, h.audit)
	if ev.Action != authcore.AuditRegister || !ev.Success || ev.UserID != res.User.ID {
		t.Fatalf("unexpected register event: %+v", ev)
	}

	if _, err := h.engine.RefreshTokens(ctx, "not-a-token"); err == nil {
		t.Fatal("expected garbage refresh token rejected")
	}
	ev = nextEvent(t, h.audit)
	if ev.Action != authcore.AuditRefresh || ev.Success {
		t.Fatalf("unexpected refresh event: %+v", ev)
	}
}

func TestAuditDisabledDropsNothing(t *testing.T) {
	h := newHarness(t, func(c *authcore.Config) { c.Audit.Enabled = false }, nil)
	h.registerActive(t, "u1@example.com", "password1")
	h.login(t, "u1@example.com", "password1")

	select {
	case ev := <-h.audit.Events():
		t.Fatalf("expected no events with audit disabled, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	if h.engine.AuditDropped() != 0 {
		t.Fatalf("expected no drops, got %d", h.engine.AuditDropped())
	}
}

func TestJSONWriterSinkThroughEngine(t *testing.T) {
	var buf bytes.Buffer
	h := newHarness(t, nil, func(b *authcore.Builder) {
		b.WithAuditSink(authcore.NewJSONWriterSink(&buf))
	})
	if _, err := h.engine.Register(context.Background(), authcore.RegisterRequest{Email: "a@example.com", Password: "password1"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev["action"] != authcore.AuditRegister || ev["success"] != true {
		t.Fatalf("unexpected event: %v", ev)
	}
}
