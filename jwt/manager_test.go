package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newHSManager(t *testing.T, now func() time.Time) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		SigningMethod: MethodHS256,
		PrivateKey:    testSecret,
		Issuer:        "authcore",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Now:           now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestIssueAndVerifyAccess(t *testing.T) {
	m := newHSManager(t, nil)

	token, err := m.IssueAccess(Subject{UserID: "u1", Email: "a@example.com", Role: "admin", SessionID: "s1"})
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	claims, err := m.Verify(token, TypeAccess)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.UserID() != "u1" || claims.Email != "a@example.com" || claims.Role != "admin" || claims.SessionID != "s1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Type != TypeAccess {
		t.Fatalf("expected typ access, got %q", claims.Type)
	}
	if claims.ID == "" {
		t.Fatal("expected jti to be set")
	}
}

func TestVerifyRejectsWrongType(t *testing.T) {
	m := newHSManager(t, nil)
	subj := Subject{UserID: "u1", SessionID: "s1"}

	refresh, err := m.IssueRefresh(subj)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if _, err := m.Verify(refresh, TypeAccess); !errors.Is(err, ErrTokenTypeMismatch) {
		t.Fatalf("expected ErrTokenTypeMismatch for refresh as access, got %v", err)
	}

	access, _ := m.IssueAccess(subj)
	if _, err := m.Verify(access, TypeRefresh); !errors.Is(err, ErrTokenTypeMismatch) {
		t.Fatalf("expected ErrTokenTypeMismatch for access as refresh, got %v", err)
	}

	reset, _, err := m.Issue("password_reset", subj, 0)
	if err != nil {
		t.Fatalf("issue purpose token: %v", err)
	}
	if _, err := m.Verify(reset, TypeAccess); !errors.Is(err, ErrTokenTypeMismatch) {
		t.Fatalf("expected purpose token rejected as access, got %v", err)
	}
	if _, err := m.Verify(reset, "password_reset"); err != nil {
		t.Fatalf("expected purpose token to verify as its own type: %v", err)
	}
}

func TestTokensIssuedSameInstantDiffer(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	m := newHSManager(t, func() time.Time { return fixed })
	subj := Subject{UserID: "u1", SessionID: "s1"}

	a, _ := m.IssueRefresh(subj)
	b, _ := m.IssueRefresh(subj)
	if a == b {
		t.Fatal("expected distinct refresh tokens for identical subject and instant")
	}
}

func TestVerifyExpiredUsesInjectedClock(t *testing.T) {
	now := time.Now()
	m := newHSManager(t, func() time.Time { return now })

	token, err := m.IssueAccess(Subject{UserID: "u1"})
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	now = now.Add(16 * time.Minute)
	if _, err := m.Verify(token, TypeAccess); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	m := newHSManager(t, nil)
	other, err := NewManager(Config{
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("fedcba9876543210fedcba9876543210"),
		Issuer:        "authcore",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	forged, _ := other.IssueAccess(Subject{UserID: "u1"})
	if _, err := m.Verify(forged, TypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected forged token rejected, got %v", err)
	}
	if _, err := m.Verify("not.a.jwt", TypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected garbage rejected, got %v", err)
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PublicKey:     pub,
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := Claims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.Verify(token, TypeAccess); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestEd25519RoundTripWithKeyID(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub},
		Audience:      "api",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, err := m.IssueRefresh(Subject{UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	claims, err := m.Verify(token, TypeRefresh)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if claims.SessionID != "s1" {
		t.Fatalf("expected sid s1, got %q", claims.SessionID)
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: testSecret, RefreshTTL: time.Hour}); err == nil {
		t.Fatal("expected missing access TTL to fail")
	}
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("short"), AccessTTL: time.Minute, RefreshTTL: time.Hour}); err == nil {
		t.Fatal("expected short hs256 secret to fail")
	}
	if _, err := NewManager(Config{SigningMethod: "rs256", PrivateKey: testSecret, AccessTTL: time.Minute, RefreshTTL: time.Hour}); err == nil {
		t.Fatal("expected unsupported method to fail")
	}
	if _, err := NewManager(Config{SigningMethod: MethodEd25519, AccessTTL: time.Minute, RefreshTTL: time.Hour}); err == nil {
		t.Fatal("expected ed25519 without public key to fail")
	}
}
