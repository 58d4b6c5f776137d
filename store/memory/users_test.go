package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
)

func TestUserStoreCreateAndFind(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	s := NewUserStore(func() time.Time { return fixed })
	ctx := context.Background()

	u, err := s.Create(ctx, authcore.CreateUserInput{Email: " Alice@Example.com ", PasswordHash: "h", Role: "user"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "" || u.Email != "alice@example.com" || !u.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected record: %+v", u)
	}

	got, err := s.FindByEmail(ctx, "ALICE@example.com")
	if err != nil || got.ID != u.ID {
		t.Fatalf("find by email: %+v %v", got, err)
	}
	creds, err := s.FindCredentialsByEmail(ctx, "alice@example.com")
	if err != nil || creds.PasswordHash != "h" {
		t.Fatalf("find credentials: %+v %v", creds, err)
	}
	if _, err := s.FindByID(ctx, "missing"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserStoreRejectsDuplicateEmail(t *testing.T) {
	s := NewUserStore(nil)
	ctx := context.Background()
	if _, err := s.Create(ctx, authcore.CreateUserInput{Email: "a@example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, authcore.CreateUserInput{Email: "A@example.com"}); !errors.Is(err, authcore.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 user, got %d", s.Len())
	}
}

func TestUserStoreUpdateAppliesOnlySetFields(t *testing.T) {
	s := NewUserStore(nil)
	ctx := context.Background()
	u, _ := s.Create(ctx, authcore.CreateUserInput{Email: "a@example.com", DisplayName: "A", PasswordHash: "old"})

	yes := true
	at := time.Unix(1_700_000_100, 0)
	got, err := s.Update(ctx, u.ID, authcore.UserUpdate{IsActive: &yes, EmailVerified: &yes, EmailVerifiedAt: &at})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.IsActive || !got.EmailVerified || !got.EmailVerifiedAt.Equal(at) {
		t.Fatalf("expected flags set: %+v", got)
	}
	if got.DisplayName != "A" || got.PasswordHash != "old" {
		t.Fatalf("expected untouched fields kept: %+v", got)
	}
	if _, err := s.Update(ctx, "missing", authcore.UserUpdate{}); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserStoreReturnsCopies(t *testing.T) {
	s := NewUserStore(nil)
	ctx := context.Background()
	u, _ := s.Create(ctx, authcore.CreateUserInput{Email: "a@example.com", Role: "user"})
	u.Role = "admin"

	got, _ := s.FindByID(ctx, u.ID)
	if got.Role != "user" {
		t.Fatalf("expected stored record isolated from caller, got role %q", got.Role)
	}
}
