package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/verification"
)

// testPool migrates a fresh schema on AUTHCORE_TEST_DATABASE_URL and tears
// it down afterwards. Tests that need it are skipped without the variable.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("AUTHCORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AUTHCORE_TEST_DATABASE_URL not set")
	}
	if err := MigrateDown(dsn); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := Migrate(dsn, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(dsn, nil); err != nil {
		t.Fatalf("second migrate must be a no-op: %v", err)
	}

	pool, err := Open(context.Background(), dsn, PoolConfig{MaxConns: 8})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		_ = MigrateDown(dsn)
	})
	return pool
}

func TestPgx5URL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@h/db":   "pgx5://u:p@h/db",
		"postgresql://u@h/db":   "pgx5://u@h/db",
		"pgx5://u@h/db":         "pgx5://u@h/db",
		"host=localhost dbname": "host=localhost dbname",
	}
	for in, want := range cases {
		if got := pgx5URL(in); got != want {
			t.Fatalf("pgx5URL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDigestIsStable(t *testing.T) {
	a, b := digest("token"), digest("token")
	if len(a) != 32 || string(a) != string(b) || string(a) == string(digest("other")) {
		t.Fatal("digest must be a stable SHA-256")
	}
}

func TestUserStoreLifecycle(t *testing.T) {
	pool := testPool(t)
	store := NewUserStore(pool, nil)
	ctx := context.Background()

	u, err := store.Create(ctx, authcore.CreateUserInput{Email: "a@example.com", PasswordHash: "hash", Role: "user"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Create(ctx, authcore.CreateUserInput{Email: "A@example.com", PasswordHash: "hash", Role: "user"}); !errors.Is(err, authcore.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	got, err := store.FindByEmail(ctx, "a@example.com")
	if err != nil || got.ID != u.ID || got.PasswordHash != "" {
		t.Fatalf("find by email: %+v %v", got, err)
	}
	creds, err := store.FindCredentialsByEmail(ctx, "a@example.com")
	if err != nil || creds.PasswordHash != "hash" {
		t.Fatalf("credentials: %+v %v", creds, err)
	}

	active, login := true, time.Now().Truncate(time.Microsecond)
	upd, err := store.Update(ctx, u.ID, authcore.UserUpdate{IsActive: &active, LastLoginAt: &login})
	if err != nil || !upd.IsActive || !upd.LastLoginAt.Equal(login) || upd.Role != "user" {
		t.Fatalf("update: %+v %v", upd, err)
	}

	if _, err := store.FindByID(ctx, "missing"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := store.Update(ctx, "missing", authcore.UserUpdate{IsActive: &active}); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound on update, got %v", err)
	}
}

func TestTokenStoreSingleUseAndAtomicVerify(t *testing.T) {
	pool := testPool(t)
	users := NewUserStore(pool, nil)
	tokens := NewTokenStore(pool)
	ctx := context.Background()
	now := time.Now()

	u, err := users.Create(ctx, authcore.CreateUserInput{Email: "v@example.com", PasswordHash: "hash", Role: "user"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	tok := &verification.Token{Token: "raw-secret", UserID: u.ID, Type: verification.TypeEmailVerification, ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	if err := tokens.Create(ctx, tok); err != nil {
		t.Fatalf("create token: %v", err)
	}
	if n, err := tokens.CountOutstanding(ctx, u.ID, verification.TypeEmailVerification, now); err != nil || n != 1 {
		t.Fatalf("outstanding = %d %v", n, err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tokens.ConsumeAndVerify(ctx, "raw-secret", now)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else if !errors.Is(err, verification.ErrTokenUsed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	got, err := users.FindByID(ctx, u.ID)
	if err != nil || !got.EmailVerified || !got.IsActive {
		t.Fatalf("user not verified: %+v %v", got, err)
	}
	if err := tokens.MarkUsed(ctx, "unknown", now); !errors.Is(err, verification.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}

	stats, err := tokens.Stats(ctx, now)
	if err != nil || stats.Total != 1 || stats.Used != 1 || stats.ByType[verification.TypeEmailVerification] != 1 {
		t.Fatalf("stats: %+v %v", stats, err)
	}
	if n, err := tokens.DeleteExpired(ctx, now.Add(2*time.Hour)); err != nil || n != 1 {
		t.Fatalf("delete expired = %d %v", n, err)
	}
}

func TestEngineOnPostgres(t *testing.T) {
	pool := testPool(t)
	sink := NewAuditSink(pool, nil)
	mailer := &captureMailer{}

	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.BcryptCost = 4
	cfg.EmailVerification.VerificationURL = "https://app.example.com/verify"
	engine, err := authcore.New().
		WithConfig(cfg).
		WithUserStore(NewUserStore(pool, nil)).
		WithVerificationStore(NewTokenStore(pool)).
		WithAuditSink(sink).
		WithMailer(mailer).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	ctx := context.Background()
	reg, err := engine.Register(ctx, authcore.RegisterRequest{Email: "pg@example.com", Password: "password1"})
	if err != nil || !reg.VerificationSent {
		t.Fatalf("register: %+v %v", reg, err)
	}
	if _, err := engine.VerifyEmail(ctx, mailer.token, "pg@example.com"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := engine.Login(ctx, authcore.LoginRequest{Email: "pg@example.com", Password: "password1"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	events, err := sink.ListByUser(ctx, reg.User.ID, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(events) != 3 || events[0].Action != authcore.AuditLogin {
		t.Fatalf("expected register, verify and login events newest first, got %+v", events)
	}
}

type captureMailer struct {
	mu    sync.Mutex
	token string
}

func (m *captureMailer) SendVerificationEmail(_ context.Context, msg authcore.VerificationEmail) error {
	m.mu.Lock()
	m.token = msg.Token
	m.mu.Unlock()
	return nil
}

func TestTokenStoreCreateIfBelowHoldsUnderConcurrency(t *testing.T) {
	pool := testPool(t)
	users := NewUserStore(pool, nil)
	tokens := NewTokenStore(pool)
	ctx := context.Background()
	now := time.Now()

	u, err := users.Create(ctx, authcore.CreateUserInput{Email: "cap@example.com", PasswordHash: "hash", Role: "user"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	const workers, limit = 12, 3
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok := &verification.Token{
				Token:     fmt.Sprintf("cap-secret-%d", i),
				UserID:    u.ID,
				Type:      verification.TypePasswordReset,
				ExpiresAt: now.Add(time.Hour),
				CreatedAt: now,
			}
			err := tokens.CreateIfBelow(ctx, tok, limit, now)
			switch {
			case err == nil:
				mu.Lock()
				accepted++
				mu.Unlock()
			case !errors.Is(err, verification.ErrTokenLimitExceeded):
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if accepted != limit {
		t.Fatalf("accepted %d tokens, want %d", accepted, limit)
	}
	if n, err := tokens.CountOutstanding(ctx, u.ID, verification.TypePasswordReset, now); err != nil || n != limit {
		t.Fatalf("outstanding = %d %v", n, err)
	}
}
