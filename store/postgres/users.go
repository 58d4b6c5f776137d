package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/authcore"
)

const uniqueViolation = "23505"

// UserStore implements authcore.UserStore on the authcore_users table.
type UserStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewUserStore wraps pool. now may be nil.
func NewUserStore(pool *pgxpool.Pool, now func() time.Time) *UserStore {
	if now == nil {
		now = time.Now
	}
	return &UserStore{pool: pool, now: now}
}

const userColumns = `id, email, display_name, role, is_active, email_verified, email_verified_at, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row, withHash bool) (authcore.UserRecord, error) {
	var (
		u                  authcore.UserRecord
		verifiedAt, lastAt *time.Time
	)
	dest := []any{&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.IsActive, &u.EmailVerified, &verifiedAt, &lastAt, &u.CreatedAt, &u.UpdatedAt}
	if withHash {
		dest = append(dest, &u.PasswordHash)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authcore.UserRecord{}, authcore.ErrUserNotFound
		}
		return authcore.UserRecord{}, err
	}
	if verifiedAt != nil {
		u.EmailVerifiedAt = *verifiedAt
	}
	if lastAt != nil {
		u.LastLoginAt = *lastAt
	}
	return u, nil
}

func (s *UserStore) FindByID(ctx context.Context, id string) (authcore.UserRecord, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM authcore_users WHERE id = $1`, id), false)
	if err != nil && !errors.Is(err, authcore.ErrUserNotFound) {
		return u, fmt.Errorf("postgres: find user by id: %w", err)
	}
	return u, err
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM authcore_users WHERE lower(email) = lower($1)`, email), false)
	if err != nil && !errors.Is(err, authcore.ErrUserNotFound) {
		return u, fmt.Errorf("postgres: find user by email: %w", err)
	}
	return u, err
}

// FindCredentialsByEmail is the only lookup that returns PasswordHash.
func (s *UserStore) FindCredentialsByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+`, password_hash FROM authcore_users WHERE lower(email) = lower($1)`, email), true)
	if err != nil && !errors.Is(err, authcore.ErrUserNotFound) {
		return u, fmt.Errorf("postgres: find credentials: %w", err)
	}
	return u, err
}

func (s *UserStore) Create(ctx context.Context, in authcore.CreateUserInput) (authcore.UserRecord, error) {
	now := s.now().UTC()
	u := authcore.UserRecord{
		ID:            uuid.NewString(),
		Email:         in.Email,
		DisplayName:   in.DisplayName,
		Role:          in.Role,
		IsActive:      in.IsActive,
		EmailVerified: in.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	var verifiedAt *time.Time
	if in.EmailVerified {
		u.EmailVerifiedAt = now
		verifiedAt = &now
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO authcore_users (id, email, display_name, password_hash, role, is_active, email_verified, email_verified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.Email, u.DisplayName, in.PasswordHash, u.Role, u.IsActive, u.EmailVerified, verifiedAt, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return authcore.UserRecord{}, authcore.ErrAccountExists
		}
		return authcore.UserRecord{}, fmt.Errorf("postgres: create user: %w", err)
	}
	return u, nil
}

// Update writes the non-nil fields of upd and bumps updated_at.
func (s *UserStore) Update(ctx context.Context, id string, upd authcore.UserUpdate) (authcore.UserRecord, error) {
	sets := []string{"updated_at = $1"}
	args := []any{s.now().UTC()}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if upd.DisplayName != nil {
		add("display_name", *upd.DisplayName)
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	if upd.Role != nil {
		add("role", *upd.Role)
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	if upd.EmailVerified != nil {
		add("email_verified", *upd.EmailVerified)
	}
	if upd.EmailVerifiedAt != nil {
		add("email_verified_at", upd.EmailVerifiedAt.UTC())
	}
	if upd.LastLoginAt != nil {
		add("last_login_at", upd.LastLoginAt.UTC())
	}
	args = append(args, id)

	query := `UPDATE authcore_users SET ` + strings.Join(sets, ", ") +
		` WHERE id = $` + strconv.Itoa(len(args)) + ` RETURNING ` + userColumns
	u, err := scanUser(s.pool.QueryRow(ctx, query, args...), false)
	if err != nil && !errors.Is(err, authcore.ErrUserNotFound) {
		return u, fmt.Errorf("postgres: update user: %w", err)
	}
	return u, err
}
