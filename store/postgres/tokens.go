package postgres

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/authcore/verification"
)

// TokenStore implements verification.Store, verification.CappedCreator and
// verification.AtomicVerifier.
// Raw tokens never reach the database; rows are keyed by their SHA-256.
type TokenStore struct {
	pool *pgxpool.Pool
}

func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

func digest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

func (s *TokenStore) Create(ctx context.Context, t *verification.Token) error {
	return insertToken(ctx, s.pool, t)
}

func insertToken(ctx context.Context, q querier, t *verification.Token) error {
	_, err := q.Exec(ctx, `
		INSERT INTO authcore_verification_tokens (token_hash, user_id, token_type, is_used, expires_at, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		digest(t.Token), t.UserID, string(t.Type), t.IsUsed, t.ExpiresAt.UTC(), t.IPAddress, t.UserAgent, t.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: create token: %w", err)
	}
	return nil
}

// CreateIfBelow counts and inserts under a transaction-scoped advisory lock
// on the user, so concurrent requests from any process see each other.
func (s *TokenStore) CreateIfBelow(ctx context.Context, t *verification.Token, max int, now time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, t.UserID); err != nil {
			return fmt.Errorf("postgres: lock user tokens: %w", err)
		}
		n, err := countOutstanding(ctx, tx, t.UserID, t.Type, now)
		if err != nil {
			return err
		}
		if n >= max {
			return verification.ErrTokenLimitExceeded
		}
		return insertToken(ctx, tx, t)
	})
}

func (s *TokenStore) FindByToken(ctx context.Context, token string) (*verification.Token, error) {
	var (
		t      = verification.Token{Token: token}
		typ    string
		usedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, token_type, is_used, expires_at, used_at, ip_address, user_agent, created_at
		FROM authcore_verification_tokens WHERE token_hash = $1`, digest(token),
	).Scan(&t.UserID, &typ, &t.IsUsed, &t.ExpiresAt, &usedAt, &t.IPAddress, &t.UserAgent, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, verification.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find token: %w", err)
	}
	t.Type = verification.TokenType(typ)
	if usedAt != nil {
		t.UsedAt = *usedAt
	}
	return &t, nil
}

func (s *TokenStore) CountOutstanding(ctx context.Context, userID string, typ verification.TokenType, now time.Time) (int, error) {
	return countOutstanding(ctx, s.pool, userID, typ, now)
}

func countOutstanding(ctx context.Context, q querier, userID string, typ verification.TokenType, now time.Time) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM authcore_verification_tokens
		WHERE user_id = $1 AND token_type = $2 AND NOT is_used AND expires_at >= $3`,
		userID, string(typ), now.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count tokens: %w", err)
	}
	return n, nil
}

func (s *TokenStore) MarkUsed(ctx context.Context, token string, at time.Time) error {
	return markUsed(ctx, s.pool, digest(token), at)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// markUsed flips is_used in a single conditional UPDATE so concurrent
// callers cannot both win.
func markUsed(ctx context.Context, q querier, hash []byte, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE authcore_verification_tokens SET is_used = TRUE, used_at = $2
		WHERE token_hash = $1 AND NOT is_used`, hash, at.UTC())
	if err != nil {
		return fmt.Errorf("postgres: mark token used: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM authcore_verification_tokens WHERE token_hash = $1)`, hash).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: mark token used: %w", err)
	}
	if !exists {
		return verification.ErrTokenNotFound
	}
	return verification.ErrTokenUsed
}

func (s *TokenStore) MarkUnused(ctx context.Context, token string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE authcore_verification_tokens SET is_used = FALSE, used_at = NULL WHERE token_hash = $1`, digest(token))
	if err != nil {
		return fmt.Errorf("postgres: mark token unused: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return verification.ErrTokenNotFound
	}
	return nil
}

func (s *TokenStore) RevokeOutstanding(ctx context.Context, userID string, typ verification.TokenType, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE authcore_verification_tokens SET is_used = TRUE, used_at = $3
		WHERE user_id = $1 AND token_type = $2 AND NOT is_used AND expires_at >= $3`,
		userID, string(typ), at.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: revoke tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM authcore_verification_tokens WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *TokenStore) Stats(ctx context.Context, now time.Time) (verification.Stats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_type,
		       count(*),
		       count(*) FILTER (WHERE is_used),
		       count(*) FILTER (WHERE NOT is_used AND expires_at < $1)
		FROM authcore_verification_tokens GROUP BY token_type`, now.UTC())
	if err != nil {
		return verification.Stats{}, fmt.Errorf("postgres: token stats: %w", err)
	}
	defer rows.Close()

	st := verification.Stats{ByType: make(map[verification.TokenType]int)}
	for rows.Next() {
		var (
			typ                  string
			total, used, expired int
		)
		if err := rows.Scan(&typ, &total, &used, &expired); err != nil {
			return verification.Stats{}, fmt.Errorf("postgres: token stats: %w", err)
		}
		st.ByType[verification.TokenType(typ)] = total
		st.Total += total
		st.Used += used
		st.Expired += expired
		st.Active += total - used - expired
	}
	if err := rows.Err(); err != nil {
		return verification.Stats{}, fmt.Errorf("postgres: token stats: %w", err)
	}
	return st, nil
}

// ConsumeAndVerify marks the token used and its user verified and active
// in one transaction.
func (s *TokenStore) ConsumeAndVerify(ctx context.Context, token string, at time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		hash := digest(token)
		if err := markUsed(ctx, tx, hash, at); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE authcore_users u
			SET email_verified = TRUE, is_active = TRUE, email_verified_at = $2, updated_at = $2
			FROM authcore_verification_tokens t
			WHERE t.token_hash = $1 AND u.id = t.user_id`, hash, at.UTC())
		if err != nil {
			return fmt.Errorf("postgres: mark user verified: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return verification.ErrUserNotFound
		}
		return nil
	})
}
