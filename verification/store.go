package verification

import (
	"context"
	"sync"
	"time"
)

// TokenType is the purpose of a token.
type TokenType string

const (
	TypeEmailVerification TokenType = "email_verification"
	TypePasswordReset     TokenType = "password_reset"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	return t == TypeEmailVerification || t == TypePasswordReset
}

// Token is one issued secret and its state.
type Token struct {
	Token     string
	UserID    string
	Type      TokenType
	IsUsed    bool
	ExpiresAt time.Time
	UsedAt    time.Time
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// Expired reports whether now is past ExpiresAt.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Outstanding reports whether the token can still be consumed at now.
func (t *Token) Outstanding(now time.Time) bool {
	return !t.IsUsed && !t.Expired(now)
}

// Stats summarizes stored tokens. Used tokens are not counted as expired or active.
type Stats struct {
	Total   int
	Active  int
	Expired int
	Used    int
	ByType  map[TokenType]int
}

// Store persists tokens.
type Store interface {
	Create(ctx context.Context, t *Token) error
	// FindByToken returns ErrTokenNotFound when nothing matches.
	FindByToken(ctx context.Context, token string) (*Token, error)
	// CountOutstanding counts the user's unused, unexpired tokens of a type.
	CountOutstanding(ctx context.Context, userID string, typ TokenType, now time.Time) (int, error)
	// MarkUsed flips an unused token to used. It returns ErrTokenUsed if the
	// token was already consumed, so only one caller can win.
	MarkUsed(ctx context.Context, token string, at time.Time) error
	// MarkUnused reverts MarkUsed.
	MarkUnused(ctx context.Context, token string) error
	// RevokeOutstanding marks the user's other outstanding tokens of a type used.
	RevokeOutstanding(ctx context.Context, userID string, typ TokenType, at time.Time) (int, error)
	// DeleteExpired removes every token past its expiry.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

// AtomicVerifier is implemented by stores that share a transaction with the
// user table. ConsumeAndVerify marks the token used and the user verified and
// active in one commit, returning ErrTokenUsed if another caller won.
type AtomicVerifier interface {
	ConsumeAndVerify(ctx context.Context, token string, at time.Time) error
}

// CappedCreator is implemented by stores that can check the outstanding
// count and insert in one critical section. CreateIfBelow returns
// ErrTokenLimitExceeded when the user already holds max outstanding tokens
// of t.Type at now.
type CappedCreator interface {
	CreateIfBelow(ctx context.Context, t *Token, max int, now time.Time) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]*Token)}
}

func (s *MemoryStore) Create(_ context.Context, t *Token) error {
	cp := *t
	s.mu.Lock()
	s.tokens[t.Token] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) FindByToken(_ context.Context, token string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) CountOutstanding(_ context.Context, userID string, typ TokenType, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding(userID, typ, now), nil
}

func (s *MemoryStore) CreateIfBelow(_ context.Context, t *Token, max int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstanding(t.UserID, t.Type, now) >= max {
		return ErrTokenLimitExceeded
	}
	cp := *t
	s.tokens[t.Token] = &cp
	return nil
}

// outstanding requires s.mu.
func (s *MemoryStore) outstanding(userID string, typ TokenType, now time.Time) int {
	n := 0
	for _, t := range s.tokens {
		if t.UserID == userID && t.Type == typ && t.Outstanding(now) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) MarkUsed(_ context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return ErrTokenNotFound
	}
	if t.IsUsed {
		return ErrTokenUsed
	}
	t.IsUsed = true
	t.UsedAt = at
	return nil
}

func (s *MemoryStore) MarkUnused(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return ErrTokenNotFound
	}
	t.IsUsed = false
	t.UsedAt = time.Time{}
	return nil
}

func (s *MemoryStore) RevokeOutstanding(_ context.Context, userID string, typ TokenType, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tokens {
		if t.UserID == userID && t.Type == typ && t.Outstanding(at) {
			t.IsUsed = true
			t.UsedAt = at
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Stats(_ context.Context, now time.Time) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{ByType: make(map[TokenType]int)}
	for _, t := range s.tokens {
		st.Total++
		st.ByType[t.Type]++
		switch {
		case t.IsUsed:
			st.Used++
		case t.Expired(now):
			st.Expired++
		default:
			st.Active++
		}
	}
	return st, nil
}
