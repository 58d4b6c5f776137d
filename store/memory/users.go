package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore"
)

// UserStore keeps accounts in process memory, indexed by id and by
// normalized email. It is safe for concurrent use.
type UserStore struct {
	mu      sync.RWMutex
	byID    map[string]*authcore.UserRecord
	byEmail map[string]string
	now     func() time.Time
}

// NewUserStore returns an empty store. now may be nil.
func NewUserStore(now func() time.Time) *UserStore {
	if now == nil {
		now = time.Now
	}
	return &UserStore{
		byID:    make(map[string]*authcore.UserRecord),
		byEmail: make(map[string]string),
		now:     now,
	}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *UserStore) FindByID(_ context.Context, id string) (authcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return *u, nil
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	s.mu.RLock()
	id, ok := s.byEmail[normalize(email)]
	s.mu.RUnlock()
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return s.FindByID(ctx, id)
}

// FindCredentialsByEmail is FindByEmail; the memory store always holds the hash.
func (s *UserStore) FindCredentialsByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	return s.FindByEmail(ctx, email)
}

func (s *UserStore) Create(_ context.Context, in authcore.CreateUserInput) (authcore.UserRecord, error) {
	email := normalize(in.Email)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[email]; taken {
		return authcore.UserRecord{}, authcore.ErrAccountExists
	}
	u := &authcore.UserRecord{
		ID:            uuid.NewString(),
		Email:         email,
		DisplayName:   in.DisplayName,
		PasswordHash:  in.PasswordHash,
		Role:          in.Role,
		IsActive:      in.IsActive,
		EmailVerified: in.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.EmailVerified {
		u.EmailVerifiedAt = now
	}
	s.byID[u.ID] = u
	s.byEmail[email] = u.ID
	return *u, nil
}

func (s *UserStore) Update(_ context.Context, id string, upd authcore.UserUpdate) (authcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	if upd.DisplayName != nil {
		u.DisplayName = *upd.DisplayName
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	if upd.EmailVerified != nil {
		u.EmailVerified = *upd.EmailVerified
	}
	if upd.EmailVerifiedAt != nil {
		u.EmailVerifiedAt = *upd.EmailVerifiedAt
	}
	if upd.LastLoginAt != nil {
		u.LastLoginAt = *upd.LastLoginAt
	}
	u.UpdatedAt = s.now()
	return *u, nil
}

// Len returns the number of stored accounts.
func (s *UserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

var _ authcore.UserStore = (*UserStore)(nil)
