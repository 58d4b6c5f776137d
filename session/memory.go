package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/internal/sweep"
)

// StoreOptions configures the background behaviour shared by both stores.
type StoreOptions struct {
	// CleanupInterval is the sweep period. Zero disables the sweep.
	CleanupInterval time.Duration
	// Now overrides the clock. Nil means time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

func (o StoreOptions) withDefaults() StoreOptions {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// MemoryStore is a process-local Store. One mutex guards the primary map and
// both secondary indices so every mutation is observed atomically.
type MemoryStore struct {
	opts StoreOptions

	mu        sync.RWMutex
	byID      map[string]*Session
	byRefresh map[string]string
	byUser    map[string]map[string]struct{}

	sweeper *sweep.Sweeper
}

// NewMemoryStore returns an empty store. Call Start to enable the cleanup sweep.
func NewMemoryStore(opts StoreOptions) *MemoryStore {
	s := &MemoryStore{
		opts:      opts.withDefaults(),
		byID:      make(map[string]*Session),
		byRefresh: make(map[string]string),
		byUser:    make(map[string]map[string]struct{}),
	}
	s.sweeper = sweep.New(s.opts.CleanupInterval, s.sweep)
	return s
}

func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version uint64
	if prev, ok := s.byID[sess.ID]; ok {
		version = prev.Version
	}
	s.putLocked(sess, version+1)
	return nil
}

func (s *MemoryStore) Replace(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.byID[sess.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if prev.Version != sess.Version {
		return ErrVersionConflict
	}
	s.putLocked(sess, prev.Version+1)
	return nil
}

func (s *MemoryStore) putLocked(sess *Session, version uint64) {
	if prev, ok := s.byID[sess.ID]; ok && prev.RefreshToken != sess.RefreshToken {
		if owner, ok := s.byRefresh[prev.RefreshToken]; ok && owner == sess.ID {
			delete(s.byRefresh, prev.RefreshToken)
		}
	}

	sess.Version = version
	stored := sess.Clone()
	s.byID[sess.ID] = stored
	if stored.RefreshToken != "" {
		s.byRefresh[stored.RefreshToken] = stored.ID
	}
	set, ok := s.byUser[stored.UserID]
	if !ok {
		set = make(map[string]struct{})
		s.byUser[stored.UserID] = set
	}
	set[stored.ID] = struct{}{}
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) FindByRefreshToken(_ context.Context, token string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRefresh[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess, ok := s.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) FindByUserID(_ context.Context, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.byUser[userID]
	out := make([]*Session, 0, len(set))
	for id := range set {
		if sess, ok := s.byID[id]; ok {
			out = append(out, sess.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
	return nil
}

func (s *MemoryStore) deleteLocked(id string) bool {
	sess, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	if owner, ok := s.byRefresh[sess.RefreshToken]; ok && owner == id {
		delete(s.byRefresh, sess.RefreshToken)
	}
	if set, ok := s.byUser[sess.UserID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.byUser, sess.UserID)
		}
	}
	return true
}

func (s *MemoryStore) UserSessionCount(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for id := range s.byUser[userID] {
		if sess, ok := s.byID[id]; ok && sess.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) InvalidateAllByUserID(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id := range s.byUser[userID] {
		sess, ok := s.byID[id]
		if !ok {
			continue
		}
		if sess.IsActive {
			n++
		}
		sess.IsActive = false
		sess.Version++
	}
	delete(s.byUser, userID)
	return n, nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context) (int, error) {
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.byID {
		if sess.Expired(now) || !sess.IsActive {
			if s.deleteLocked(id) {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	acc := newStatsAccumulator(s.opts.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.byID {
		acc.add(sess)
	}
	return acc.result(), nil
}

func (s *MemoryStore) Start() { s.sweeper.Start() }

func (s *MemoryStore) Close() error {
	s.sweeper.Stop()
	return nil
}

func (s *MemoryStore) sweep(ctx context.Context) {
	removed, err := s.CleanupExpired(ctx)
	if err != nil {
		s.opts.Logger.Warn("session cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		s.opts.Logger.Debug("session cleanup", "removed", removed)
	}
}
