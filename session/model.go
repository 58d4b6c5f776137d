package session

import (
	"maps"
	"time"
)

// Session is one authenticated login. Token fields hold the most recently
// issued pair; RefreshToken is also the key of the refresh index.
type Session struct {
	ID           string
	UserID       string
	Email        string
	Role         string
	AccessToken  string
	RefreshToken string

	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	IsActive     bool

	UserAgent string
	IPAddress string
	Metadata  map[string]string

	// Version is maintained by the store and incremented on every write.
	// Replace uses it for compare-and-swap.
	Version uint64
}

// Clone returns a deep copy so callers never share a stored record.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Metadata != nil {
		c.Metadata = maps.Clone(s.Metadata)
	}
	return &c
}

// Expired reports whether now is strictly past ExpiresAt.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Live reports whether the session is active and not expired.
func (s *Session) Live(now time.Time) bool {
	return s.IsActive && !s.Expired(now)
}

// Stats is a point-in-time summary of a store.
type Stats struct {
	TotalActive       int
	ActiveByUser      map[string]int
	AverageSessionAge time.Duration
	CreatedLastHour   int
	ExpiredLastHour   int
}

// statsAccumulator folds sessions into Stats. Both store implementations
// share it so the definitions stay identical.
type statsAccumulator struct {
	now      time.Time
	stats    Stats
	totalAge time.Duration
}

func newStatsAccumulator(now time.Time) *statsAccumulator {
	return &statsAccumulator{now: now, stats: Stats{ActiveByUser: make(map[string]int)}}
}

func (a *statsAccumulator) add(s *Session) {
	hourAgo := a.now.Add(-time.Hour)
	if s.CreatedAt.After(hourAgo) {
		a.stats.CreatedLastHour++
	}
	if s.Expired(a.now) && s.ExpiresAt.After(hourAgo) {
		a.stats.ExpiredLastHour++
	}
	if !s.Live(a.now) {
		return
	}
	a.stats.TotalActive++
	a.stats.ActiveByUser[s.UserID]++
	a.totalAge += a.now.Sub(s.CreatedAt)
}

func (a *statsAccumulator) result() Stats {
	if a.stats.TotalActive > 0 {
		a.stats.AverageSessionAge = a.totalAge / time.Duration(a.stats.TotalActive)
	}
	return a.stats
}
