package lockout

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrLockoutUnavailable indicates the lockout backend is unreachable.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// Info is the failure record for one identifier.
type Info struct {
	FailedCount int
	LastFailed  time.Time
	// LockedUntil is zero while no lockout has been triggered.
	LockedUntil time.Time
}

// Locked reports whether the lockout is in force at now.
func (i Info) Locked(now time.Time) bool {
	return !i.LockedUntil.IsZero() && now.Before(i.LockedUntil)
}

// Remaining returns the time left on the lockout, never negative.
func (i Info) Remaining(now time.Time) time.Duration {
	if !i.Locked(now) {
		return 0
	}
	return i.LockedUntil.Sub(now)
}

// sweepable reports whether Cleanup may drop the record at now.
func (i Info) sweepable(now time.Time, retention time.Duration) bool {
	if !i.LockedUntil.IsZero() && !i.Locked(now) {
		return true
	}
	return retention > 0 && !i.Locked(now) && now.Sub(i.LastFailed) >= retention
}

// next applies one failure at now.
func (i Info) next(now time.Time, cfg Config) Info {
	i.FailedCount++
	i.LastFailed = now
	if i.FailedCount >= cfg.MaxFailedAttempts && !i.Locked(now) {
		i.LockedUntil = now.Add(cfg.Duration)
	}
	return i
}

// Config holds lockout policy.
type Config struct {
	MaxFailedAttempts int
	Duration          time.Duration
	// CleanupInterval is the sweep period. Zero disables the sweep.
	CleanupInterval time.Duration
	// Retention drops records whose last failure is older than this, even
	// below the threshold. Zero keeps them until cleared or swept.
	Retention time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// DefaultConfig returns 5 attempts, 15 minute lockout, hourly sweep.
func DefaultConfig() Config {
	return Config{
		MaxFailedAttempts: 5,
		Duration:          15 * time.Minute,
		CleanupInterval:   time.Hour,
	}
}

func (c Config) validate() error {
	if c.MaxFailedAttempts <= 0 {
		return errors.New("lockout MaxFailedAttempts must be > 0")
	}
	if c.Duration <= 0 {
		return errors.New("lockout Duration must be > 0")
	}
	if c.CleanupInterval < 0 {
		return errors.New("lockout CleanupInterval must be >= 0")
	}
	if c.Retention < 0 {
		return errors.New("lockout Retention must be >= 0")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Tracker is implemented by MemoryTracker and RedisTracker.
type Tracker interface {
	// RecordFailedAttempt counts one failure and returns the updated record.
	RecordFailedAttempt(ctx context.Context, identifier string) (Info, error)
	IsLockedOut(ctx context.Context, identifier string) (bool, error)
	ClearLockout(ctx context.Context, identifier string) error
	RemainingLockoutTime(ctx context.Context, identifier string) (time.Duration, error)
	// Cleanup removes records whose lockout has expired.
	Cleanup(ctx context.Context) (int, error)

	Start()
	Close() error
}
