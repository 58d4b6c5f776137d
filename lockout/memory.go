package lockout

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/internal/sweep"
)

// MemoryTracker keeps records in a process-local map.
type MemoryTracker struct {
	cfg Config

	mu      sync.Mutex
	records map[string]Info

	sweeper *sweep.Sweeper
}

// NewMemoryTracker validates cfg and returns an empty tracker.
func NewMemoryTracker(cfg Config) (*MemoryTracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	t := &MemoryTracker{cfg: cfg.withDefaults(), records: make(map[string]Info)}
	t.sweeper = sweep.New(t.cfg.CleanupInterval, t.sweep)
	return t, nil
}

func (t *MemoryTracker) RecordFailedAttempt(_ context.Context, identifier string) (Info, error) {
	now := t.cfg.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	info := t.records[identifier].next(now, t.cfg)
	t.records[identifier] = info
	return info, nil
}

func (t *MemoryTracker) IsLockedOut(_ context.Context, identifier string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records[identifier].Locked(t.cfg.Now()), nil
}

func (t *MemoryTracker) ClearLockout(_ context.Context, identifier string) error {
	t.mu.Lock()
	delete(t.records, identifier)
	t.mu.Unlock()
	return nil
}

func (t *MemoryTracker) RemainingLockoutTime(_ context.Context, identifier string) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records[identifier].Remaining(t.cfg.Now()), nil
}

// Info returns the raw record, if any.
func (t *MemoryTracker) Info(identifier string) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.records[identifier]
	return info, ok
}

func (t *MemoryTracker) Cleanup(_ context.Context) (int, error) {
	now := t.cfg.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, info := range t.records {
		if info.sweepable(now, t.cfg.Retention) {
			delete(t.records, id)
			removed++
		}
	}
	return removed, nil
}

func (t *MemoryTracker) Start() { t.sweeper.Start() }

func (t *MemoryTracker) Close() error {
	t.sweeper.Stop()
	return nil
}

func (t *MemoryTracker) sweep(ctx context.Context) {
	removed, err := t.Cleanup(ctx)
	if err != nil {
		t.cfg.Logger.Warn("lockout cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		t.cfg.Logger.Debug("lockout cleanup", "removed", removed)
	}
}
