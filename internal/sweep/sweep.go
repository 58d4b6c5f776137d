// Package sweep runs a function on a fixed interval until stopped. Session
// stores, lockout trackers and the verification manager use it for their
// expiry cleanup.
package sweep

import (
	"context"
	"sync"
	"time"
)

// Func is one sweep pass. The context is cancelled when the Sweeper stops.
type Func func(ctx context.Context)

// Sweeper owns a single background goroutine.
type Sweeper struct {
	interval time.Duration
	fn       Func

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New returns a stopped Sweeper. A non-positive interval makes Start a no-op.
func New(interval time.Duration, fn Func) *Sweeper {
	return &Sweeper{interval: interval, fn: fn}
}

// Start launches the loop. Calling Start on a running Sweeper does nothing.
func (s *Sweeper) Start() {
	if s == nil || s.interval <= 0 || s.fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx, s.done)
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels the loop and waits for an in-progress pass to return.
// It is safe to call more than once.
func (s *Sweeper) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the loop is active.
func (s *Sweeper) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
