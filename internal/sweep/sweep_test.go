package sweep

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSweeperRunsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	s := New(5*time.Millisecond, func(ctx context.Context) {
		calls.Add(1)
	})
	s.Start()
	s.Start()
	if !s.Running() {
		t.Fatal("expected sweeper to be running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Fatalf("expected at least 2 passes, got %d", calls.Load())
	}

	s.Stop()
	s.Stop()
	if s.Running() {
		t.Fatal("expected sweeper to be stopped")
	}
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != after {
		t.Fatal("expected no passes after Stop")
	}
}

func TestSweeperZeroIntervalIsNoop(t *testing.T) {
	s := New(0, func(context.Context) { t.Fatal("unexpected pass") })
	s.Start()
	if s.Running() {
		t.Fatal("expected zero-interval sweeper not to start")
	}
	s.Stop()

	var nilSweeper *Sweeper
	nilSweeper.Start()
	nilSweeper.Stop()
}

func TestSweeperRestart(t *testing.T) {
	var calls atomic.Int32
	s := New(time.Millisecond, func(context.Context) { calls.Add(1) })
	s.Start()
	s.Stop()
	s.Start()
	defer s.Stop()
	if !s.Running() {
		t.Fatal("expected restarted sweeper to run")
	}
}
