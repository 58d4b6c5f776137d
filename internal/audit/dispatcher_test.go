package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.mu.Lock()
	s.got = append(s.got, e)
	s.mu.Unlock()
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Action: "login", Success: true})
	}
	d.Close()

	if got := len(sink.Events()); got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}
	d.Emit(context.Background(), Event{Action: "late"})
	if got := len(sink.Events()); got != 5 {
		t.Fatalf("expected events after close to be discarded, got %d", got)
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// one in flight inside the sink, one buffered, the rest dropped
	deadline := time.Now().Add(time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		d.Emit(context.Background(), Event{Action: "x"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a full buffer")
	}
	close(sink.release)
	d.Close()
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{Action: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("expected zero drops on nil dispatcher")
	}
}

type deadlineSink struct {
	deadlines chan time.Duration
}

func (s *deadlineSink) Emit(ctx context.Context, _ Event) {
	dl, ok := ctx.Deadline()
	if !ok {
		s.deadlines <- 0
		return
	}
	s.deadlines <- time.Until(dl)
}

func TestDispatcherBlockingEmitHonorsContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(sink.release)
		d.Close()
	}()

	// fill the sink and the buffer
	d.Emit(context.Background(), Event{Action: "login"})
	d.Emit(context.Background(), Event{Action: "login"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	for d.Dropped() == 0 && time.Since(start) < time.Second {
		d.Emit(ctx, Event{Action: "refresh"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected a drop once the caller's deadline passed")
	}
	if got := d.DroppedByAction()["refresh"]; got == 0 {
		t.Fatalf("expected refresh drops, got %v", d.DroppedByAction())
	}
}

func TestDispatcherEnqueueTimeout(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, EnqueueTimeout: 10 * time.Millisecond}, sink)
	defer func() {
		close(sink.release)
		d.Close()
	}()

	deadline := time.Now().Add(time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		d.Emit(context.Background(), Event{Action: "logout"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected enqueue timeout to drop without a caller deadline")
	}
	if got := d.DroppedByAction(); got["logout"] != d.Dropped() {
		t.Fatalf("drops by action %v do not add up to %d", got, d.Dropped())
	}
}

func TestDispatcherSinkTimeoutAndTimestamp(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, Now: func() time.Time { return fixed }}, sink)
	d.Emit(context.Background(), Event{Action: "login"})
	stamped := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Emit(context.Background(), Event{Action: "login", Timestamp: stamped})
	d.Close()

	if ev := <-sink.Events(); !ev.Timestamp.Equal(fixed) {
		t.Fatalf("expected zero timestamp filled with dispatcher clock, got %v", ev.Timestamp)
	}
	if ev := <-sink.Events(); !ev.Timestamp.Equal(stamped) {
		t.Fatalf("expected caller timestamp kept, got %v", ev.Timestamp)
	}

	ds := &deadlineSink{deadlines: make(chan time.Duration, 1)}
	d = NewDispatcher(Config{Enabled: true, BufferSize: 1, SinkTimeout: time.Minute}, ds)
	d.Emit(context.Background(), Event{Action: "login"})
	d.Close()
	if left := <-ds.deadlines; left <= 0 || left > time.Minute {
		t.Fatalf("expected sink deadline within a minute, got %v", left)
	}
}

func TestDroppedByActionOnNilDispatcher(t *testing.T) {
	var d *Dispatcher
	if got := d.DroppedByAction(); len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{Action: "register", UserID: "u1", Success: true})
	s.Emit(context.Background(), Event{Action: "login", Description: "invalid password"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var e Event
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Action != "login" || e.Success || e.Description != "invalid password" {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	MultiSink{SlogSink{Logger: logger}, nil}.Emit(context.Background(), Event{Action: "login", UserID: "u1"})

	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"user_id":"u1"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}
