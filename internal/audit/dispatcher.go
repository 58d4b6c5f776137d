package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events when the buffer is full instead of blocking
	// the caller.
	DropIfFull bool
	// EnqueueTimeout bounds how long a blocking Emit waits for buffer space,
	// on top of the caller's context. Zero waits for the context alone.
	EnqueueTimeout time.Duration
	// SinkTimeout is the deadline handed to each Sink.Emit call. Zero means
	// no deadline.
	SinkTimeout time.Duration
	Now         func() time.Time
}

// Dispatcher forwards events to a sink from a single goroutine so an auth
// decision never waits on sink I/O. A nil *Dispatcher is valid and discards
// events.
type Dispatcher struct {
	cfg  Config
	sink Sink
	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup

	closed atomic.Bool
	once   sync.Once

	dropped  atomic.Uint64
	dropMu   sync.Mutex
	byAction map[string]uint64
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:      cfg,
		sink:     sink,
		ch:       make(chan Event, cfg.BufferSize),
		done:     make(chan struct{}),
		byAction: make(map[string]uint64),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			// drain what was accepted before Close
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx := context.Background()
	if d.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SinkTimeout)
		defer cancel()
	}
	d.sink.Emit(ctx, event)
}

// Emit queues event, stamping it with the dispatcher clock when Timestamp
// is zero so queued events keep the time of the decision. A blocking Emit
// gives up when ctx is done or EnqueueTimeout passes and counts the event
// as dropped. Events emitted after Close are discarded.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.cfg.Now()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.drop(event)
		}
		return
	}

	var timeout <-chan time.Time
	if d.cfg.EnqueueTimeout > 0 {
		t := time.NewTimer(d.cfg.EnqueueTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.drop(event)
	case <-timeout:
		d.drop(event)
	case <-d.done:
	}
}

func (d *Dispatcher) drop(event Event) {
	d.dropped.Add(1)
	d.dropMu.Lock()
	d.byAction[event.Action]++
	d.dropMu.Unlock()
}

// Close stops accepting events, drains the buffer and waits for the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped counts events lost to a full buffer, a done context or the
// enqueue timeout.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByAction breaks Dropped down by event action, so a lost failed
// login can be told apart from a lost logout.
func (d *Dispatcher) DroppedByAction() map[string]uint64 {
	out := make(map[string]uint64)
	if d == nil {
		return out
	}
	d.dropMu.Lock()
	defer d.dropMu.Unlock()
	for k, v := range d.byAction {
		out[k] = v
	}
	return out
}
