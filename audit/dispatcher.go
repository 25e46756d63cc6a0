package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSinkTimeout bounds a single sink delivery when Config.SinkTimeout is zero.
const DefaultSinkTimeout = 5 * time.Second

// Config sizes the dispatcher queue.
type Config struct {
	Enabled    bool
	BufferSize int
	// SinkTimeout bounds each delivery so a stalled sink cannot hold the relay forever.
	SinkTimeout time.Duration
}

// Observer is told about events that never reached the sink. Both methods are called
// from the dispatcher and must not block.
type Observer interface {
	AuditDropped()
	AuditSinkFailed()
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithObserver reports drops and sink failures to o.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

// Dispatcher relays recorded events to a sink on its own goroutine. Emit never waits:
// when the queue is full the event is dropped and counted.
type Dispatcher struct {
	cfg      Config
	sink     Sink
	observer Observer

	queue     chan Event
	stop      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the relay goroutine. It returns nil when cfg is disabled; every
// method is safe on a nil Dispatcher.
func NewDispatcher(cfg Config, sink Sink, opts ...DispatcherOption) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = DefaultSinkTimeout
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		queue: make(chan Event, cfg.BufferSize),
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(1)
	go d.relay()
	return d
}

func (d *Dispatcher) relay() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SinkTimeout)
	defer cancel()

	if err := d.emitSafely(ctx, event); err != nil {
		d.failed.Add(1)
		if d.observer != nil {
			d.observer.AuditSinkFailed()
		}
	}
}

func (d *Dispatcher) emitSafely(ctx context.Context, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink panic: %v", r)
		}
	}()
	return d.sink.Emit(ctx, event)
}

// Emit queues event for delivery. It returns immediately; a full queue or a closed
// dispatcher drops the event.
func (d *Dispatcher) Emit(event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
		if d.observer != nil {
			d.observer.AuditDropped()
		}
	}
}

// Close stops accepting events, drains the queue into the sink and waits for the relay.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped returns the number of events discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed returns the number of events the sink rejected or panicked on.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
