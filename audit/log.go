package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the ring size used when a non-positive capacity is configured.
const DefaultCapacity = 1000

// Log is a bounded, append-only ring of audit events. Once capacity is reached the
// oldest event is overwritten. Record never blocks on sink delivery.
type Log struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	count int

	dispatcher *Dispatcher
	now        func() time.Time
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithDispatcher forwards every recorded event to d after it is stored in the ring.
func WithDispatcher(d *Dispatcher) LogOption {
	return func(l *Log) {
		l.dispatcher = d
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) LogOption {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLog creates a ring holding at most capacity events.
func NewLog(capacity int, opts ...LogOption) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		buf: make([]Event, capacity),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends event, filling ID and Timestamp when empty.
func (l *Log) Record(_ context.Context, event Event) {
	if l == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	event = event.clone()

	l.mu.Lock()
	l.buf[l.next] = event
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
	l.mu.Unlock()

	if l.dispatcher != nil {
		l.dispatcher.Emit(event)
	}
}

// Query returns up to limit events, most recent first. A non-positive limit returns
// everything retained.
func (l *Log) Query(limit int) []Event {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > l.count {
		limit = l.count
	}
	out := make([]Event, 0, limit)
	idx := l.next
	for i := 0; i < limit; i++ {
		idx = (idx - 1 + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx].clone())
	}
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Capacity returns the ring size.
func (l *Log) Capacity() int {
	if l == nil {
		return 0
	}
	return len(l.buf)
}

// Dropped returns the number of events the dispatcher discarded because its buffer
// was full.
func (l *Log) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dispatcher.Dropped()
}

// SinkFailures returns the number of events the sink rejected.
func (l *Log) SinkFailures() uint64 {
	if l == nil {
		return 0
	}
	return l.dispatcher.Failed()
}

// Close drains and stops the dispatcher, if any.
func (l *Log) Close() {
	if l == nil {
		return
	}
	l.dispatcher.Close()
}
