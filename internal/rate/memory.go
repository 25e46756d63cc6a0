package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps entries in process memory behind one mutex.
type MemoryLimiter struct {
	config Config
	now    func() time.Time

	mu        sync.Mutex
	entries   map[string]*Entry
	blacklist map[string]time.Time
}

// NewMemory creates an in-memory limiter. A nil now uses time.Now.
func NewMemory(cfg Config, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		config:    cfg,
		now:       now,
		entries:   make(map[string]*Entry),
		blacklist: make(map[string]time.Time),
	}
}

func (l *MemoryLimiter) Config() Config { return l.config }

func (l *MemoryLimiter) IsLimited(_ context.Context, id string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if unblockAt, ok := l.blacklist[id]; ok {
		if now.Before(unblockAt) {
			return true, nil
		}
		delete(l.blacklist, id)
	}

	e, ok := l.entries[id]
	if !ok || now.After(e.ResetAt) {
		l.entries[id] = &Entry{
			Count:        1,
			WindowStart:  now,
			ResetAt:      now.Add(l.config.Window),
			FirstAttempt: now,
			LastAttempt:  now,
		}
		return false, nil
	}

	e.LastAttempt = now
	if e.Count >= l.config.MaxAttempts {
		if l.config.BlockDuration > 0 {
			l.blacklist[id] = now.Add(l.config.BlockDuration)
		}
		return true, nil
	}

	e.Count++
	return false, nil
}

func (l *MemoryLimiter) RemainingAttempts(_ context.Context, id string) (int, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if unblockAt, ok := l.blacklist[id]; ok && now.Before(unblockAt) {
		return 0, nil
	}
	e, ok := l.entries[id]
	if !ok || now.After(e.ResetAt) {
		return l.config.MaxAttempts, nil
	}
	if remaining := l.config.MaxAttempts - e.Count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

func (l *MemoryLimiter) RetryAfter(_ context.Context, id string) (time.Duration, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if unblockAt, ok := l.blacklist[id]; ok && now.Before(unblockAt) {
		return unblockAt.Sub(now), nil
	}
	e, ok := l.entries[id]
	if !ok || now.After(e.ResetAt) || e.Count < l.config.MaxAttempts {
		return 0, nil
	}
	return e.ResetAt.Sub(now), nil
}

func (l *MemoryLimiter) Reset(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
	delete(l.blacklist, id)
	return nil
}

func (l *MemoryLimiter) Cleanup(_ context.Context) (int, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, e := range l.entries {
		if now.After(e.ResetAt) {
			delete(l.entries, id)
			removed++
		}
	}
	for id, unblockAt := range l.blacklist {
		if !now.Before(unblockAt) {
			delete(l.blacklist, id)
			removed++
		}
	}
	return removed, nil
}

// Entry returns a copy of the current entry for id.
func (l *MemoryLimiter) Entry(id string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
