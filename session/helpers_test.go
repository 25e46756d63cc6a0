package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/storeguard/storeguard/audit"
	"github.com/storeguard/storeguard/device"
	"github.com/storeguard/storeguard/token"
)

const (
	testUA      = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	otherUA     = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	testSecret  = "0123456789abcdef0123456789abcdef"
	testAddress = "203.0.113.10"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countingObserver struct {
	mu      sync.Mutex
	created int
	revoked map[string]int
	expired int
	drift   int
}

func (o *countingObserver) SessionCreated() {
	o.mu.Lock()
	o.created++
	o.mu.Unlock()
}

func (o *countingObserver) SessionRevoked(reason string) {
	o.mu.Lock()
	if o.revoked == nil {
		o.revoked = map[string]int{}
	}
	o.revoked[reason]++
	o.mu.Unlock()
}

func (o *countingObserver) SessionExpired() {
	o.mu.Lock()
	o.expired++
	o.mu.Unlock()
}

func (o *countingObserver) SessionDrift(bool) {
	o.mu.Lock()
	o.drift++
	o.mu.Unlock()
}

type harness struct {
	manager  *Manager
	store    Store
	clock    *fakeClock
	log      *audit.Log
	observer *countingObserver
}

func newHarness(t *testing.T, store Store, mutate func(*Config)) *harness {
	t.Helper()
	return newHarnessWithClock(t, newClock(), store, mutate)
}

func newHarnessWithClock(t *testing.T, clock *fakeClock, store Store, mutate func(*Config)) *harness {
	t.Helper()
	codec, err := token.NewCodec(token.Config{Secret: []byte(testSecret), Issuer: "storeguard", Now: clock.Now})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	log := audit.NewLog(100, audit.WithClock(clock.Now))
	obs := &countingObserver{}
	m, err := NewManager(store, codec, cfg, WithAudit(log), WithClock(clock.Now), WithObserver(obs))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return &harness{manager: m, store: store, clock: clock, log: log, observer: obs}
}

func clientCtx(ip, ua string) context.Context {
	return device.WithClient(context.Background(), device.Client{IP: ip, UserAgent: ua, AcceptLanguage: "en-US"})
}

func (h *harness) kinds() []audit.Kind {
	events := h.log.Query(0)
	out := make([]audit.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func (h *harness) countKind(kind audit.Kind) int {
	n := 0
	for _, k := range h.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}
