package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/storeguard/storeguard/audit"
	"github.com/storeguard/storeguard/permission"
)

func TestCreateInvariants(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), nil)
	ctx := clientCtx(testAddress, testUA)

	sess, raw, err := h.manager.Create(ctx, "u1", permission.User, permission.ForRole(permission.User), CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if raw == "" {
		t.Fatal("expected signed token")
	}
	if !sess.ExpiresAt.After(sess.CreatedAt) {
		t.Fatalf("expiresAt %v must be after createdAt %v", sess.ExpiresAt, sess.CreatedAt)
	}
	if sess.ExpiresAt.Sub(sess.CreatedAt) != 24*time.Hour {
		t.Fatalf("expected 1 day lifetime, got %v", sess.ExpiresAt.Sub(sess.CreatedAt))
	}
	if sess.CartID != DeriveCartID("u1", sess.ID) {
		t.Fatalf("cart id %q is not derived from user and session", sess.CartID)
	}
	if sess.IPAddress != testAddress || sess.UserAgent != testUA || sess.DeviceFingerprint == "" {
		t.Fatalf("client info not captured: %+v", sess)
	}
	if h.countKind(audit.KindSessionCreated) != 1 {
		t.Fatalf("expected session_created audit, got %v", h.kinds())
	}
}

func TestCreateRememberAndCustomExpiry(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), nil)
	ctx := clientCtx(testAddress, testUA)

	remembered, _, err := h.manager.Create(ctx, "u1", permission.User, 0, CreateOptions{Remember: true})
	if err != nil {
		t.Fatalf("create remembered: %v", err)
	}
	if remembered.ExpiresAt.Sub(remembered.CreatedAt) != 30*24*time.Hour {
		t.Fatalf("expected 30 day lifetime, got %v", remembered.ExpiresAt.Sub(remembered.CreatedAt))
	}

	custom, _, err := h.manager.Create(ctx, "u1", permission.User, 0, CreateOptions{Remember: true, CustomExpiry: 10 * time.Minute})
	if err != nil {
		t.Fatalf("create custom: %v", err)
	}
	if custom.ExpiresAt.Sub(custom.CreatedAt) != 10*time.Minute {
		t.Fatalf("expected custom lifetime, got %v", custom.ExpiresAt.Sub(custom.CreatedAt))
	}
}

func TestDeriveCartIDDeterministic(t *testing.T) {
	a := DeriveCartID("u1", "s1")
	if a != DeriveCartID("u1", "s1") {
		t.Fatal("cart id must be deterministic")
	}
	if a == DeriveCartID("u1", "s2") || a == DeriveCartID("u2", "s1") {
		t.Fatal("cart id must depend on both inputs")
	}
	if DeriveCartID("u1x", "s") == DeriveCartID("u1", "xs") {
		t.Fatal("cart id must not collide on concatenation boundaries")
	}
	if !strings.HasPrefix(a, "cart_") {
		t.Fatalf("unexpected cart id format: %s", a)
	}
}

func TestValidateUpdatesActivity(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), nil)
	ctx := clientCtx(testAddress, testUA)
	created, raw, err := h.manager.Create(ctx, "u1", permission.User, 0, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.clock.Advance(time.Minute)
	sess, err := h.manager.Validate(ctx, raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !sess.LastActivity.Equal(created.CreatedAt.Add(time.Minute)) {
		t.Fatalf("expected last activity bumped, got %v", sess.LastActivity)
	}
	stored, _ := h.store.Get(context.Background(), sess.ID)
	if !stored.LastActivity.Equal(sess.LastActivity) {
		t.Fatal("last activity not persisted")
	}
}

func TestValidateTamperedToken(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), nil)
	ctx := clientCtx(testAddress, testUA)
	_, raw, err := h.manager.Create(ctx, "u1", permission.User, 0, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	forged := raw[:len(raw)-2] + "xx"
	if forged == raw {
		forged = raw[:len(raw)-2] + "yy"
	}
	if _, err := h.manager.Validate(ctx, forged); !errors.Is(err, ErrTampered) {
		t.Fatalf("expected ErrTampered, got %v", err)
	}
	if h.countKind(audit.KindCookieTampered) != 1 {
		t.Fatalf("expected cookie_tampered audit, got %v", h.kinds())
	}
}

func TestValidateEmptyAndUnknown(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), nil)
	if _, err := h.manager.Validate(context.Background(), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty token, got %v", err)
	}

	raw, err := h.manager.codec.Issue("missing-session", "u1", h.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := h.manager.Validate(context.Background(), raw); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestValidateExpiredEvicts(t *testing.T) {
	store := NewMemoryStore()
	h := newHarness(t, store, nil)
	ctx := clientCtx(testAddress, testUA)
	_, raw, err := h.manager.Create(ctx, "u1", permission.User, 0, CreateOptions{CustomExpiry: time.Minute})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.clock.Advance(2 * time.Minute)
	if _, err := h.manager.Validate(ctx, raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("expired session must be evicted")
	}
	if h.countKind(audit.KindSessionExpired) != 1 {
		t.Fatalf("expected session_expired audit, got %v", h.kinds())
	}
	if _, err := h.manager.Validate(ctx, raw); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after eviction, got %v", err)
	}
}

func TestElevationClearedLazily(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), func(c *Config) { c.ElevationTTL = 5 * time.Minute })
	ctx := clientCtx(testAddress, testUA)
	sess, raw, err := h.manager.Create(ctx, "u1", permission.Admin, 0, CreateOptions{Elevate: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !sess.Elevated(h.clock.Now()) {
		t.Fatal("expected elevated session")
	}

	h.clock.Advance(6 * time.Minute)
	got, err := h.manager.Validate(ctx, raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !got.ElevatedUntil.IsZero() {
		t.Fatalf("expected lapsed elevation to be cleared, got %v", got.ElevatedUntil)
	}

	elevated, err := h.manager.Elevate(ctx, got.ID, 0)
	if err != nil {
		t.Fatalf("elevate: %v", err)
	}
	if !elevated.Elevated(h.clock.Now()) {
		t.Fatal("expected session elevated again")
	}
	if h.countKind(audit.KindSessionElevated) != 1 {
		t.Fatalf("expected session_elevated audit, got %v", h.kinds())
	}
}

func TestDriftLogKeepsSession(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), nil)
	_, raw, err := h.manager.Create(clientCtx(testAddress, testUA), "u1", permission.User, 0, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sess, err := h.manager.Validate(clientCtx("198.51.100.77", otherUA), raw)
	if err != nil {
		t.Fatalf("drift must not invalidate under log policy: %v", err)
	}
	if sess.IPAddress != testAddress {
		t.Fatal("validate must not adopt the new IP")
	}
	events := h.log.Query(0)
	var found bool
	for _, ev := range events {
		if ev.Kind == audit.KindSuspiciousActivity {
			found = true
			if ev.Metadata["ip_mismatch"] != "1" || ev.Metadata["fingerprint_mismatch"] != "1" {
				t.Fatalf("unexpected drift metadata: %v", ev.Metadata)
			}
		}
	}
	if !found {
		t.Fatalf("expected suspicious_activity audit, got %v", h.kinds())
	}
}

func TestDriftRejectInvalidates(t *testing.T) {
	store := NewMemoryStore()
	h := newHarness(t, store, func(c *Config) { c.DriftPolicy = DriftReject })
	_, raw, err := h.manager.Create(clientCtx(testAddress, testUA), "u1", permission.User, 0, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := h.manager.Validate(clientCtx("198.51.100.77", testUA), raw); !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("expected ErrDeviceMismatch, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("expected session removed under reject policy")
	}
	if h.observer.revoked[ReasonDeviceMismatch] != 1 {
		t.Fatalf("expected device mismatch revocation, got %v", h.observer.revoked)
	}
}

func TestParseDriftPolicy(t *testing.T) {
	if p, err := ParseDriftPolicy("REJECT"); err != nil || p != DriftReject {
		t.Fatalf("expected reject, got %v %v", p, err)
	}
	if p, err := ParseDriftPolicy(""); err != nil || p != DriftLog {
		t.Fatalf("expected log default, got %v %v", p, err)
	}
	if _, err := ParseDriftPolicy("panic"); err == nil {
		t.Fatal("expected unknown policy to fail")
	}
}

func TestRefreshExtendsAndAdoptsClient(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), nil)
	_, raw, err := h.manager.Create(clientCtx(testAddress, testUA), "u1", permission.User, 0, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.clock.Advance(12 * time.Hour)
	sess, next, err := h.manager.Refresh(clientCtx("198.51.100.8", testUA), raw)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if want := h.clock.Now().Add(24 * time.Hour); !sess.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, sess.ExpiresAt)
	}
	if sess.IPAddress != "198.51.100.8" {
		t.Fatalf("expected refreshed IP, got %s", sess.IPAddress)
	}
	if next == "" {
		t.Fatal("expected new token")
	}

	h.clock.Advance(13 * time.Hour)
	if _, err := h.manager.Validate(clientCtx("198.51.100.8", testUA), next); err != nil {
		t.Fatalf("refreshed token should outlive the original expiry: %v", err)
	}
	if _, err := h.manager.Validate(clientCtx("198.51.100.8", testUA), raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected original token to be expired, got %v", err)
	}
	if _, err := h.store.Get(context.Background(), sess.ID); err != nil {
		t.Fatal("a stale token must not evict the refreshed session")
	}
}

func TestInvalidateAndInvalidateAll(t *testing.T) {
	store := NewMemoryStore()
	h := newHarness(t, store, nil)
	ctx := clientCtx(testAddress, testUA)

	first, raw, err := h.manager.Create(ctx, "u1", permission.User, 0, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, _, err := h.manager.Create(ctx, "u1", permission.User, 0, CreateOptions{}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, _, err := h.manager.Create(ctx, "u2", permission.User, 0, CreateOptions{}); err != nil {
		t.Fatalf("create other user: %v", err)
	}

	if err := h.manager.Invalidate(ctx, first.ID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := h.manager.Invalidate(ctx, first.ID); err != nil {
		t.Fatalf("second invalidate must be a no-op: %v", err)
	}
	if _, err := h.manager.Validate(ctx, raw); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after invalidate, got %v", err)
	}

	n, err := h.manager.InvalidateAllForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 sessions removed, got %d", n)
	}
	if store.Len() != 1 {
		t.Fatalf("other users' sessions must survive, store has %d", store.Len())
	}
	if h.countKind(audit.KindSessionRevoked) != 3 {
		t.Fatalf("expected 3 session_revoked audits, got %v", h.kinds())
	}
}

func TestMaxConcurrentEvictsOldest(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), func(c *Config) { c.MaxConcurrent = 2 })
	ctx := clientCtx(testAddress, testUA)

	oldest, _, err := h.manager.Create(ctx, "u1", permission.User, 0, CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.clock.Advance(time.Second)
	middle, _, _ := h.manager.Create(ctx, "u1", permission.User, 0, CreateOptions{})
	h.clock.Advance(time.Second)
	newest, _, _ := h.manager.Create(ctx, "u1", permission.User, 0, CreateOptions{})

	list, err := h.manager.ListForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].ID != middle.ID || list[1].ID != newest.ID {
		t.Fatalf("expected oldest %s evicted, got %+v", oldest.ID, list)
	}
	if h.observer.revoked[ReasonSessionLimit] != 1 {
		t.Fatalf("expected one session_limit revocation, got %v", h.observer.revoked)
	}
	if list[0].Device == "" {
		t.Fatal("expected device description")
	}
}

func TestSweepExpired(t *testing.T) {
	store := NewMemoryStore()
	h := newHarness(t, store, nil)
	ctx := clientCtx(testAddress, testUA)

	_, raw, err := h.manager.Create(ctx, "u1", permission.User, 0, CreateOptions{CustomExpiry: time.Minute})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := h.manager.Create(ctx, "u2", permission.User, 0, CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	h.clock.Advance(5 * time.Minute)
	n, err := h.manager.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 || store.Len() != 1 {
		t.Fatalf("expected one session swept, got %d (store %d)", n, store.Len())
	}
	if _, err := h.manager.Validate(ctx, raw); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after sweep, got %v", err)
	}
}

func TestSweepConcurrentWithValidate(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), nil)
	ctx := clientCtx(testAddress, testUA)

	tokens := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		_, raw, err := h.manager.Create(ctx, "u"+string(rune('a'+i)), permission.User, 0, CreateOptions{})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		tokens = append(tokens, raw)
	}

	var wg sync.WaitGroup
	for _, raw := range tokens {
		wg.Add(1)
		go func(raw string) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := h.manager.Validate(ctx, raw); err != nil {
					t.Errorf("validate: %v", err)
					return
				}
			}
		}(raw)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 20; j++ {
			if _, err := h.manager.SweepExpired(ctx); err != nil {
				t.Errorf("sweep: %v", err)
				return
			}
		}
	}()
	wg.Wait()
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(nil, nil, DefaultConfig()); err == nil {
		t.Fatal("expected missing store to fail")
	}
}

// gatedStore parks the first Modify call before it reaches the store, so another
// writer can finish in between.
type gatedStore struct {
	*MemoryStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MemoryStore: NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedStore) Modify(ctx context.Context, sessionID string, fn func(*Session) error) (*Session, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.MemoryStore.Modify(ctx, sessionID, fn)
}

func TestSlowValidateKeepsConcurrentWrites(t *testing.T) {
	tests := []struct {
		name  string
		write func(h *harness, ctx context.Context, raw, sessionID string) (*Session, error)
		check func(t *testing.T, written, stored *Session)
	}{
		{
			name: "refresh",
			write: func(h *harness, ctx context.Context, raw, _ string) (*Session, error) {
				sess, _, err := h.manager.Refresh(ctx, raw)
				return sess, err
			},
			check: func(t *testing.T, written, stored *Session) {
				if !stored.ExpiresAt.Equal(written.ExpiresAt) {
					t.Fatalf("refresh reverted: stored expiry %v, refreshed %v", stored.ExpiresAt, written.ExpiresAt)
				}
			},
		},
		{
			name: "elevate",
			write: func(h *harness, ctx context.Context, _, sessionID string) (*Session, error) {
				return h.manager.Elevate(ctx, sessionID, 10*time.Minute)
			},
			check: func(t *testing.T, written, stored *Session) {
				if !stored.ElevatedUntil.Equal(written.ElevatedUntil) {
					t.Fatalf("elevation reverted: stored %v, elevated %v", stored.ElevatedUntil, written.ElevatedUntil)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newGatedStore()
			h := newHarness(t, store, nil)
			ctx := clientCtx(testAddress, testUA)

			created, raw, err := h.manager.Create(ctx, "u1", permission.User, 0, CreateOptions{})
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			validated := make(chan error, 1)
			go func() {
				_, err := h.manager.Validate(ctx, raw)
				validated <- err
			}()
			<-store.entered

			h.clock.Advance(time.Hour)
			written, err := tt.write(h, ctx, raw, created.ID)
			if err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}

			close(store.release)
			if err := <-validated; err != nil {
				t.Fatalf("validate: %v", err)
			}

			stored, err := store.Get(context.Background(), created.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			tt.check(t, written, stored)
			if stored.LastActivity.Before(written.LastActivity) {
				t.Fatalf("slow validate moved last activity back to %v", stored.LastActivity)
			}
		})
	}
}
