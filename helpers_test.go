package storeguard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/storeguard/storeguard/audit"
	"github.com/storeguard/storeguard/device"
	"github.com/storeguard/storeguard/password"
	"github.com/storeguard/storeguard/permission"
)

const (
	testPassword = "password"
	testIP       = "203.0.113.10"
	testUA       = "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingHasher counts Verify calls so tests can assert that both login failure paths
// run a hash comparison.
type countingHasher struct {
	password.Hasher
	verifies atomic.Int64
}

func (h *countingHasher) Verify(plain, hash string) (bool, error) {
	h.verifies.Add(1)
	return h.Hasher.Verify(plain, hash)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Security.Environment = EnvTest
	cfg.Password.BcryptRounds = bcrypt.MinCost
	return cfg
}

type testEnv struct {
	svc    *Service
	users  *MemoryUserRepository
	clock  *testClock
	hasher *countingHasher
}

func newTestEnv(t *testing.T, mutate func(*Config), build ...func(*Builder)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	inner, err := password.NewBcrypt(cfg.Password.BcryptRounds)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	env := &testEnv{
		users:  NewMemoryUserRepository(),
		clock:  newTestClock(),
		hasher: &countingHasher{Hasher: inner},
	}

	b := New().
		WithConfig(cfg).
		WithUserRepository(env.users).
		WithHasher(env.hasher).
		WithClock(env.clock.Now)
	for _, fn := range build {
		fn(b)
	}
	svc, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(svc.Close)
	env.svc = svc
	return env
}

func (e *testEnv) seedUser(t *testing.T, id, email string, role permission.Role, mutate func(*User)) User {
	t.Helper()

	hash, err := e.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := User{
		ID:            id,
		Email:         email,
		DisplayName:   id,
		Role:          role,
		PasswordHash:  hash,
		Active:        true,
		EmailVerified: true,
		CreatedAt:     e.clock.Now(),
	}
	if mutate != nil {
		mutate(&u)
	}
	if err := e.users.Put(u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// login performs a successful login and returns the session token.
func (e *testEnv) login(t *testing.T, ctx context.Context, email string) LoginResult {
	t.Helper()

	res := e.svc.Login(ctx, Credentials{Email: email, Password: testPassword}, LoginOptions{})
	if !res.Success {
		t.Fatalf("login %s: %v", email, res.Err)
	}
	return res
}

func clientCtx(ip string) context.Context {
	return WithClient(context.Background(), device.Client{IP: ip, UserAgent: testUA})
}

func countKind(events []audit.Event, kind audit.Kind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
