package storeguard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/storeguard/storeguard/audit"
	"github.com/storeguard/storeguard/cart"
	"github.com/storeguard/storeguard/permission"
)

func TestSweepEvictsExpiredState(t *testing.T) {
	catalog := cart.NewStaticCatalog(cart.Product{ID: "tee", Name: "Tee", Price: 2500, MaxQuantity: 3})
	env := newTestEnv(t, nil, func(b *Builder) { b.WithCatalog(catalog) })
	env.seedUser(t, "u1", "user@example.com", permission.User, nil)
	ctx := clientCtx(testIP)

	tok := env.login(t, ctx, "user@example.com").Token
	env.svc.Login(ctx, Credentials{Email: "user@example.com", Password: "wrong"}, LoginOptions{})
	guest, err := env.svc.Carts().GetOrCreate(clientCtx("198.51.100.20"), "")
	if err != nil {
		t.Fatalf("guest cart: %v", err)
	}

	env.clock.Advance(8 * 24 * time.Hour)
	res, err := env.svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Sessions != 1 {
		t.Fatalf("expected 1 swept session, got %+v", res)
	}
	if res.LoginEntries != 1 {
		t.Fatalf("expected 1 swept login entry, got %+v", res)
	}
	if res.Carts != 1 {
		t.Fatalf("expected 1 swept guest cart, got %+v", res)
	}

	if _, _, err := env.svc.RequireAuth(ctx, tok); !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("expected swept session to be gone, got %v", err)
	}
	if _, err := env.svc.Carts().Get(context.Background(), guest.ID); !errors.Is(err, cart.ErrCartNotFound) {
		t.Fatalf("expected swept guest cart to be gone, got %v", err)
	}
	if countKind(env.svc.AuditTrail(0), audit.KindSessionExpired) != 1 {
		t.Fatal("expected session_expired event from sweep")
	}
}

func TestStartStopSweeper(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedUser(t, "u1", "user@example.com", permission.User, nil)
	env.login(t, clientCtx(testIP), "user@example.com")
	env.clock.Advance(48 * time.Hour)

	env.svc.StartSweeper(context.Background(), 5*time.Millisecond)
	deadline := time.Now().Add(2 * time.Second)
	for countKind(env.svc.AuditTrail(0), audit.KindSessionExpired) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not evict the expired session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	env.svc.StopSweeper()
	env.svc.StopSweeper()
}

func TestAuditSinkAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := audit.NewChannelSink(64)
	env := newTestEnv(t, nil, func(b *Builder) {
		b.WithMetrics(reg).WithAuditSink(sink)
	})
	env.seedUser(t, "u1", "user@example.com", permission.User, nil)
	ctx := clientCtx(testIP)

	env.login(t, ctx, "user@example.com")
	env.svc.Login(ctx, Credentials{Email: "user@example.com", Password: "wrong"}, LoginOptions{})

	m := env.svc.Metrics()
	if got := testutil.ToFloat64(m.LoginAttempts.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected 1 successful login, got %v", got)
	}
	if got := testutil.ToFloat64(m.LoginAttempts.WithLabelValues("failure")); got != 1 {
		t.Fatalf("expected 1 failed login, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsCreated); got != 1 {
		t.Fatalf("expected 1 session created, got %v", got)
	}
	if got := testutil.ToFloat64(m.AuditEvents.WithLabelValues(string(audit.KindLoginSuccess))); got != 1 {
		t.Fatalf("expected login_success audit metric, got %v", got)
	}

	env.svc.Close()
	seen := map[audit.Kind]bool{}
drain:
	for {
		select {
		case e := <-sink.Events():
			seen[e.Kind] = true
		default:
			break drain
		}
	}
	if !seen[audit.KindLoginSuccess] || !seen[audit.KindLoginFailure] {
		t.Fatalf("expected login events in sink, got %v", seen)
	}
}

type rejectingSink struct{}

func (rejectingSink) Emit(context.Context, audit.Event) error {
	return errors.New("audit store offline")
}

func TestAuditSinkFailuresAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newTestEnv(t, nil, func(b *Builder) {
		b.WithMetrics(reg).WithAuditSink(rejectingSink{})
	})
	env.seedUser(t, "u1", "user@example.com", permission.User, nil)

	env.login(t, clientCtx(testIP), "user@example.com")
	env.svc.Close()

	recorded := len(env.svc.AuditTrail(0))
	if recorded == 0 {
		t.Fatal("expected the trail to keep events when the sink fails")
	}
	if got := testutil.ToFloat64(env.svc.Metrics().AuditSinkFailures); got != float64(recorded) {
		t.Fatalf("expected %d sink failures, got %v", recorded, got)
	}
	if r := env.svc.SecurityReport(); r.AuditSinkFailures != uint64(recorded) {
		t.Fatalf("expected report to carry %d sink failures, got %d", recorded, r.AuditSinkFailures)
	}
}

func TestSecurityReport(t *testing.T) {
	env := newTestEnv(t, nil)
	r := env.svc.SecurityReport()
	if r.ProductionMode || r.SecureCookies {
		t.Fatal("test config is not production")
	}
	if !r.DefaultSecret || !containsCode(r.LintWarnings, "dev_secret") {
		t.Fatal("expected dev secret to be reported")
	}
	if r.AuditCapacity != 1000 || r.LoginAttempts != 5 {
		t.Fatalf("unexpected report %+v", r)
	}
}
