package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Login(LoginSuccess)
	m.RateLimited("login")
	m.SessionCreated()
	m.SessionRevoked("logout")
	m.SessionExpired()
	m.SessionDrift(true)
	m.CSRFRejected("mismatch")
	m.CartTampered()
	m.AuditEvent("login_success")
	m.AuditDropped()
	m.AuditSinkFailed()
	m.Authorization(false)
	m.ObserveValidate(time.Millisecond)
	m.ObservePasswordWait(time.Millisecond)
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Login(LoginSuccess)
	m.Login(LoginSuccess)
	m.Login(LoginRateLimited)
	m.SessionRevoked("session_limit")
	m.SessionDrift(false)
	m.CartTampered()
	m.Authorization(true)
	m.AuditSinkFailed()

	if got := testutil.ToFloat64(m.LoginAttempts.WithLabelValues(LoginSuccess)); got != 2 {
		t.Fatalf("expected 2 successful logins, got %v", got)
	}
	if got := testutil.ToFloat64(m.LoginAttempts.WithLabelValues(LoginRateLimited)); got != 1 {
		t.Fatalf("expected 1 rate limited login, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsRevoked.WithLabelValues("session_limit")); got != 1 {
		t.Fatalf("expected 1 revocation, got %v", got)
	}
	if got := testutil.ToFloat64(m.DeviceDrift.WithLabelValues("logged")); got != 1 {
		t.Fatalf("expected 1 logged drift, got %v", got)
	}
	if got := testutil.ToFloat64(m.CartTampering); got != 1 {
		t.Fatalf("expected 1 cart integrity failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.AuditSinkFailures); got != 1 {
		t.Fatalf("expected 1 audit sink failure, got %v", got)
	}
}

func TestExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.CSRFRejected("mismatch")

	expected := `
# HELP storeguard_csrf_rejections_total CSRF validation failures by reason.
# TYPE storeguard_csrf_rejections_total counter
storeguard_csrf_rejections_total{reason="mismatch"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "storeguard_csrf_rejections_total"); err != nil {
		t.Fatalf("unexpected exposition: %v", err)
	}
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	New(reg)
}
