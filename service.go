package storeguard

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/storeguard/storeguard/audit"
	"github.com/storeguard/storeguard/cart"
	"github.com/storeguard/storeguard/cookie"
	"github.com/storeguard/storeguard/csrf"
	"github.com/storeguard/storeguard/device"
	"github.com/storeguard/storeguard/internal/rate"
	"github.com/storeguard/storeguard/metrics"
	"github.com/storeguard/storeguard/password"
	"github.com/storeguard/storeguard/session"
)

// Service orchestrates login, authorization, CSRF and carts. Build it with New().Build().
type Service struct {
	config    Config
	users     UserRepository
	twoFactor TwoFactorVerifier

	sessions       *session.Manager
	carts          *cart.Store
	csrf           *csrf.Guard
	cookies        *cookie.Codec
	proxies        device.Proxies
	loginLimiter   rate.Limiter
	generalLimiter rate.Limiter

	audit    *audit.Log
	recorder audit.Recorder

	hasher    password.Hasher
	dummyHash string
	hashSem   *semaphore.Weighted

	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
	closeOnce   sync.Once
}

func (s *Service) Config() Config {
	return s.config
}

func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

func (s *Service) Carts() *cart.Store {
	return s.carts
}

func (s *Service) CSRF() *csrf.Guard {
	return s.csrf
}

// Cookies returns the codec for authenticated non-session cookies (csrf, prefs).
func (s *Service) Cookies() *cookie.Codec {
	return s.cookies
}

// GeneralLimiter is the per-client request throttle used by middleware.
func (s *Service) GeneralLimiter() rate.Limiter {
	return s.generalLimiter
}

// Metrics returns nil when the service was built without WithMetrics.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Service) Logger() *zap.Logger {
	return s.logger
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// CookiePolicy returns the attribute policy for every cookie the service issues.
func (s *Service) CookiePolicy() cookie.Policy {
	return cookie.Policy{
		Secure: s.config.Security.Production() || s.config.Cookie.ForceSecure,
		Domain: s.config.Cookie.Domain,
	}
}

// Production reports whether the service runs with production settings.
func (s *Service) Production() bool {
	return s.config.Security.Production()
}

// AuditTrail returns up to limit audit events, most recent first.
func (s *Service) AuditTrail(limit int) []audit.Event {
	return s.audit.Query(limit)
}

// Record appends a host-application event to the audit trail.
func (s *Service) Record(ctx context.Context, event audit.Event) {
	s.recorder.Record(ctx, event)
}

// CheckPasswordPolicy returns a *password.PolicyError when pw breaks the configured
// composition rules.
func (s *Service) CheckPasswordPolicy(pw string) error {
	return s.config.Password.Policy.Check(pw)
}

// HashPassword hashes pw with the configured primary algorithm after a policy check.
func (s *Service) HashPassword(pw string) (string, error) {
	if err := s.CheckPasswordPolicy(pw); err != nil {
		return "", err
	}
	return s.hasher.Hash(pw)
}

// Close stops the sweeper and drains the audit dispatcher. It is safe to call more
// than once.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.StopSweeper()
		s.audit.Close()
	})
}

// meteredRecorder counts every event before appending it to the trail.
type meteredRecorder struct {
	log     *audit.Log
	metrics *metrics.Metrics
}

func (r *meteredRecorder) Record(ctx context.Context, event audit.Event) {
	r.log.Record(ctx, event)
	r.metrics.AuditEvent(string(event.Kind))
}
