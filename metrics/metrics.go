package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storeguard"

// Login results.
const (
	LoginSuccess     = "success"
	LoginFailure     = "failure"
	LoginRateLimited = "rate_limited"
	LoginTwoFactor   = "two_factor_required"
	LoginDisabled    = "disabled"
	LoginUnverified  = "unverified"
	LoginError       = "error"
)

type Metrics struct {
	LoginAttempts     *prometheus.CounterVec
	RateLimitHits     *prometheus.CounterVec
	SessionsCreated   prometheus.Counter
	SessionsRevoked   *prometheus.CounterVec
	SessionsExpired   prometheus.Counter
	DeviceDrift       *prometheus.CounterVec
	CSRFRejections    *prometheus.CounterVec
	AuditEvents       *prometheus.CounterVec
	AuditDrops        prometheus.Counter
	AuditSinkFailures prometheus.Counter
	CartTampering     prometheus.Counter
	PermissionChecks  *prometheus.CounterVec
	ValidateLatency   prometheus.Histogram
	PasswordQueueWait prometheus.Histogram
}

// New registers every collector on reg. A nil reg uses a private registry, which is
// convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		LoginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		RateLimitHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by a rate limiter.",
		}, []string{"scope"}),
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		SessionsRevoked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_revoked_total",
			Help:      "Sessions removed before expiry, by reason.",
		}, []string{"reason"}),
		SessionsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions evicted after expiry.",
		}),
		DeviceDrift: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_device_drift_total",
			Help:      "Sessions presented from a different IP or device, by action taken.",
		}, []string{"action"}),
		CSRFRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csrf_rejections_total",
			Help:      "CSRF validation failures by reason.",
		}, []string{"reason"}),
		AuditEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audit events recorded by kind.",
		}, []string{"kind"}),
		AuditDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_events_total",
			Help:      "Audit events dropped because the sink queue was full.",
		}),
		AuditSinkFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_sink_failures_total",
			Help:      "Audit events the sink rejected or panicked on.",
		}),
		CartTampering: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_integrity_failures_total",
			Help:      "Carts discarded after a checksum mismatch.",
		}),
		PermissionChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_checks_total",
			Help:      "Role and permission checks by outcome.",
		}, []string{"outcome"}),
		ValidateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_validate_seconds",
			Help:      "Latency of session validation.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5},
		}),
		PasswordQueueWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "password_queue_wait_seconds",
			Help:      "Time spent waiting for a password hashing slot.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(scope).Inc()
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

func (m *Metrics) SessionRevoked(reason string) {
	if m == nil {
		return
	}
	m.SessionsRevoked.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionExpired() {
	if m == nil {
		return
	}
	m.SessionsExpired.Inc()
}

func (m *Metrics) SessionDrift(rejected bool) {
	if m == nil {
		return
	}
	action := "logged"
	if rejected {
		action = "rejected"
	}
	m.DeviceDrift.WithLabelValues(action).Inc()
}

func (m *Metrics) CSRFRejected(reason string) {
	if m == nil {
		return
	}
	m.CSRFRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) CartTampered() {
	if m == nil {
		return
	}
	m.CartTampering.Inc()
}

func (m *Metrics) AuditEvent(kind string) {
	if m == nil {
		return
	}
	m.AuditEvents.WithLabelValues(kind).Inc()
}

// AuditDropped and AuditSinkFailed make *Metrics an audit.Observer.
func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.AuditDrops.Inc()
}

func (m *Metrics) AuditSinkFailed() {
	if m == nil {
		return
	}
	m.AuditSinkFailures.Inc()
}

// Authorization records "granted" or "denied".
func (m *Metrics) Authorization(granted bool) {
	if m == nil {
		return
	}
	if granted {
		m.PermissionChecks.WithLabelValues("granted").Inc()
		return
	}
	m.PermissionChecks.WithLabelValues("denied").Inc()
}

func (m *Metrics) ObserveValidate(d time.Duration) {
	if m == nil {
		return
	}
	m.ValidateLatency.Observe(d.Seconds())
}

func (m *Metrics) ObservePasswordWait(d time.Duration) {
	if m == nil {
		return
	}
	m.PasswordQueueWait.Observe(d.Seconds())
}
