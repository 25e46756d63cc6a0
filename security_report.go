package storeguard

import (
	"strings"
	"time"
)

// SecurityReport summarizes the effective security posture, for startup logs and
// health endpoints. It never includes secrets.
type SecurityReport struct {
	Environment         string
	ProductionMode      bool
	SecureCookies       bool
	CSRFProtection      bool
	DriftPolicy         string
	SessionTTL          time.Duration
	RememberTTL         time.Duration
	MaxSessionsPerUser  int
	LoginAttempts       int
	LoginWindow         time.Duration
	GeneralRequests     int
	GeneralWindow       time.Duration
	PasswordAlgorithm   string
	BcryptRounds        int
	PasswordMinLength   int
	TwoFactorVerifier   bool
	SecretRotationArmed bool
	DefaultSecret       bool
	AuditCapacity       int
	AuditDropped        uint64
	AuditSinkFailures   uint64
	TrustedProxies      int
	LintWarnings        []string
}

func (s *Service) SecurityReport() SecurityReport {
	if s == nil {
		return SecurityReport{}
	}
	c := s.config
	return SecurityReport{
		Environment:         c.Security.Environment,
		ProductionMode:      c.Security.Production(),
		SecureCookies:       s.CookiePolicy().Secure,
		CSRFProtection:      c.CSRF.Enabled,
		DriftPolicy:         c.Session.DriftPolicy.String(),
		SessionTTL:          c.Session.DefaultTTL,
		RememberTTL:         c.Session.RememberTTL,
		MaxSessionsPerUser:  c.Session.MaxConcurrent,
		LoginAttempts:       c.RateLimit.LoginAttempts,
		LoginWindow:         c.RateLimit.LoginWindow,
		GeneralRequests:     c.RateLimit.GeneralRequests,
		GeneralWindow:       c.RateLimit.GeneralWindow,
		PasswordAlgorithm:   strings.ToLower(c.Password.Algorithm),
		BcryptRounds:        c.Password.BcryptRounds,
		PasswordMinLength:   c.Password.Policy.MinLength,
		TwoFactorVerifier:   s.twoFactor != nil,
		SecretRotationArmed: len(c.Security.PreviousSecrets) > 0,
		DefaultSecret:       c.Security.CookieSecret == DevSecret,
		AuditCapacity:       s.audit.Capacity(),
		AuditDropped:        s.audit.Dropped(),
		AuditSinkFailures:   s.audit.SinkFailures(),
		TrustedProxies:      len(s.proxies),
		LintWarnings:        c.Lint().Codes(),
	}
}
