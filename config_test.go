package storeguard

import (
	"strings"
	"testing"
	"time"

	"github.com/storeguard/storeguard/session"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "production with dev secret",
			mutate:    func(c *Config) { c.Security.Environment = EnvProduction },
			wantValid: false,
		},
		{
			name: "production with real secret",
			mutate: func(c *Config) {
				c.Security.Environment = EnvProduction
				c.Security.CookieSecret = strings.Repeat("k", 32)
			},
			wantValid: true,
		},
		{
			name:      "short secret",
			mutate:    func(c *Config) { c.Security.CookieSecret = "short" },
			wantValid: false,
		},
		{
			name:      "unknown environment",
			mutate:    func(c *Config) { c.Security.Environment = "staging" },
			wantValid: false,
		},
		{
			name:      "malformed trusted proxy",
			mutate:    func(c *Config) { c.Security.TrustedProxies = []string{"10.0.0.0/99"} },
			wantValid: false,
		},
		{
			name:      "trusted proxy cidr and address",
			mutate:    func(c *Config) { c.Security.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.1"} },
			wantValid: true,
		},
		{
			name:      "short previous secret",
			mutate:    func(c *Config) { c.Security.PreviousSecrets = []string{"old"} },
			wantValid: false,
		},
		{
			name:      "leeway too large",
			mutate:    func(c *Config) { c.Security.TokenLeeway = 3 * time.Minute },
			wantValid: false,
		},
		{
			name:      "remember shorter than default",
			mutate:    func(c *Config) { c.Session.RememberTTL = time.Hour },
			wantValid: false,
		},
		{
			name:      "zero session cap",
			mutate:    func(c *Config) { c.Session.MaxConcurrent = 0 },
			wantValid: false,
		},
		{
			name:      "zero login attempts",
			mutate:    func(c *Config) { c.RateLimit.LoginAttempts = 0 },
			wantValid: false,
		},
		{
			name:      "zero general window",
			mutate:    func(c *Config) { c.RateLimit.GeneralWindow = 0 },
			wantValid: false,
		},
		{
			name:      "bcrypt rounds out of range",
			mutate:    func(c *Config) { c.Password.BcryptRounds = 40 },
			wantValid: false,
		},
		{
			name:      "unknown algorithm",
			mutate:    func(c *Config) { c.Password.Algorithm = "md5" },
			wantValid: false,
		},
		{
			name:      "argon2id algorithm",
			mutate:    func(c *Config) { c.Password.Algorithm = "argon2id" },
			wantValid: true,
		},
		{
			name:      "zero hash concurrency",
			mutate:    func(c *Config) { c.Password.MaxConcurrentHashes = 0 },
			wantValid: false,
		},
		{
			name:      "zero audit capacity",
			mutate:    func(c *Config) { c.Audit.Capacity = 0 },
			wantValid: false,
		},
		{
			name:      "bad currency",
			mutate:    func(c *Config) { c.Cart.Currency = "EURO" },
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config from env: %v", err)
	}
	def := DefaultConfig()
	if cfg.RateLimit != def.RateLimit {
		t.Fatalf("expected default rate limits, got %+v", cfg.RateLimit)
	}
	if cfg.Session != def.Session {
		t.Fatalf("expected default session config, got %+v", cfg.Session)
	}
	if cfg.Password.BcryptRounds != 12 || cfg.Password.Policy.MinLength != 8 {
		t.Fatalf("unexpected password defaults %+v", cfg.Password)
	}
	if !cfg.CSRF.Enabled {
		t.Fatal("csrf protection should default on")
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("COOKIE_SECRET", strings.Repeat("s", 40))
	t.Setenv("RATE_LIMIT_LOGIN_ATTEMPTS", "3")
	t.Setenv("RATE_LIMIT_LOGIN_WINDOW_MS", "60000")
	t.Setenv("RATE_LIMIT_GENERAL", "50")
	t.Setenv("PASSWORD_MIN_LENGTH", "12")
	t.Setenv("PASSWORD_REQUIRE_SYMBOL", "true")
	t.Setenv("BCRYPT_ROUNDS", "10")
	t.Setenv("CSRF_PROTECTION", "false")
	t.Setenv("MAX_CONCURRENT_SESSIONS", "2")
	t.Setenv("DEVICE_DRIFT_POLICY", "reject")
	t.Setenv("AUDIT_CAPACITY", "50")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,192.0.2.1")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config from env: %v", err)
	}
	if !cfg.Security.Production() {
		t.Fatal("expected production")
	}
	if cfg.RateLimit.LoginAttempts != 3 || cfg.RateLimit.LoginWindow != time.Minute {
		t.Fatalf("unexpected login limit %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.GeneralRequests != 50 {
		t.Fatalf("unexpected general limit %d", cfg.RateLimit.GeneralRequests)
	}
	if cfg.Password.Policy.MinLength != 12 || !cfg.Password.Policy.RequireSymbol || cfg.Password.Policy.RequireUpper {
		t.Fatalf("unexpected policy %+v", cfg.Password.Policy)
	}
	if cfg.Password.BcryptRounds != 10 {
		t.Fatalf("unexpected bcrypt rounds %d", cfg.Password.BcryptRounds)
	}
	if cfg.CSRF.Enabled {
		t.Fatal("expected csrf disabled")
	}
	if cfg.Session.MaxConcurrent != 2 || cfg.Session.DriftPolicy != session.DriftReject {
		t.Fatalf("unexpected session config %+v", cfg.Session)
	}
	if cfg.Audit.Capacity != 50 {
		t.Fatalf("unexpected audit capacity %d", cfg.Audit.Capacity)
	}
	if len(cfg.Security.TrustedProxies) != 2 || cfg.Security.TrustedProxies[1] != "192.0.2.1" {
		t.Fatalf("unexpected trusted proxies %v", cfg.Security.TrustedProxies)
	}
}

func TestConfigFromEnvRejectsDevSecretInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("expected production without COOKIE_SECRET to fail")
	}
}

func TestConfigFromEnvRejectsUnknownDriftPolicy(t *testing.T) {
	t.Setenv("DEVICE_DRIFT_POLICY", "ignore")

	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("expected unknown drift policy to fail")
	}
}
