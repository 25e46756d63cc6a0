package storeguard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/storeguard/storeguard/device"
	"github.com/storeguard/storeguard/internal/rate"
	"github.com/storeguard/storeguard/password"
	"github.com/storeguard/storeguard/session"
)

// Environments accepted in SecurityConfig.Environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// DevSecret is the development fallback for COOKIE_SECRET. Validate refuses it in
// production.
const DevSecret = "storeguard-dev-secret-change-me-in-production"

// Config is the full service configuration. Build one with DefaultConfig or
// ConfigFromEnv, adjust it during initialization and treat it as immutable afterwards.
type Config struct {
	Security  SecurityConfig
	Cookie    CookieConfig
	Session   session.Config
	RateLimit RateLimitConfig
	Password  PasswordConfig
	CSRF      CSRFConfig
	Audit     AuditConfig
	Cart      CartConfig
	// KeyPrefix namespaces every Redis key when WithRedis is used.
	KeyPrefix string
}

/*
====================================
SECURITY CONFIG
====================================
*/

type SecurityConfig struct {
	Environment  string
	CookieSecret string
	// PreviousSecrets still verify session tokens during a secret rotation.
	PreviousSecrets []string
	Issuer          string
	TokenLeeway     time.Duration
	// TrustedProxies are the CIDRs or addresses whose X-Forwarded-For and X-Real-IP
	// headers identify the client. Empty means the socket peer is always the client.
	TrustedProxies []string
}

// Production reports whether the production environment is configured.
func (c SecurityConfig) Production() bool {
	return c.Environment == EnvProduction
}

/*
====================================
COOKIE CONFIG
====================================
*/

type CookieConfig struct {
	Domain string
	// ForceSecure marks cookies Secure outside production, for TLS staging setups.
	ForceSecure bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig tunes the login and general limiters.
type RateLimitConfig struct {
	LoginAttempts int
	LoginWindow   time.Duration
	LoginBlock    time.Duration

	GeneralRequests int
	GeneralWindow   time.Duration
	GeneralBlock    time.Duration
}

func (c RateLimitConfig) login() rate.Config {
	return rate.Config{Name: "login", MaxAttempts: c.LoginAttempts, Window: c.LoginWindow, BlockDuration: c.LoginBlock}
}

func (c RateLimitConfig) general() rate.Config {
	return rate.Config{Name: "general", MaxAttempts: c.GeneralRequests, Window: c.GeneralWindow, BlockDuration: c.GeneralBlock}
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Algorithm    string
	BcryptRounds int
	Argon2       password.Argon2Params
	Policy       password.Policy
	// MaxConcurrentHashes bounds simultaneous hash verifications.
	MaxConcurrentHashes int
	// UpgradeOnLogin rehashes passwords stored with outdated parameters after a
	// successful login.
	UpgradeOnLogin bool
}

/*
====================================
CSRF CONFIG
====================================
*/

type CSRFConfig struct {
	Enabled bool
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig sizes the in-memory trail and the optional async sink dispatcher.
// Recording never waits on the sink: events beyond BufferSize are dropped and counted.
type AuditConfig struct {
	Capacity    int
	BufferSize  int
	SinkTimeout time.Duration
}

/*
====================================
CART CONFIG
====================================
*/

type CartConfig struct {
	GuestTTL time.Duration
	Currency string
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	login := rate.Login()
	general := rate.General()
	return Config{
		Security: SecurityConfig{
			Environment:  EnvDevelopment,
			CookieSecret: DevSecret,
			Issuer:       "storeguard",
			TokenLeeway:  30 * time.Second,
		},
		Session: session.DefaultConfig(),
		RateLimit: RateLimitConfig{
			LoginAttempts:   login.MaxAttempts,
			LoginWindow:     login.Window,
			LoginBlock:      login.BlockDuration,
			GeneralRequests: general.MaxAttempts,
			GeneralWindow:   general.Window,
			GeneralBlock:    general.BlockDuration,
		},
		Password: PasswordConfig{
			Algorithm:           password.AlgorithmBcrypt,
			BcryptRounds:        12,
			Argon2:              password.DefaultArgon2Params(),
			Policy:              password.DefaultPolicy(),
			MaxConcurrentHashes: 4,
			UpgradeOnLogin:      true,
		},
		CSRF: CSRFConfig{Enabled: true},
		Audit: AuditConfig{
			Capacity:    1000,
			BufferSize:  256,
			SinkTimeout: 5 * time.Second,
		},
		Cart: CartConfig{
			GuestTTL: 7 * 24 * time.Hour,
			Currency: "USD",
		},
		KeyPrefix: "sg",
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	// Security
	switch c.Security.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("unknown environment %q", c.Security.Environment)
	}
	if len(c.Security.CookieSecret) < 32 {
		return errors.New("Security CookieSecret must be at least 32 characters")
	}
	if c.Security.Production() && c.Security.CookieSecret == DevSecret {
		return errors.New("Security CookieSecret must be set in production")
	}
	for _, prev := range c.Security.PreviousSecrets {
		if len(prev) < 32 {
			return errors.New("Security PreviousSecrets must be at least 32 characters each")
		}
	}
	if c.Security.TokenLeeway < 0 || c.Security.TokenLeeway > 2*time.Minute {
		return errors.New("Security TokenLeeway must be between 0 and 2m")
	}
	if _, err := device.ParseProxies(c.Security.TrustedProxies); err != nil {
		return fmt.Errorf("Security TrustedProxies: %w", err)
	}

	// Session
	if c.Session.DefaultTTL <= 0 {
		return errors.New("Session DefaultTTL must be > 0")
	}
	if c.Session.RememberTTL < c.Session.DefaultTTL {
		return errors.New("Session RememberTTL must be >= DefaultTTL")
	}
	if c.Session.ElevationTTL <= 0 {
		return errors.New("Session ElevationTTL must be > 0")
	}
	if c.Session.MaxConcurrent <= 0 {
		return errors.New("Session MaxConcurrent must be > 0")
	}

	// Rate limits
	if err := c.RateLimit.login().Validate(); err != nil {
		return fmt.Errorf("RateLimit login: %w", err)
	}
	if err := c.RateLimit.general().Validate(); err != nil {
		return fmt.Errorf("RateLimit general: %w", err)
	}

	// Password
	if c.Password.MaxConcurrentHashes <= 0 {
		return errors.New("Password MaxConcurrentHashes must be > 0")
	}
	if c.Password.Policy.MinLength < 1 {
		return errors.New("Password Policy MinLength must be >= 1")
	}
	if _, err := password.New(password.Options{
		Algorithm:    c.Password.Algorithm,
		BcryptRounds: c.Password.BcryptRounds,
		Argon2:       c.Password.Argon2,
	}); err != nil {
		return fmt.Errorf("Password: %w", err)
	}

	// Audit
	if c.Audit.Capacity <= 0 {
		return errors.New("Audit Capacity must be > 0")
	}
	if c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Audit.SinkTimeout <= 0 {
		return errors.New("Audit SinkTimeout must be > 0")
	}

	// Cart
	if c.Cart.GuestTTL <= 0 {
		return errors.New("Cart GuestTTL must be > 0")
	}
	if len(c.Cart.Currency) != 3 {
		return errors.New("Cart Currency must be a 3-letter code")
	}
	return nil
}

/*
====================================
LINT
====================================
*/

// LintSeverity ranks lint warnings.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is a valid but questionable setting.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list returned by Config.Lint.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// Lint reports settings that pass Validate but weaken security. It never fails.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.Security.CookieSecret == DevSecret {
		add("dev_secret", LintHigh, "COOKIE_SECRET is the development default")
	}
	if !c.CSRF.Enabled {
		add("csrf_disabled", LintHigh, "CSRF protection is disabled")
	}
	if c.Security.Production() && c.Session.DriftPolicy == session.DriftLog {
		add("drift_log_only", LintInfo, "device drift is logged but not rejected")
	}
	if c.RateLimit.LoginAttempts > 10 {
		add("login_limit_loose", LintWarn, "more than 10 login attempts per window")
	}
	if c.RateLimit.LoginBlock == 0 {
		add("login_block_disabled", LintWarn, "exceeding the login limit does not block")
	}
	if strings.EqualFold(c.Password.Algorithm, password.AlgorithmBcrypt) && c.Password.BcryptRounds > 0 && c.Password.BcryptRounds < 12 {
		add("bcrypt_cost_low", LintWarn, "bcrypt cost below 12")
	}
	if c.Password.Policy.MinLength < password.DefaultMinLength {
		add("password_min_short", LintWarn, "minimum password length below 8")
	}
	if c.Session.RememberTTL > 90*24*time.Hour {
		add("remember_ttl_long", LintInfo, "remembered sessions last longer than 90 days")
	}
	if c.Session.MaxConcurrent > 20 {
		add("session_limit_high", LintInfo, "more than 20 concurrent sessions per user")
	}
	return ws
}

/*
====================================
ENVIRONMENT
====================================
*/

// ConfigFromEnv builds a Config from environment variables on top of DefaultConfig and
// validates it. Callers that use a .env file load it before calling.
func ConfigFromEnv() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := DefaultConfig()
	if err := bindConfig(v, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to bind config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("APP_ENV", def.Security.Environment)
	v.SetDefault("COOKIE_SECRET", def.Security.CookieSecret)
	v.SetDefault("COOKIE_SECRET_PREVIOUS", "")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("TRUSTED_PROXIES", "")

	v.SetDefault("RATE_LIMIT_LOGIN_ATTEMPTS", def.RateLimit.LoginAttempts)
	v.SetDefault("RATE_LIMIT_LOGIN_WINDOW_MS", def.RateLimit.LoginWindow.Milliseconds())
	v.SetDefault("RATE_LIMIT_LOGIN_BLOCK_MS", def.RateLimit.LoginBlock.Milliseconds())
	v.SetDefault("RATE_LIMIT_GENERAL", def.RateLimit.GeneralRequests)
	v.SetDefault("RATE_LIMIT_GENERAL_WINDOW_MS", def.RateLimit.GeneralWindow.Milliseconds())
	v.SetDefault("RATE_LIMIT_GENERAL_BLOCK_MS", def.RateLimit.GeneralBlock.Milliseconds())

	v.SetDefault("PASSWORD_MIN_LENGTH", def.Password.Policy.MinLength)
	v.SetDefault("PASSWORD_REQUIRE_UPPERCASE", false)
	v.SetDefault("PASSWORD_REQUIRE_LOWERCASE", false)
	v.SetDefault("PASSWORD_REQUIRE_NUMBER", false)
	v.SetDefault("PASSWORD_REQUIRE_SYMBOL", false)
	v.SetDefault("PASSWORD_ALGORITHM", def.Password.Algorithm)
	v.SetDefault("BCRYPT_ROUNDS", def.Password.BcryptRounds)
	v.SetDefault("PASSWORD_MAX_CONCURRENT_HASHES", def.Password.MaxConcurrentHashes)

	v.SetDefault("CSRF_PROTECTION", def.CSRF.Enabled)
	v.SetDefault("MAX_CONCURRENT_SESSIONS", def.Session.MaxConcurrent)
	v.SetDefault("SESSION_TTL", def.Session.DefaultTTL.String())
	v.SetDefault("SESSION_REMEMBER_TTL", def.Session.RememberTTL.String())
	v.SetDefault("DEVICE_DRIFT_POLICY", def.Session.DriftPolicy.String())

	v.SetDefault("AUDIT_CAPACITY", def.Audit.Capacity)
	v.SetDefault("AUDIT_BUFFER_SIZE", def.Audit.BufferSize)
	v.SetDefault("AUDIT_SINK_TIMEOUT", def.Audit.SinkTimeout.String())

	v.SetDefault("CART_GUEST_TTL", def.Cart.GuestTTL.String())
	v.SetDefault("CART_CURRENCY", def.Cart.Currency)
	v.SetDefault("REDIS_KEY_PREFIX", def.KeyPrefix)
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	// Security
	cfg.Security.Environment = strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV")))
	cfg.Security.CookieSecret = v.GetString("COOKIE_SECRET")
	if prev := strings.TrimSpace(v.GetString("COOKIE_SECRET_PREVIOUS")); prev != "" {
		cfg.Security.PreviousSecrets = strings.Split(prev, ",")
	}
	if proxies := strings.TrimSpace(v.GetString("TRUSTED_PROXIES")); proxies != "" {
		cfg.Security.TrustedProxies = strings.Split(proxies, ",")
	}
	cfg.Cookie.Domain = v.GetString("COOKIE_DOMAIN")

	// Rate limits
	cfg.RateLimit.LoginAttempts = v.GetInt("RATE_LIMIT_LOGIN_ATTEMPTS")
	cfg.RateLimit.LoginWindow = millis(v.GetInt64("RATE_LIMIT_LOGIN_WINDOW_MS"))
	cfg.RateLimit.LoginBlock = millis(v.GetInt64("RATE_LIMIT_LOGIN_BLOCK_MS"))
	cfg.RateLimit.GeneralRequests = v.GetInt("RATE_LIMIT_GENERAL")
	cfg.RateLimit.GeneralWindow = millis(v.GetInt64("RATE_LIMIT_GENERAL_WINDOW_MS"))
	cfg.RateLimit.GeneralBlock = millis(v.GetInt64("RATE_LIMIT_GENERAL_BLOCK_MS"))

	// Password
	cfg.Password.Policy = password.Policy{
		MinLength:     v.GetInt("PASSWORD_MIN_LENGTH"),
		RequireUpper:  v.GetBool("PASSWORD_REQUIRE_UPPERCASE"),
		RequireLower:  v.GetBool("PASSWORD_REQUIRE_LOWERCASE"),
		RequireNumber: v.GetBool("PASSWORD_REQUIRE_NUMBER"),
		RequireSymbol: v.GetBool("PASSWORD_REQUIRE_SYMBOL"),
	}
	cfg.Password.Algorithm = v.GetString("PASSWORD_ALGORITHM")
	cfg.Password.BcryptRounds = v.GetInt("BCRYPT_ROUNDS")
	cfg.Password.MaxConcurrentHashes = v.GetInt("PASSWORD_MAX_CONCURRENT_HASHES")

	// CSRF and sessions
	cfg.CSRF.Enabled = v.GetBool("CSRF_PROTECTION")
	cfg.Session.MaxConcurrent = v.GetInt("MAX_CONCURRENT_SESSIONS")
	cfg.Session.DefaultTTL = v.GetDuration("SESSION_TTL")
	cfg.Session.RememberTTL = v.GetDuration("SESSION_REMEMBER_TTL")
	policy, err := session.ParseDriftPolicy(v.GetString("DEVICE_DRIFT_POLICY"))
	if err != nil {
		return err
	}
	cfg.Session.DriftPolicy = policy

	// Audit
	cfg.Audit.Capacity = v.GetInt("AUDIT_CAPACITY")
	cfg.Audit.BufferSize = v.GetInt("AUDIT_BUFFER_SIZE")
	cfg.Audit.SinkTimeout = v.GetDuration("AUDIT_SINK_TIMEOUT")

	// Cart
	cfg.Cart.GuestTTL = v.GetDuration("CART_GUEST_TTL")
	cfg.Cart.Currency = strings.ToUpper(v.GetString("CART_CURRENCY"))
	cfg.KeyPrefix = v.GetString("REDIS_KEY_PREFIX")
	return nil
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
