package storeguard

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
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
	"github.com/storeguard/storeguard/token"
)

// dummyPassword is hashed once at build time. Logins for unknown emails verify against
// that hash so both failure paths cost one hash verification.
const dummyPassword = "storeguard-timing-equalizer"

// Builder assembles a Service. Configure it during initialization, call Build once and
// discard it.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	users    UserRepository
	logger   *zap.Logger
	registry prometheus.Registerer
	sink     audit.Sink
	catalog  cart.Catalog
	hasher   password.Hasher
	verifier TwoFactorVerifier
	now      func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis switches sessions, carts and rate limiters to Redis-backed stores so that
// several instances share state. Without it everything lives in process memory.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserRepository(users UserRepository) *Builder {
	b.users = users
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetrics registers the service collectors on reg.
func (b *Builder) WithMetrics(reg prometheus.Registerer) *Builder {
	b.registry = reg
	return b
}

// WithAuditSink forwards every audit event to sink through an async dispatcher, in
// addition to the in-memory trail.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.sink = sink
	return b
}

func (b *Builder) WithCatalog(catalog cart.Catalog) *Builder {
	b.catalog = catalog
	return b
}

// WithHasher replaces the hasher derived from Config.Password.
func (b *Builder) WithHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithTwoFactorVerifier(v TwoFactorVerifier) *Builder {
	b.verifier = v
	return b
}

// WithClock overrides the time source of every component. Tests only.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the components.
func (b *Builder) Build() (*Service, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user repository required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		config:    cfg,
		users:     b.users,
		twoFactor: b.verifier,
		logger:    logger,
		tracer:    otel.Tracer("github.com/storeguard/storeguard"),
		now:       now,
		hashSem:   semaphore.NewWeighted(int64(cfg.Password.MaxConcurrentHashes)),
	}
	// Validate already parsed the list.
	s.proxies, _ = device.ParseProxies(cfg.Security.TrustedProxies)
	if b.registry != nil {
		s.metrics = metrics.New(b.registry)
	}

	// -------- AUDIT --------
	logOpts := []audit.LogOption{audit.WithClock(now)}
	if b.sink != nil {
		var dispatchOpts []audit.DispatcherOption
		if s.metrics != nil {
			dispatchOpts = append(dispatchOpts, audit.WithObserver(s.metrics))
		}
		dispatcher := audit.NewDispatcher(audit.Config{
			Enabled:     true,
			BufferSize:  cfg.Audit.BufferSize,
			SinkTimeout: cfg.Audit.SinkTimeout,
		}, b.sink, dispatchOpts...)
		logOpts = append(logOpts, audit.WithDispatcher(dispatcher))
	}
	s.audit = audit.NewLog(cfg.Audit.Capacity, logOpts...)
	s.recorder = &meteredRecorder{log: s.audit, metrics: s.metrics}

	// -------- PASSWORDS --------
	hasher := b.hasher
	if hasher == nil {
		h, err := password.New(password.Options{
			Algorithm:    cfg.Password.Algorithm,
			BcryptRounds: cfg.Password.BcryptRounds,
			Argon2:       cfg.Password.Argon2,
		})
		if err != nil {
			return nil, err
		}
		hasher = h
	}
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	s.hasher = hasher
	s.dummyHash = dummy

	// -------- SESSIONS --------
	secrets := make([][]byte, 0, len(cfg.Security.PreviousSecrets))
	for _, prev := range cfg.Security.PreviousSecrets {
		secrets = append(secrets, []byte(prev))
	}
	codec, err := token.NewCodec(token.Config{
		Secret:          []byte(cfg.Security.CookieSecret),
		PreviousSecrets: secrets,
		Issuer:          cfg.Security.Issuer,
		Leeway:          cfg.Security.TokenLeeway,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}

	var store session.Store = session.NewMemoryStore()
	if b.redis != nil {
		store = session.NewRedisStore(b.redis, cfg.KeyPrefix, now)
	}
	sessionOpts := []session.Option{
		session.WithAudit(s.recorder),
		session.WithLogger(logger.Named("session")),
		session.WithClock(now),
	}
	if s.metrics != nil {
		sessionOpts = append(sessionOpts, session.WithObserver(s.metrics))
	}
	s.sessions, err = session.NewManager(store, codec, cfg.Session, sessionOpts...)
	if err != nil {
		return nil, err
	}

	// -------- RATE LIMITS --------
	if b.redis != nil {
		s.loginLimiter = rate.NewRedis(b.redis, cfg.KeyPrefix, cfg.RateLimit.login())
		s.generalLimiter = rate.NewRedis(b.redis, cfg.KeyPrefix, cfg.RateLimit.general())
	} else {
		s.loginLimiter = rate.NewMemory(cfg.RateLimit.login(), now)
		s.generalLimiter = rate.NewMemory(cfg.RateLimit.general(), now)
	}

	// -------- CSRF --------
	s.cookies, err = cookie.NewCodec([]byte(cfg.Security.CookieSecret), cookie.CSRF, cookie.Prefs)
	if err != nil {
		return nil, err
	}
	csrfOpts := []csrf.Option{csrf.WithAudit(s.recorder)}
	if s.metrics != nil {
		csrfOpts = append(csrfOpts, csrf.WithObserver(s.metrics))
	}
	s.csrf, err = csrf.NewGuard(s.cookies, csrf.Config{Enabled: cfg.CSRF.Enabled, Policy: s.CookiePolicy()}, csrfOpts...)
	if err != nil {
		return nil, err
	}

	// -------- CARTS --------
	catalog := b.catalog
	if catalog == nil {
		catalog = cart.NewStaticCatalog()
	}
	var repo cart.Repository = cart.NewMemoryRepository()
	if b.redis != nil {
		repo = cart.NewRedisRepository(b.redis, cfg.KeyPrefix, now)
	}
	cartOpts := []cart.Option{
		cart.WithAudit(s.recorder),
		cart.WithLogger(logger.Named("cart")),
		cart.WithClock(now),
		cart.WithGuestTTL(cfg.Cart.GuestTTL),
		cart.WithCurrency(cfg.Cart.Currency),
	}
	if s.metrics != nil {
		cartOpts = append(cartOpts, cart.WithObserver(s.metrics))
	}
	s.carts, err = cart.NewStore(repo, catalog, s.sessions, cartOpts...)
	if err != nil {
		return nil, err
	}

	b.built = true
	return s, nil
}
