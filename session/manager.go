package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storeguard/storeguard/audit"
	"github.com/storeguard/storeguard/device"
	"github.com/storeguard/storeguard/permission"
	"github.com/storeguard/storeguard/token"
)

// DriftPolicy decides what happens when a validated session is presented from a
// different IP address or device fingerprint than the one captured at creation.
type DriftPolicy int

const (
	// DriftLog records a suspicious_activity event and keeps the session.
	DriftLog DriftPolicy = iota
	// DriftReject records the event, invalidates the session and fails validation.
	DriftReject
)

func (p DriftPolicy) String() string {
	if p == DriftReject {
		return "reject"
	}
	return "log"
}

// ParseDriftPolicy accepts "log" or "reject".
func ParseDriftPolicy(v string) (DriftPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "log":
		return DriftLog, nil
	case "reject":
		return DriftReject, nil
	default:
		return DriftLog, fmt.Errorf("unknown device drift policy %q", v)
	}
}

// Config holds session lifetime policy.
type Config struct {
	DefaultTTL    time.Duration
	RememberTTL   time.Duration
	ElevationTTL  time.Duration
	MaxConcurrent int
	DriftPolicy   DriftPolicy
}

// DefaultConfig returns 1 day sessions, 30 day remembered sessions, 15 minute
// elevation and at most 5 sessions per user.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:    24 * time.Hour,
		RememberTTL:   30 * 24 * time.Hour,
		ElevationTTL:  15 * time.Minute,
		MaxConcurrent: 5,
		DriftPolicy:   DriftLog,
	}
}

// Observer receives lifecycle counts, typically for metrics.
type Observer interface {
	SessionCreated()
	SessionRevoked(reason string)
	SessionExpired()
	SessionDrift(rejected bool)
}

type nopObserver struct{}

func (nopObserver) SessionCreated()       {}
func (nopObserver) SessionRevoked(string) {}
func (nopObserver) SessionExpired()       {}
func (nopObserver) SessionDrift(bool)     {}

// CreateOptions tune a new session.
type CreateOptions struct {
	Remember bool
	// Elevate starts the session in the elevated sub-state for Config.ElevationTTL.
	Elevate bool
	// CustomExpiry overrides the remember-aware lifetime when positive.
	CustomExpiry      time.Duration
	TwoFactorVerified bool
}

// Revocation reasons carried in session_revoked audit metadata.
const (
	ReasonLogout         = "logout"
	ReasonAdmin          = "admin"
	ReasonSessionLimit   = "session_limit"
	ReasonDeviceMismatch = "device_mismatch"
)

// Manager applies session policy over a Store.
type Manager struct {
	store    Store
	codec    *token.Codec
	audit    audit.Recorder
	observer Observer
	logger   *zap.Logger
	config   Config
	now      func() time.Time

	// createMu serializes the count-evict-save sequence of Create so concurrent logins
	// cannot exceed MaxConcurrent.
	createMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

func WithAudit(r audit.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.audit = r
		}
	}
}

func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a Manager. store and codec are required.
func NewManager(store Store, codec *token.Codec, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if codec == nil {
		return nil, errors.New("session token codec is required")
	}
	if cfg.DefaultTTL <= 0 || cfg.RememberTTL <= 0 {
		return nil, errors.New("session TTLs must be > 0")
	}
	if cfg.ElevationTTL <= 0 {
		cfg.ElevationTTL = DefaultConfig().ElevationTTL
	}

	m := &Manager{
		store:    store,
		codec:    codec,
		audit:    audit.Discard,
		observer: nopObserver{},
		logger:   zap.NewNop(),
		config:   cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the active policy.
func (m *Manager) Config() Config {
	return m.config
}

// Store returns the backing store.
func (m *Manager) Store() Store {
	return m.store
}

func (m *Manager) lifetime(remember bool) time.Duration {
	if remember {
		return m.config.RememberTTL
	}
	return m.config.DefaultTTL
}

/*
====================================
CREATE
====================================
*/

// Create stores a new session for userID and returns it with its signed token. Client
// IP, user agent and fingerprint are taken from the device.Client on ctx.
func (m *Manager) Create(ctx context.Context, userID string, role permission.Role, perms permission.Set, opts CreateOptions) (*Session, string, error) {
	if userID == "" {
		return nil, "", errors.New("user id required")
	}

	now := m.now()
	ttl := m.lifetime(opts.Remember)
	if opts.CustomExpiry > 0 {
		ttl = opts.CustomExpiry
	}

	client := device.ClientFrom(ctx)
	id := uuid.NewString()
	sess := &Session{
		ID:                id,
		UserID:            userID,
		Role:              role,
		Permissions:       perms,
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
		LastActivity:      now,
		IPAddress:         client.IP,
		UserAgent:         client.UserAgent,
		DeviceFingerprint: client.Fingerprint(),
		CartID:            DeriveCartID(userID, id),
		Remembered:        opts.Remember,
		TwoFactorVerified: opts.TwoFactorVerified,
	}
	if opts.Elevate {
		sess.ElevatedUntil = now.Add(m.config.ElevationTTL)
	}

	raw, err := m.codec.Issue(sess.ID, sess.UserID, sess.ExpiresAt)
	if err != nil {
		return nil, "", fmt.Errorf("issue session token: %w", err)
	}

	m.createMu.Lock()
	err = m.enforceLimit(ctx, userID)
	if err == nil {
		err = m.store.Save(ctx, sess)
	}
	m.createMu.Unlock()
	if err != nil {
		return nil, "", err
	}

	m.observer.SessionCreated()
	m.record(ctx, audit.KindSessionCreated, sess, true, nil, func() map[string]string {
		return map[string]string{
			"remember": boolString(opts.Remember),
			"expires":  sess.ExpiresAt.UTC().Format(time.RFC3339),
		}
	})
	return sess.Clone(), raw, nil
}

// enforceLimit revokes the oldest sessions so that one more fits under MaxConcurrent.
func (m *Manager) enforceLimit(ctx context.Context, userID string) error {
	if m.config.MaxConcurrent <= 0 {
		return nil
	}
	existing, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return err
	}

	now := m.now()
	live := existing[:0]
	for _, sess := range existing {
		if sess.Expired(now) {
			if ok, _ := m.store.Delete(ctx, sess.ID); ok {
				m.observer.SessionExpired()
				m.record(ctx, audit.KindSessionExpired, sess, true, nil, nil)
			}
			continue
		}
		live = append(live, sess)
	}

	excess := len(live) - m.config.MaxConcurrent + 1
	for i := 0; i < excess; i++ {
		victim := live[i]
		ok, err := m.store.Delete(ctx, victim.ID)
		if err != nil {
			return err
		}
		if ok {
			m.revoked(ctx, victim, ReasonSessionLimit)
		}
	}
	return nil
}

/*
====================================
VALIDATE / REFRESH
====================================
*/

// Validate resolves raw to a live session, updating LastActivity and clearing lapsed
// elevation.
func (m *Manager) Validate(ctx context.Context, raw string) (*Session, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrNotFound
	}

	claims, err := m.codec.Parse(raw)
	switch {
	case err == nil:
	case errors.Is(err, token.ErrExpired):
		return nil, m.expire(ctx, claims.SID)
	default:
		m.record(ctx, audit.KindCookieTampered, nil, false, ErrTampered, func() map[string]string {
			return map[string]string{"cookie": "session"}
		})
		return nil, ErrTampered
	}

	sess, err := m.store.Get(ctx, claims.SID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != claims.UID {
		m.record(ctx, audit.KindCookieTampered, sess, false, ErrTampered, func() map[string]string {
			return map[string]string{"cookie": "session", "reason": "subject_mismatch"}
		})
		return nil, ErrTampered
	}

	now := m.now()
	if sess.Expired(now) {
		return nil, m.expire(ctx, sess.ID)
	}

	if err := m.checkDrift(ctx, sess); err != nil {
		return nil, err
	}

	// only activity and lapsed elevation are written, on top of whatever a concurrent
	// Refresh or Elevate stored since the read above
	updated, err := m.store.Modify(ctx, sess.ID, func(cur *Session) error {
		if cur.Expired(now) {
			return ErrExpired
		}
		if now.After(cur.LastActivity) {
			cur.LastActivity = now
		}
		if !cur.ElevatedUntil.IsZero() && !cur.Elevated(now) {
			cur.ElevatedUntil = time.Time{}
		}
		return nil
	})
	if errors.Is(err, ErrExpired) {
		return nil, m.expire(ctx, sess.ID)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (m *Manager) checkDrift(ctx context.Context, sess *Session) error {
	client := device.ClientFrom(ctx)
	ipChanged := client.IP != "" && sess.IPAddress != "" && client.IP != sess.IPAddress
	currentFP := client.Fingerprint()
	fpChanged := currentFP != "" && sess.DeviceFingerprint != "" && !device.Match(sess.DeviceFingerprint, currentFP)
	if !ipChanged && !fpChanged {
		return nil
	}

	reject := m.config.DriftPolicy == DriftReject
	m.observer.SessionDrift(reject)
	m.record(ctx, audit.KindSuspiciousActivity, sess, !reject, nil, func() map[string]string {
		meta := map[string]string{"policy": m.config.DriftPolicy.String()}
		if ipChanged {
			meta["ip_mismatch"] = "1"
			meta["stored_ip"] = sess.IPAddress
		}
		if fpChanged {
			meta["fingerprint_mismatch"] = "1"
		}
		return meta
	})
	if !reject {
		return nil
	}

	if ok, err := m.store.Delete(ctx, sess.ID); err != nil {
		m.logger.Warn("invalidate drifted session", zap.String("session_id", sess.ID), zap.Error(err))
	} else if ok {
		m.revoked(ctx, sess, ReasonDeviceMismatch)
	}
	return ErrDeviceMismatch
}

// Refresh re-validates raw, extends expiry with the remember-aware lifetime, adopts the
// current client IP and fingerprint, and issues a new token.
func (m *Manager) Refresh(ctx context.Context, raw string) (*Session, string, error) {
	sess, err := m.Validate(ctx, raw)
	if err != nil {
		return nil, "", err
	}

	expiresAt := m.now().Add(m.lifetime(sess.Remembered))
	next, err := m.codec.Issue(sess.ID, sess.UserID, expiresAt)
	if err != nil {
		return nil, "", fmt.Errorf("issue session token: %w", err)
	}

	client := device.ClientFrom(ctx)
	updated, err := m.store.Modify(ctx, sess.ID, func(cur *Session) error {
		cur.ExpiresAt = expiresAt
		if client.IP != "" {
			cur.IPAddress = client.IP
		}
		if client.UserAgent != "" {
			cur.UserAgent = client.UserAgent
			cur.DeviceFingerprint = client.Fingerprint()
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	m.record(ctx, audit.KindSessionRefreshed, updated, true, nil, func() map[string]string {
		return map[string]string{"expires": expiresAt.UTC().Format(time.RFC3339)}
	})
	return updated.Clone(), next, nil
}

// Get loads a session by id without touching activity or expiry.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	return m.store.Get(ctx, sessionID)
}

/*
====================================
ELEVATION
====================================
*/

// Elevate puts the session in the elevated sub-state for d, or Config.ElevationTTL when
// d is not positive.
func (m *Manager) Elevate(ctx context.Context, sessionID string, d time.Duration) (*Session, error) {
	if d <= 0 {
		d = m.config.ElevationTTL
	}
	now := m.now()
	sess, err := m.store.Modify(ctx, sessionID, func(cur *Session) error {
		if cur.Expired(now) {
			return ErrExpired
		}
		cur.ElevatedUntil = now.Add(d)
		if cur.ElevatedUntil.After(cur.ExpiresAt) {
			cur.ElevatedUntil = cur.ExpiresAt
		}
		return nil
	})
	if errors.Is(err, ErrExpired) {
		return nil, m.expire(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}

	m.record(ctx, audit.KindSessionElevated, sess, true, nil, func() map[string]string {
		return map[string]string{"until": sess.ElevatedUntil.UTC().Format(time.RFC3339)}
	})
	return sess.Clone(), nil
}

/*
====================================
INVALIDATION
====================================
*/

// Invalidate removes one session. Removing an unknown id is not an error.
func (m *Manager) Invalidate(ctx context.Context, sessionID string) error {
	return m.invalidate(ctx, sessionID, ReasonLogout)
}

// Revoke removes one session with an explicit audit reason.
func (m *Manager) Revoke(ctx context.Context, sessionID, reason string) error {
	return m.invalidate(ctx, sessionID, reason)
}

func (m *Manager) invalidate(ctx context.Context, sessionID, reason string) error {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	ok, err := m.store.Delete(ctx, sessionID)
	if err != nil {
		return err
	}
	if ok {
		m.revoked(ctx, sess, reason)
	}
	return nil
}

// InvalidateAllForUser removes every session of userID and returns how many were removed.
func (m *Manager) InvalidateAllForUser(ctx context.Context, userID string) (int, error) {
	return m.invalidateAll(ctx, userID, ReasonAdmin)
}

func (m *Manager) invalidateAll(ctx context.Context, userID, reason string) (int, error) {
	removed, err := m.store.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, sess := range removed {
		m.revoked(ctx, sess, reason)
	}
	return len(removed), nil
}

// SweepExpired evicts every session past its expiry and returns the count. It goes
// through the same store calls as request paths, so it is safe alongside Validate.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	removed, err := m.store.DeleteExpired(ctx, m.now())
	for _, sess := range removed {
		m.observer.SessionExpired()
		m.record(ctx, audit.KindSessionExpired, sess, true, nil, func() map[string]string {
			return map[string]string{"source": "sweep"}
		})
	}
	return len(removed), err
}

// ListForUser returns summaries of the user's live sessions, oldest first.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]Summary, error) {
	sessions, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := make([]Summary, 0, len(sessions))
	for _, sess := range sessions {
		if sess.Expired(now) {
			continue
		}
		out = append(out, Summary{
			ID:           sess.ID,
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.LastActivity,
			ExpiresAt:    sess.ExpiresAt,
			IPAddress:    sess.IPAddress,
			Device:       device.Describe(sess.UserAgent),
			Remembered:   sess.Remembered,
			Elevated:     sess.Elevated(now),
		})
	}
	return out, nil
}

// expire evicts sessionID if its record is past expiry. It returns ErrNotFound when no
// record exists (already swept or invalidated) and ErrExpired otherwise, including for a
// stale token whose session was since refreshed.
func (m *Manager) expire(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNotFound
	}
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !sess.Expired(m.now()) {
		return ErrExpired
	}
	ok, err := m.store.Delete(ctx, sessionID)
	if err != nil {
		m.logger.Warn("evict expired session", zap.String("session_id", sessionID), zap.Error(err))
		return ErrExpired
	}
	if ok {
		m.observer.SessionExpired()
		m.record(ctx, audit.KindSessionExpired, sess, true, nil, nil)
	}
	return ErrExpired
}

func (m *Manager) revoked(ctx context.Context, sess *Session, reason string) {
	m.observer.SessionRevoked(reason)
	m.record(ctx, audit.KindSessionRevoked, sess, true, nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

func (m *Manager) record(ctx context.Context, kind audit.Kind, sess *Session, success bool, err error, metadataBuilder func() map[string]string) {
	client := device.ClientFrom(ctx)
	event := audit.Event{
		Kind:      kind,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Success:   success,
		Timestamp: m.now().UTC(),
	}
	if sess != nil {
		event.UserID = sess.UserID
		event.SessionID = sess.ID
	}
	if err != nil {
		event.Error = err.Error()
	}
	if metadataBuilder != nil {
		event.Metadata = metadataBuilder()
	}
	m.audit.Record(ctx, event)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
