package csrf

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/storeguard/storeguard/audit"
	"github.com/storeguard/storeguard/cookie"
	"github.com/storeguard/storeguard/device"
	"github.com/storeguard/storeguard/internal"
)

const (
	// HeaderName carries the token on XHR requests.
	HeaderName = "X-CSRF-Token"
	// FormField carries the token on form posts.
	FormField = "_csrf"
)

// Observer counts rejections, typically for metrics.
type Observer interface {
	CSRFRejected(reason string)
}

// Rejection reasons.
const (
	ReasonLength   = "length"
	ReasonMissing  = "missing_cookie"
	ReasonTampered = "tampered_cookie"
	ReasonMismatch = "mismatch"
)

// Config controls a Guard.
type Config struct {
	// Enabled turns protection on. When false Validate accepts everything, which is
	// only meant for local development.
	Enabled bool
	Policy  cookie.Policy
}

// Guard issues and validates CSRF tokens.
type Guard struct {
	enabled  bool
	policy   cookie.Policy
	codec    *cookie.Codec
	audit    audit.Recorder
	observer Observer
}

// Option configures a Guard.
type Option func(*Guard)

func WithAudit(r audit.Recorder) Option {
	return func(g *Guard) {
		if r != nil {
			g.audit = r
		}
	}
}

func WithObserver(o Observer) Option {
	return func(g *Guard) {
		if o != nil {
			g.observer = o
		}
	}
}

// NewGuard builds a Guard. codec must be registered for cookie.CSRF.
func NewGuard(codec *cookie.Codec, cfg Config, opts ...Option) (*Guard, error) {
	if codec == nil {
		return nil, errors.New("csrf: cookie codec is required")
	}
	g := &Guard{
		enabled: cfg.Enabled,
		policy:  cfg.Policy,
		codec:   codec,
		audit:   audit.Discard,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Enabled reports whether validation is enforced.
func (g *Guard) Enabled() bool {
	return g.enabled
}

// IssueToken generates a fresh token, sets the csrf-token cookie on w and returns the
// token for embedding in forms or headers.
func (g *Guard) IssueToken(w http.ResponseWriter) (string, error) {
	tok, err := internal.NewToken(internal.TokenSize)
	if err != nil {
		return "", err
	}
	encoded, err := g.codec.Encode(cookie.CSRF, tok)
	if err != nil {
		return "", err
	}
	g.policy.Set(w, cookie.CSRF, encoded, 0)
	return tok, nil
}

// Validate reports whether submitted matches the token stored in r's csrf-token cookie.
func (g *Guard) Validate(r *http.Request, submitted string) bool {
	// Disabling protection means every request passes, not that every request fails.
	if !g.enabled {
		return true
	}
	if len(submitted) != internal.TokenLength {
		g.reject(r, ReasonLength)
		return false
	}

	raw := cookie.Read(r, cookie.CSRF)
	if raw == "" {
		g.reject(r, ReasonMissing)
		return false
	}
	stored, err := g.codec.Decode(cookie.CSRF, raw)
	if err != nil {
		g.record(r, audit.KindCookieTampered, map[string]string{"cookie": cookie.CSRF.Name})
		g.reject(r, ReasonTampered)
		return false
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) != 1 {
		g.reject(r, ReasonMismatch)
		return false
	}
	return true
}

// Token returns the token held in r's csrf-token cookie when the cookie is present and
// authentic. Pages use it to render the current token without rotating it.
func (g *Guard) Token(r *http.Request) (string, bool) {
	raw := cookie.Read(r, cookie.CSRF)
	if raw == "" {
		return "", false
	}
	tok, err := g.codec.Decode(cookie.CSRF, raw)
	if err != nil {
		return "", false
	}
	return tok, true
}

// TokenFromRequest returns the submitted token from the X-CSRF-Token header, falling
// back to the _csrf form field.
func TokenFromRequest(r *http.Request) string {
	if v := r.Header.Get(HeaderName); v != "" {
		return v
	}
	return r.PostFormValue(FormField)
}

func (g *Guard) reject(r *http.Request, reason string) {
	if g.observer != nil {
		g.observer.CSRFRejected(reason)
	}
	g.record(r, audit.KindCSRFRejected, map[string]string{
		"reason": reason,
		"method": r.Method,
		"path":   r.URL.Path,
	})
}

func (g *Guard) record(r *http.Request, kind audit.Kind, meta map[string]string) {
	client := device.ClientFrom(r.Context())
	if client.IP == "" {
		client = device.FromRequest(r)
	}
	g.audit.Record(r.Context(), audit.Event{
		Kind:      kind,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Success:   false,
		Metadata:  meta,
	})
}
