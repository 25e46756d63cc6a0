package cookie

import (
	"net/http"
	"time"
)

// Spec describes one logical cookie.
type Spec struct {
	Name     string
	HTTPOnly bool
	SameSite http.SameSite
	MaxAge   time.Duration
	Path     string
}

var (
	Session = Spec{
		Name:     "session",
		HTTPOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   24 * time.Hour,
		Path:     "/",
	}
	CSRF = Spec{
		Name:     "csrf-token",
		HTTPOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   time.Hour,
		Path:     "/",
	}
	Prefs = Spec{
		Name:     "prefs",
		HTTPOnly: false,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   365 * 24 * time.Hour,
		Path:     "/",
	}
)

// Policy applies environment-wide settings to every cookie.
type Policy struct {
	// Secure marks cookies Secure. Set in production only.
	Secure bool
	Domain string
}

// Build returns the cookie for spec with value. A positive maxAge overrides the spec
// default, which is how remembered sessions get their longer lifetime.
func (p Policy) Build(spec Spec, value string, maxAge time.Duration) *http.Cookie {
	if maxAge <= 0 {
		maxAge = spec.MaxAge
	}
	path := spec.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     spec.Name,
		Value:    value,
		Path:     path,
		Domain:   p.Domain,
		MaxAge:   int(maxAge / time.Second),
		Secure:   p.Secure,
		HttpOnly: spec.HTTPOnly,
		SameSite: spec.SameSite,
	}
}

// Set writes the cookie to w.
func (p Policy) Set(w http.ResponseWriter, spec Spec, value string, maxAge time.Duration) {
	http.SetCookie(w, p.Build(spec, value, maxAge))
}

// Clear expires the cookie on the client.
func (p Policy) Clear(w http.ResponseWriter, spec Spec) {
	c := p.Build(spec, "", 0)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

// Read returns the raw value of spec's cookie on r, or "" when absent.
func Read(r *http.Request, spec Spec) string {
	c, err := r.Cookie(spec.Name)
	if err != nil {
		return ""
	}
	return c.Value
}
