package middleware

import (
	"context"
	"net/http"

	"github.com/storeguard/storeguard"
	"github.com/storeguard/storeguard/cookie"
	"github.com/storeguard/storeguard/csrf"
)

// ClientInfo attaches the client IP, forwarded chain and device headers to the request
// context. Mount it before every other storeguard middleware.
func ClientInfo(svc *storeguard.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(svc.WithRequest(r.Context(), r)))
		})
	}
}

// SecurityHeaders writes the security response headers. HSTS only goes out in
// production.
func SecurityHeaders(production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie.SecurityHeaders(w.Header(), production)
			next.ServeHTTP(w, r)
		})
	}
}

// Throttle applies the general request limit per client.
func Throttle(svc *storeguard.Service, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := svc.CheckRequestRate(r.Context()); err != nil {
				o.failure(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type csrfContextKey struct{}

// CSRFToken returns the token to embed in forms rendered for this request.
func CSRFToken(ctx context.Context) string {
	tok, _ := ctx.Value(csrfContextKey{}).(string)
	return tok
}

// CSRF enforces the token check on state-changing methods. Safe methods pass and get
// the current token in the context, issuing one when the client has none.
func CSRF(guard *csrf.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if safeMethod(r.Method) {
				tok, ok := guard.Token(r)
				if !ok {
					var err error
					if tok, err = guard.IssueToken(w); err != nil {
						http.Error(w, "internal error", http.StatusInternalServerError)
						return
					}
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfContextKey{}, tok)))
				return
			}

			if !guard.Validate(r, csrf.TokenFromRequest(r)) {
				http.Error(w, "invalid csrf token", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
