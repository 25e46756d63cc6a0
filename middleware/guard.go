package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/storeguard/storeguard"
	"github.com/storeguard/storeguard/cookie"
	"github.com/storeguard/storeguard/permission"
	"github.com/storeguard/storeguard/session"
)

// Auth is the authenticated principal attached to the request context.
type Auth struct {
	User    storeguard.User
	Session *session.Session
	Token   string
}

type authContextKey struct{}

func AuthFromContext(ctx context.Context) (*Auth, bool) {
	a, ok := ctx.Value(authContextKey{}).(*Auth)
	return a, ok
}

// FailureHandler writes the response for a rejected request.
type FailureHandler func(w http.ResponseWriter, r *http.Request, err error)

// Option configures the guards.
type Option func(*options)

type options struct {
	failure   FailureHandler
	loginPath string
}

// WithFailureHandler replaces DefaultFailure.
func WithFailureHandler(f FailureHandler) Option {
	return func(o *options) {
		if f != nil {
			o.failure = f
		}
	}
}

// WithLoginRedirect sends unauthenticated browser requests (GET or HEAD) to path
// instead of answering 401.
func WithLoginRedirect(path string) Option {
	return func(o *options) {
		o.loginPath = path
	}
}

func buildOptions(opts []Option) options {
	o := options{failure: DefaultFailure}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DefaultFailure maps the storeguard error taxonomy onto status codes. Response bodies
// never carry internal detail.
func DefaultFailure(w http.ResponseWriter, _ *http.Request, err error) {
	var rle *storeguard.RateLimitError
	switch {
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Round(time.Second)/time.Second)))
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	case errors.Is(err, storeguard.ErrAuthenticationRequired):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, storeguard.ErrPermissionDenied):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// SessionToken returns the session token from the session cookie, falling back to a
// bearer Authorization header for API clients.
func SessionToken(r *http.Request) string {
	if v := cookie.Read(r, cookie.Session); v != "" {
		return v
	}
	token, _ := bearerToken(r.Header.Get("Authorization"))
	return token
}

// RequireAuth rejects requests without a live session and attaches *Auth otherwise.
func RequireAuth(svc *storeguard.Service, opts ...Option) func(http.Handler) http.Handler {
	return guard(svc, buildOptions(opts), func(ctx context.Context, raw string) (storeguard.User, *session.Session, error) {
		return svc.RequireAuth(ctx, raw)
	})
}

// RequireRole admits sessions at or above role.
func RequireRole(svc *storeguard.Service, role permission.Role, opts ...Option) func(http.Handler) http.Handler {
	return guard(svc, buildOptions(opts), func(ctx context.Context, raw string) (storeguard.User, *session.Session, error) {
		return svc.RequireRole(ctx, raw, role)
	})
}

// RequireExactRole admits sessions whose role equals role.
func RequireExactRole(svc *storeguard.Service, role permission.Role, opts ...Option) func(http.Handler) http.Handler {
	return guard(svc, buildOptions(opts), func(ctx context.Context, raw string) (storeguard.User, *session.Session, error) {
		return svc.RequireExactRole(ctx, raw, role)
	})
}

// RequirePermission admits sessions holding perm.
func RequirePermission(svc *storeguard.Service, perm permission.Permission, opts ...Option) func(http.Handler) http.Handler {
	return guard(svc, buildOptions(opts), func(ctx context.Context, raw string) (storeguard.User, *session.Session, error) {
		return svc.RequirePermission(ctx, raw, perm)
	})
}

type checkFunc func(ctx context.Context, raw string) (storeguard.User, *session.Session, error)

func guard(svc *storeguard.Service, o options, check checkFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if svc == nil {
				o.failure(w, r, storeguard.ErrServiceNotReady)
				return
			}

			raw := SessionToken(r)
			user, sess, err := check(r.Context(), raw)
			if err != nil {
				if errors.Is(err, storeguard.ErrAuthenticationRequired) {
					if raw != "" && cookie.Read(r, cookie.Session) != "" {
						ClearSessionCookie(w, svc)
					}
					if o.loginPath != "" && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
						http.Redirect(w, r, o.loginPath, http.StatusSeeOther)
						return
					}
				}
				o.failure(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), authContextKey{}, &Auth{User: user, Session: sess, Token: raw})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SetSessionCookie writes the session cookie for sess. Its lifetime follows the
// session expiry, so remembered sessions get the long-lived cookie.
func SetSessionCookie(w http.ResponseWriter, svc *storeguard.Service, sess *session.Session, token string) {
	maxAge := sess.ExpiresAt.Sub(svc.Now())
	if maxAge <= 0 {
		maxAge = cookie.Session.MaxAge
	}
	svc.CookiePolicy().Set(w, cookie.Session, token, maxAge)
}

func ClearSessionCookie(w http.ResponseWriter, svc *storeguard.Service) {
	svc.CookiePolicy().Clear(w, cookie.Session)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
