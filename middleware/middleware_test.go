package middleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/storeguard/storeguard"
	"github.com/storeguard/storeguard/cookie"
	"github.com/storeguard/storeguard/device"
	"github.com/storeguard/storeguard/middleware"
	"github.com/storeguard/storeguard/password"
	"github.com/storeguard/storeguard/permission"
)

const clientIP = "203.0.113.50"

func newService(t *testing.T, mutate func(*storeguard.Config)) *storeguard.Service {
	t.Helper()

	cfg := storeguard.DefaultConfig()
	cfg.Security.Environment = storeguard.EnvTest
	cfg.Password.BcryptRounds = bcrypt.MinCost
	if mutate != nil {
		mutate(&cfg)
	}

	hasher, err := password.NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	hash, err := hasher.Hash("password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := storeguard.NewMemoryUserRepository(storeguard.User{
		ID:            "u1",
		Email:         "user@example.com",
		Role:          permission.User,
		PasswordHash:  hash,
		Active:        true,
		EmailVerified: true,
	})

	svc, err := storeguard.New().WithConfig(cfg).WithUserRepository(users).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

// loginCookie logs in and returns the session cookie the handler would set.
func loginCookie(t *testing.T, svc *storeguard.Service) *http.Cookie {
	t.Helper()

	ctx := storeguard.WithClient(context.Background(), device.Client{IP: clientIP, UserAgent: "test-agent"})
	res := svc.Login(ctx, storeguard.Credentials{Email: "user@example.com", Password: "password"}, storeguard.LoginOptions{})
	if !res.Success {
		t.Fatalf("login: %v", res.Err)
	}
	rec := httptest.NewRecorder()
	middleware.SetSessionCookie(rec, svc, res.Session, res.Token)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != cookie.Session.Name {
		t.Fatalf("expected session cookie, got %v", cookies)
	}
	return cookies[0]
}

func newRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = clientIP + ":41000"
	req.Header.Set("User-Agent", "test-agent")
	return req
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireAuth(t *testing.T) {
	svc := newService(t, nil)
	var seen *middleware.Auth
	h := middleware.ClientInfo(svc)(middleware.RequireAuth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = middleware.AuthFromContext(r.Context())
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "/account"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}

	req := newRequest(http.MethodGet, "/account")
	req.AddCookie(loginCookie(t, svc))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with session, got %d", rec.Code)
	}
	if seen == nil || seen.User.ID != "u1" || seen.User.PasswordHash != "" {
		t.Fatalf("unexpected auth in context: %+v", seen)
	}
}

func TestRequireAuthBearerToken(t *testing.T) {
	svc := newService(t, nil)
	c := loginCookie(t, svc)
	h := middleware.ClientInfo(svc)(middleware.RequireAuth(svc)(ok))

	req := newRequest(http.MethodGet, "/api/me")
	req.Header.Set("Authorization", "Bearer "+c.Value)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", rec.Code)
	}
}

func TestRequireAuthRedirectsAndClearsStaleCookie(t *testing.T) {
	svc := newService(t, nil)
	h := middleware.ClientInfo(svc)(middleware.RequireAuth(svc, middleware.WithLoginRedirect("/login"))(ok))

	req := newRequest(http.MethodGet, "/account")
	req.AddCookie(&http.Cookie{Name: cookie.Session.Name, Value: "stale"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("expected redirect to /login, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookie.Session.Name && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("expected stale session cookie to be cleared")
	}
}

func TestRequirePermissionForbidden(t *testing.T) {
	svc := newService(t, nil)
	c := loginCookie(t, svc)

	tests := []struct {
		name    string
		handler http.Handler
		want    int
	}{
		{"permission granted", middleware.RequirePermission(svc, permission.Checkout)(ok), http.StatusOK},
		{"permission denied", middleware.RequirePermission(svc, permission.ManageUsers)(ok), http.StatusForbidden},
		{"role satisfied", middleware.RequireRole(svc, permission.Guest)(ok), http.StatusOK},
		{"role denied", middleware.RequireRole(svc, permission.Admin)(ok), http.StatusForbidden},
		{"exact role denied", middleware.RequireExactRole(svc, permission.Guest)(ok), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(http.MethodGet, "/admin")
			req.AddCookie(c)
			rec := httptest.NewRecorder()
			middleware.ClientInfo(svc)(tt.handler).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestCSRFMiddleware(t *testing.T) {
	svc := newService(t, nil)
	var rendered string
	h := middleware.ClientInfo(svc)(middleware.CSRF(svc.CSRF())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rendered = middleware.CSRFToken(r.Context())
		w.WriteHeader(http.StatusOK)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "/cart"))
	if rec.Code != http.StatusOK || rendered == "" {
		t.Fatalf("expected token on GET, got %d %q", rec.Code, rendered)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != cookie.CSRF.Name {
		t.Fatalf("expected csrf cookie, got %v", cookies)
	}

	post := newRequest(http.MethodPost, "/cart")
	post.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, post)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", rec.Code)
	}

	post = newRequest(http.MethodPost, "/cart")
	post.AddCookie(cookies[0])
	post.Header.Set("X-CSRF-Token", rendered)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, post)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}

	// a second GET reuses the cookie instead of rotating it
	get := newRequest(http.MethodGet, "/cart")
	get.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, get)
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("expected no new csrf cookie")
	}
}

func TestCSRFDisabled(t *testing.T) {
	svc := newService(t, func(c *storeguard.Config) { c.CSRF.Enabled = false })
	h := middleware.CSRF(svc.CSRF())(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodPost, "/cart"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected disabled csrf to pass, got %d", rec.Code)
	}
}

func TestThrottle(t *testing.T) {
	svc := newService(t, func(c *storeguard.Config) { c.RateLimit.GeneralRequests = 2 })
	h := middleware.ClientInfo(svc)(middleware.Throttle(svc)(ok))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, newRequest(http.MethodGet, "/"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest(http.MethodGet, "/"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestThrottleForwardedFor(t *testing.T) {
	tests := []struct {
		name    string
		proxies []string
		want    int
	}{
		{"untrusted peer cannot rotate its address", nil, http.StatusTooManyRequests},
		{"trusted proxy forwards distinct clients", []string{clientIP}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, func(c *storeguard.Config) {
				c.RateLimit.GeneralRequests = 2
				c.Security.TrustedProxies = tt.proxies
			})
			h := middleware.ClientInfo(svc)(middleware.Throttle(svc)(ok))

			var last int
			for i := 0; i < 5; i++ {
				req := newRequest(http.MethodGet, "/")
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i+1))
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				last = rec.Code
			}
			if last != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, last)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	for _, production := range []bool{false, true} {
		rec := httptest.NewRecorder()
		middleware.SecurityHeaders(production)(ok).ServeHTTP(rec, newRequest(http.MethodGet, "/"))
		h := rec.Header()
		if h.Get("X-Frame-Options") != "DENY" || h.Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("missing baseline headers: %v", h)
		}
		if got := h.Get("Strict-Transport-Security") != ""; got != production {
			t.Fatalf("production=%v: unexpected HSTS presence %v", production, got)
		}
	}
}
