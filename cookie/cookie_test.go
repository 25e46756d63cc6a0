package cookie

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func TestPolicyBuildFlags(t *testing.T) {
	dev := Policy{}
	c := dev.Build(Session, "v", 0)
	if !c.HttpOnly || c.Secure || c.SameSite != http.SameSiteStrictMode {
		t.Fatalf("unexpected dev session cookie: %+v", c)
	}
	if c.MaxAge != int((24 * time.Hour).Seconds()) {
		t.Fatalf("expected 1d max age, got %d", c.MaxAge)
	}

	prod := Policy{Secure: true}
	c = prod.Build(Session, "v", 30*24*time.Hour)
	if !c.Secure || c.MaxAge != 30*24*60*60 {
		t.Fatalf("unexpected remembered prod cookie: %+v", c)
	}

	p := prod.Build(Prefs, "dark", 0)
	if p.HttpOnly || p.SameSite != http.SameSiteLaxMode {
		t.Fatalf("prefs cookie must be readable by scripts and lax: %+v", p)
	}

	csrf := prod.Build(CSRF, "t", 0)
	if csrf.MaxAge != 3600 || !csrf.HttpOnly {
		t.Fatalf("unexpected csrf cookie: %+v", csrf)
	}
}

func TestPolicyClear(t *testing.T) {
	rec := httptest.NewRecorder()
	Policy{}.Clear(rec, Session)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", cookies)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(secret, CSRF, Prefs)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	enc, err := codec.Encode(CSRF, "token-value")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := codec.Decode(CSRF, enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "token-value" {
		t.Fatalf("expected round trip, got %q", got)
	}
}

func TestCodecDetectsTampering(t *testing.T) {
	codec, err := NewCodec(secret, CSRF)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	enc, err := codec.Encode(CSRF, "token-value")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b := []byte(enc)
	mid := len(b) / 2
	if b[mid] == 'A' {
		b[mid] = 'B'
	} else {
		b[mid] = 'A'
	}
	if _, err := codec.Decode(CSRF, string(b)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestCodecRejectsOtherSecret(t *testing.T) {
	a, _ := NewCodec(secret, CSRF)
	b, _ := NewCodec([]byte("ffffffffffffffffffffffffffffffff"), CSRF)
	enc, err := a.Encode(CSRF, "x")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := b.Decode(CSRF, enc); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestCodecUnknownSpec(t *testing.T) {
	codec, _ := NewCodec(secret, CSRF)
	if _, err := codec.Encode(Prefs, "x"); !errors.Is(err, ErrUnknownCookie) {
		t.Fatalf("expected ErrUnknownCookie, got %v", err)
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := http.Header{}
	SecurityHeaders(h, false)
	if h.Get("X-Frame-Options") != "DENY" || h.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing baseline headers: %v", h)
	}
	if h.Get("Content-Security-Policy") == "" || h.Get("Permissions-Policy") == "" || h.Get("Referrer-Policy") == "" {
		t.Fatalf("missing policy headers: %v", h)
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS must not be sent outside production")
	}

	SecurityHeaders(h, true)
	if h.Get("Strict-Transport-Security") == "" {
		t.Fatal("expected HSTS in production")
	}
}
