package cookie

import "net/http"

const (
	defaultCSP = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: https:; font-src 'self'; connect-src 'self'; frame-ancestors 'none'; " +
		"base-uri 'self'; form-action 'self'"
	defaultPermissionsPolicy = "camera=(), microphone=(), geolocation=(), payment=(self)"
	hsts                     = "max-age=31536000; includeSubDomains; preload"
)

// SecurityHeaders writes the security response headers. HSTS is only sent when
// production is true.
func SecurityHeaders(h http.Header, production bool) {
	h.Set("Content-Security-Policy", defaultCSP)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", defaultPermissionsPolicy)
	if production {
		h.Set("Strict-Transport-Security", hsts)
	}
}
