package device

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/mssola/useragent"
)

// Fingerprint derives a stable hex digest from the user agent and Accept-Language
// header. Minor browser version bumps do not change it. An empty user agent yields "".
func Fingerprint(userAgent, acceptLanguage string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return ""
	}

	ua := useragent.New(userAgent)
	browser, version := ua.Browser()
	major, _, _ := strings.Cut(version, ".")

	parts := []string{
		strings.ToLower(browser),
		major,
		strings.ToLower(ua.OS()),
		boolString(ua.Mobile()),
		primaryLanguage(acceptLanguage),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Match compares two fingerprints in constant time. Two empty fingerprints match.
func Match(stored, current string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(current)) == 1
}

// Describe renders a short human label such as "Chrome on Linux" for session listings.
func Describe(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}
	os := ua.OS()
	if os == "" {
		os = ua.Platform()
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}

// IsBot reports whether the user agent identifies a crawler.
func IsBot(userAgent string) bool {
	if strings.TrimSpace(userAgent) == "" {
		return false
	}
	return useragent.New(userAgent).Bot()
}

func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	first, _, _ = strings.Cut(first, ";")
	return strings.ToLower(strings.TrimSpace(first))
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
