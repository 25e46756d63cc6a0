package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/storeguard/storeguard/permission"
)

// Session is one authenticated browsing context.
type Session struct {
	ID     string
	UserID string

	// Role and Permissions are a snapshot taken at creation.
	Role        permission.Role
	Permissions permission.Set

	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time

	IPAddress         string
	UserAgent         string
	DeviceFingerprint string

	CartID string

	Remembered        bool
	TwoFactorVerified bool
	ElevatedUntil     time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Elevated reports whether elevation is still live at now.
func (s *Session) Elevated(now time.Time) bool {
	return !s.ElevatedUntil.IsZero() && now.Before(s.ElevatedUntil)
}

// Clone returns a copy safe to hand to callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// DeriveCartID returns the cart identifier bound to a session. It is a pure function
// of its inputs and is never stored independently.
func DeriveCartID(userID, sessionID string) string {
	sum := sha256.Sum256([]byte("cart\x00" + userID + "\x00" + sessionID))
	return "cart_" + hex.EncodeToString(sum[:16])
}

// Summary is the listing view of a session for "active sessions" pages.
type Summary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	IPAddress    string    `json:"ip_address"`
	Device       string    `json:"device"`
	Remembered   bool      `json:"remembered"`
	Elevated     bool      `json:"elevated"`
}
