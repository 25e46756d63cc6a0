package audit

import (
	"context"
	"time"
)

// Kind is the closed set of audit event types.
type Kind string

const (
	KindLoginSuccess       Kind = "login_success"
	KindLoginFailure       Kind = "login_failure"
	KindLogout             Kind = "logout"
	KindSessionCreated     Kind = "session_created"
	KindSessionExpired     Kind = "session_expired"
	KindSessionRevoked     Kind = "session_revoked"
	KindSessionRefreshed   Kind = "session_refreshed"
	KindSessionElevated    Kind = "session_elevated"
	KindPermissionGranted  Kind = "permission_granted"
	KindPermissionDenied   Kind = "permission_denied"
	KindCookieTampered     Kind = "cookie_tampered"
	KindSuspiciousActivity Kind = "suspicious_activity"
	KindRateLimited        Kind = "rate_limited"
	KindCSRFRejected       Kind = "csrf_rejected"
	KindCartUpdated        Kind = "cart_updated"
	KindCartTampered       Kind = "cart_tampered"
	KindCartTransferred    Kind = "cart_transferred"
)

// Kinds lists every defined kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindLoginSuccess, KindLoginFailure, KindLogout,
		KindSessionCreated, KindSessionExpired, KindSessionRevoked,
		KindSessionRefreshed, KindSessionElevated,
		KindPermissionGranted, KindPermissionDenied,
		KindCookieTampered, KindSuspiciousActivity, KindRateLimited, KindCSRFRejected,
		KindCartUpdated, KindCartTampered, KindCartTransferred,
	}
}

// Event is the canonical audit record. Events are immutable once recorded.
type Event struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Recorder is the write side of the audit trail. Components that emit events depend on
// this instead of the concrete [Log].
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// Discard is a Recorder that drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(context.Context, Event) {}

func (e Event) clone() Event {
	if e.Metadata == nil {
		return e
	}
	md := make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		md[k] = v
	}
	e.Metadata = md
	return e
}
