package storeguard

import (
	"errors"
	"fmt"
	"time"

	"github.com/storeguard/storeguard/session"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited is wrapped by *RateLimitError.
	ErrRateLimited       = errors.New("too many attempts")
	ErrAccountDisabled   = errors.New("account disabled")
	ErrEmailNotVerified  = errors.New("email not verified")
	ErrTwoFactorRequired = errors.New("two-factor code required")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
	ErrTampered          = errors.New("session token tampered")
	// ErrDeviceMismatch is only returned when the device drift policy rejects.
	ErrDeviceMismatch   = errors.New("session device mismatch")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInternal         = errors.New("internal error")

	// ErrAuthenticationRequired wraps every RequireAuth failure.
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrServiceNotReady        = errors.New("service not initialized")
)

// RateLimitError carries the limiter state for a throttled request.
type RateLimitError struct {
	Scope      string
	Remaining  int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s, retry after %s", ErrRateLimited, e.Scope, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// mapSessionError converts session package errors to the public taxonomy. Tampering is
// reported as not found so callers cannot distinguish a forged token from a stale one.
func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrTampered):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrExpired):
		return ErrSessionExpired
	case errors.Is(err, session.ErrDeviceMismatch):
		return ErrDeviceMismatch
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}

func authRequired(reason error) error {
	return fmt.Errorf("%w: %w", ErrAuthenticationRequired, reason)
}
