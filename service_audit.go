package storeguard

import (
	"context"
	"errors"

	"github.com/storeguard/storeguard/audit"
	"github.com/storeguard/storeguard/device"
)

// auditErrorCode is the stable error label stored on audit events. Raw error strings
// never reach the trail.
type auditErrorCode string

const (
	auditErrInvalidCredentials auditErrorCode = "invalid_credentials"
	auditErrRateLimited        auditErrorCode = "rate_limited"
	auditErrAccountDisabled    auditErrorCode = "account_disabled"
	auditErrEmailNotVerified   auditErrorCode = "email_not_verified"
	auditErrTwoFactorRequired  auditErrorCode = "two_factor_required"
	auditErrSessionNotFound    auditErrorCode = "session_not_found"
	auditErrSessionExpired     auditErrorCode = "session_expired"
	auditErrTampered           auditErrorCode = "tampered"
	auditErrDeviceMismatch     auditErrorCode = "device_mismatch"
	auditErrPermissionDenied   auditErrorCode = "permission_denied"
	auditErrInternal           auditErrorCode = "internal_error"
)

func (s *Service) emitAudit(
	ctx context.Context,
	kind audit.Kind,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if s == nil || s.recorder == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	client := device.ClientFrom(ctx)
	event := audit.Event{
		Kind:      kind,
		UserID:    userID,
		SessionID: sessionID,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Success:   success,
		Metadata:  metadata,
	}
	if code := errorCode(err); code != "" {
		event.Error = string(code)
	}

	s.recorder.Record(ctx, event)
}

func (s *Service) emitRateLimit(ctx context.Context, scope string, metadataBuilder func() map[string]string) {
	s.metrics.RateLimited(scope)
	s.emitAudit(ctx, audit.KindRateLimited, false, "", "", ErrRateLimited, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func errorCode(err error) auditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrEmailNotVerified
	case errors.Is(err, ErrTwoFactorRequired):
		return auditErrTwoFactorRequired
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionExpired):
		return auditErrSessionExpired
	case errors.Is(err, ErrTampered):
		return auditErrTampered
	case errors.Is(err, ErrDeviceMismatch):
		return auditErrDeviceMismatch
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	default:
		return auditErrInternal
	}
}
