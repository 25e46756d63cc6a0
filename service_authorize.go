package storeguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/storeguard/storeguard/audit"
	"github.com/storeguard/storeguard/permission"
	"github.com/storeguard/storeguard/session"
)

// RequireAuth resolves raw to a live session and its user. Failures wrap
// ErrAuthenticationRequired together with the reason: ErrSessionNotFound (also used for
// tampered tokens), ErrSessionExpired, ErrDeviceMismatch or ErrAccountDisabled.
func (s *Service) RequireAuth(ctx context.Context, raw string) (User, *session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "storeguard.RequireAuth")
	defer span.End()

	user, sess, err := s.requireAuth(ctx, raw)
	if err != nil {
		span.SetStatus(codes.Error, string(errorCode(err)))
		return User{}, nil, err
	}
	span.SetAttributes(
		attribute.String("user.id", user.ID),
		attribute.String("user.role", sess.Role.String()),
	)
	return user, sess, nil
}

func (s *Service) requireAuth(ctx context.Context, raw string) (User, *session.Session, error) {
	start := time.Now()
	sess, err := s.sessions.Validate(ctx, raw)
	s.metrics.ObserveValidate(time.Since(start))
	if err != nil {
		return User{}, nil, s.authFailure(err)
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		s.dropSession(ctx, sess)
		return User{}, nil, authRequired(ErrSessionNotFound)
	case err != nil:
		s.logger.Error("user lookup failed", zap.String("user_id", sess.UserID), zap.Error(err))
		return User{}, nil, ErrInternal
	}
	if !user.Active {
		s.dropSession(ctx, sess)
		return User{}, nil, authRequired(ErrAccountDisabled)
	}
	return user.Sanitized(), sess, nil
}

// dropSession revokes a session whose user can no longer use it.
func (s *Service) dropSession(ctx context.Context, sess *session.Session) {
	if err := s.sessions.Revoke(ctx, sess.ID, session.ReasonAdmin); err != nil {
		s.logger.Warn("session revoke failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

func (s *Service) authFailure(err error) error {
	mapped := mapSessionError(err)
	if errors.Is(mapped, ErrInternal) {
		s.logger.Error("session validation failed", zap.Error(err))
		return ErrInternal
	}
	return authRequired(mapped)
}

/*
====================================
ROLES
====================================
*/

// RequireRole passes when the session's role is at or above required.
func (s *Service) RequireRole(ctx context.Context, raw string, required permission.Role) (User, *session.Session, error) {
	return s.requireRole(ctx, raw, required, true)
}

// RequireExactRole passes only when the session's role equals required.
func (s *Service) RequireExactRole(ctx context.Context, raw string, required permission.Role) (User, *session.Session, error) {
	return s.requireRole(ctx, raw, required, false)
}

func (s *Service) requireRole(ctx context.Context, raw string, required permission.Role, allowHigher bool) (User, *session.Session, error) {
	user, sess, err := s.RequireAuth(ctx, raw)
	if err != nil {
		return User{}, nil, err
	}
	if sess.Role.Satisfies(required, allowHigher) {
		s.metrics.Authorization(true)
		return user, sess, nil
	}

	s.metrics.Authorization(false)
	s.emitAudit(ctx, audit.KindPermissionDenied, false, user.ID, sess.ID, ErrPermissionDenied, func() map[string]string {
		return map[string]string{
			"required_role": required.String(),
			"role":          sess.Role.String(),
			"allow_higher":  boolString(allowHigher),
		}
	})
	return User{}, nil, fmt.Errorf("%w: role %s required", ErrPermissionDenied, required)
}

/*
====================================
PERMISSIONS
====================================
*/

// RequirePermission passes when the session's permission snapshot contains perm. Both
// outcomes are audited.
func (s *Service) RequirePermission(ctx context.Context, raw string, perm permission.Permission) (User, *session.Session, error) {
	user, sess, err := s.RequireAuth(ctx, raw)
	if err != nil {
		return User{}, nil, err
	}

	granted := sess.Permissions.Has(perm)
	s.metrics.Authorization(granted)
	meta := func() map[string]string {
		return map[string]string{"permission": perm.String(), "role": sess.Role.String()}
	}
	if !granted {
		s.emitAudit(ctx, audit.KindPermissionDenied, false, user.ID, sess.ID, ErrPermissionDenied, meta)
		return User{}, nil, fmt.Errorf("%w: %s", ErrPermissionDenied, perm)
	}
	s.emitAudit(ctx, audit.KindPermissionGranted, true, user.ID, sess.ID, nil, meta)
	return user, sess, nil
}

// HasRole reports whether raw resolves to a session at or above role. Unlike
// RequireRole it is not audited, since it backs UI conditionals.
func (s *Service) HasRole(ctx context.Context, raw string, role permission.Role) bool {
	_, sess, err := s.requireAuth(ctx, raw)
	return err == nil && sess.Role.AtLeast(role)
}

// HasPermission reports whether raw resolves to a session holding perm. Not audited.
func (s *Service) HasPermission(ctx context.Context, raw string, perm permission.Permission) bool {
	_, sess, err := s.requireAuth(ctx, raw)
	return err == nil && sess.Permissions.Has(perm)
}

/*
====================================
REQUEST THROTTLE
====================================
*/

// CheckRequestRate counts one request from the client on ctx against the general
// limiter. Over budget it returns a *RateLimitError.
func (s *Service) CheckRequestRate(ctx context.Context) error {
	key := rateKey(ctx)
	limited, err := s.generalLimiter.IsLimited(ctx, key)
	if err != nil {
		s.logger.Error("rate limiter unavailable", zap.Error(err))
		return ErrInternal
	}
	if !limited {
		return nil
	}
	retry, _ := s.generalLimiter.RetryAfter(ctx, key)
	s.emitRateLimit(ctx, "general", nil)
	return &RateLimitError{Scope: "general", RetryAfter: retry}
}
