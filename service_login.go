package storeguard

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/storeguard/storeguard/audit"
	"github.com/storeguard/storeguard/metrics"
	"github.com/storeguard/storeguard/session"
)

/*
====================================
LOGIN
====================================
*/

// Login authenticates creds for the client on ctx and opens a session. It never
// returns an error value: every outcome, including internal failures, is reported in
// the result.
func (s *Service) Login(ctx context.Context, creds Credentials, opts LoginOptions) LoginResult {
	ctx, span := s.tracer.Start(ctx, "storeguard.Login")
	defer span.End()

	res := s.login(ctx, creds, opts)

	span.SetAttributes(attribute.Bool("login.success", res.Success))
	if res.Err != nil {
		span.SetAttributes(attribute.String("login.error", string(errorCode(res.Err))))
		span.SetStatus(codes.Error, string(errorCode(res.Err)))
	}
	return res
}

func (s *Service) login(ctx context.Context, creds Credentials, opts LoginOptions) LoginResult {
	key := rateKey(ctx)

	// (1) throttle before touching credentials
	limited, err := s.loginLimiter.IsLimited(ctx, key)
	if err != nil {
		return s.loginInternal(ctx, "rate limiter unavailable", err)
	}
	if limited {
		retry, _ := s.loginLimiter.RetryAfter(ctx, key)
		s.metrics.Login(metrics.LoginRateLimited)
		s.emitRateLimit(ctx, "login", func() map[string]string {
			return map[string]string{"retry_after": retry.Round(time.Second).String()}
		})
		return LoginResult{
			Err:        &RateLimitError{Scope: "login", Remaining: 0, RetryAfter: retry},
			RetryAfter: retry,
		}
	}

	// (2) presence
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	if email == "" {
		return s.loginFailed(ctx, key, "", ErrInvalidCredentials, "email")
	}
	if creds.Password == "" {
		return s.loginFailed(ctx, key, "", ErrInvalidCredentials, "password")
	}

	// (3) lookup
	user, err := s.users.GetByEmail(ctx, email)
	found := err == nil
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return s.loginInternal(ctx, "user lookup failed", err)
	}

	// (4) verify; unknown users verify against the dummy hash so both paths cost the same
	hash := s.dummyHash
	if found {
		hash = user.PasswordHash
	}
	ok, err := s.verifyPassword(ctx, creds.Password, hash)
	if err != nil && found {
		return s.loginInternal(ctx, "password verification failed", err)
	}
	if !found || !ok {
		return s.loginFailed(ctx, key, user.ID, ErrInvalidCredentials, "password")
	}

	// (5) account state
	if !user.Active {
		s.metrics.Login(metrics.LoginDisabled)
		return s.loginRejected(ctx, key, user, ErrAccountDisabled, "email")
	}
	if !user.EmailVerified {
		s.metrics.Login(metrics.LoginUnverified)
		return s.loginRejected(ctx, key, user, ErrEmailNotVerified, "email")
	}
	if user.TwoFactorEnabled {
		if res, done := s.checkTwoFactor(ctx, key, user, creds.TwoFactorCode); done {
			return res
		}
	}

	// (6) open the session
	sess, raw, err := s.sessions.Create(ctx, user.ID, user.Role, user.EffectivePermissions(), session.CreateOptions{
		Remember:          opts.Remember,
		TwoFactorVerified: user.TwoFactorEnabled,
	})
	if err != nil {
		return s.loginInternal(ctx, "session create failed", err)
	}
	if err := s.loginLimiter.Reset(ctx, key); err != nil {
		s.logger.Warn("login limiter reset failed", zap.Error(err))
	}

	s.afterLogin(ctx, user, creds.Password, sess, opts)

	s.metrics.Login(metrics.LoginSuccess)
	s.emitAudit(ctx, audit.KindLoginSuccess, true, user.ID, sess.ID, nil, func() map[string]string {
		return map[string]string{"remember": boolString(opts.Remember)}
	})

	return LoginResult{
		Success:    true,
		User:       user.Sanitized(),
		Session:    sess,
		Token:      raw,
		RedirectTo: safeRedirect(opts.RedirectTo),
	}
}

// afterLogin runs best-effort follow-ups. Their failures are logged and never fail the
// login.
func (s *Service) afterLogin(ctx context.Context, user User, plain string, sess *session.Session, opts LoginOptions) {
	if s.config.Password.UpgradeOnLogin {
		if stale, err := s.hasher.NeedsUpgrade(user.PasswordHash); err == nil && stale {
			if upgraded, err := s.hasher.Hash(plain); err == nil {
				if err := s.users.UpdatePasswordHash(ctx, user.ID, upgraded); err != nil {
					s.logger.Warn("password hash upgrade failed", zap.String("user_id", user.ID), zap.Error(err))
				}
			}
		}
	}

	if rec, ok := s.users.(LoginRecorder); ok {
		if err := rec.RecordLogin(ctx, user.ID, s.now()); err != nil {
			s.logger.Warn("record last login failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	if opts.GuestCartID != "" {
		if _, err := s.carts.TransferGuestCart(ctx, opts.GuestCartID, sess); err != nil {
			s.logger.Warn("guest cart transfer failed",
				zap.String("user_id", user.ID),
				zap.String("cart_id", opts.GuestCartID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) checkTwoFactor(ctx context.Context, key string, user User, code string) (LoginResult, bool) {
	code = strings.TrimSpace(code)
	if code == "" || s.twoFactor == nil {
		s.metrics.Login(metrics.LoginTwoFactor)
		return s.loginRejected(ctx, key, user, ErrTwoFactorRequired, "two_factor_code"), true
	}
	ok, err := s.twoFactor.Verify(ctx, user, code)
	if err != nil {
		return s.loginInternal(ctx, "two-factor verification failed", err), true
	}
	if !ok {
		return s.loginFailed(ctx, key, user.ID, ErrInvalidCredentials, "two_factor_code"), true
	}
	return LoginResult{}, false
}

// verifyPassword runs one hash comparison under the hashing semaphore. The wait ignores
// cancellation: an abandoned attempt still completes so its accounting stays exact.
func (s *Service) verifyPassword(ctx context.Context, plain, hash string) (bool, error) {
	start := time.Now()
	if err := s.hashSem.Acquire(context.WithoutCancel(ctx), 1); err != nil {
		return false, err
	}
	defer s.hashSem.Release(1)
	s.metrics.ObservePasswordWait(time.Since(start))

	return s.hasher.Verify(plain, hash)
}

func (s *Service) loginFailed(ctx context.Context, key, userID string, err error, field string) LoginResult {
	s.metrics.Login(metrics.LoginFailure)
	s.emitAudit(ctx, audit.KindLoginFailure, false, userID, "", err, func() map[string]string {
		return map[string]string{"field": field}
	})
	res := failed(err, field)
	res.RemainingAttempts, _ = s.loginLimiter.RemainingAttempts(ctx, key)
	return res
}

// loginRejected covers correct credentials on an account that may not log in yet.
func (s *Service) loginRejected(ctx context.Context, key string, user User, err error, field string) LoginResult {
	s.emitAudit(ctx, audit.KindLoginFailure, false, user.ID, "", err, nil)
	res := failed(err, field)
	res.RemainingAttempts, _ = s.loginLimiter.RemainingAttempts(ctx, key)
	return res
}

func (s *Service) loginInternal(ctx context.Context, msg string, err error) LoginResult {
	s.logger.Error(msg, zap.Error(err))
	s.metrics.Login(metrics.LoginError)
	s.emitAudit(ctx, audit.KindLoginFailure, false, "", "", ErrInternal, nil)
	return failed(ErrInternal, "")
}

// safeRedirect only accepts local absolute paths, so a crafted RedirectTo cannot send
// the user off-site.
func safeRedirect(target string) string {
	target = strings.TrimSpace(target)
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return DefaultRedirect
	}
	return target
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

/*
====================================
LOGOUT / REFRESH / ELEVATE
====================================
*/

// Logout ends the session behind raw. An invalid or unknown token is already logged
// out and is not an error.
func (s *Service) Logout(ctx context.Context, raw string) error {
	sess, err := s.sessions.Validate(ctx, raw)
	if err != nil {
		if mapped := mapSessionError(err); errors.Is(mapped, ErrInternal) {
			s.logger.Error("logout validate failed", zap.Error(err))
			return ErrInternal
		}
		return nil
	}
	if err := s.sessions.Revoke(ctx, sess.ID, session.ReasonLogout); err != nil {
		s.logger.Error("logout revoke failed", zap.String("session_id", sess.ID), zap.Error(err))
		return ErrInternal
	}
	s.emitAudit(ctx, audit.KindLogout, true, sess.UserID, sess.ID, nil, nil)
	return nil
}

// Refresh extends the session behind raw and returns it with a newly signed token.
func (s *Service) Refresh(ctx context.Context, raw string) (*session.Session, string, error) {
	sess, token, err := s.sessions.Refresh(ctx, raw)
	if err != nil {
		return nil, "", s.authFailure(err)
	}
	return sess, token, nil
}

// Elevate re-checks the user's password and puts the session behind raw in the
// elevated state for Config.Session.ElevationTTL. Attempts count against the login
// limiter.
func (s *Service) Elevate(ctx context.Context, raw, plain string) (*session.Session, error) {
	user, sess, err := s.RequireAuth(ctx, raw)
	if err != nil {
		return nil, err
	}

	key := rateKey(ctx)
	limited, err := s.loginLimiter.IsLimited(ctx, key)
	if err != nil {
		s.logger.Error("rate limiter unavailable", zap.Error(err))
		return nil, ErrInternal
	}
	if limited {
		retry, _ := s.loginLimiter.RetryAfter(ctx, key)
		s.emitRateLimit(ctx, "elevate", nil)
		return nil, &RateLimitError{Scope: "elevate", RetryAfter: retry}
	}

	ok, err := s.verifyPassword(ctx, plain, user.PasswordHash)
	if err != nil {
		s.logger.Error("password verification failed", zap.Error(err))
		return nil, ErrInternal
	}
	if !ok {
		s.emitAudit(ctx, audit.KindSessionElevated, false, user.ID, sess.ID, ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	elevated, err := s.sessions.Elevate(ctx, sess.ID, s.config.Session.ElevationTTL)
	if err != nil {
		return nil, s.authFailure(err)
	}
	return elevated, nil
}

// RevokeUserSessions removes every session of userID and returns how many were removed.
func (s *Service) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	n, err := s.sessions.InvalidateAllForUser(ctx, userID)
	if err != nil {
		s.logger.Error("revoke user sessions failed", zap.String("user_id", userID), zap.Error(err))
		return n, ErrInternal
	}
	return n, nil
}

// ActiveSessions lists the user's live sessions.
func (s *Service) ActiveSessions(ctx context.Context, userID string) ([]session.Summary, error) {
	list, err := s.sessions.ListForUser(ctx, userID)
	if err != nil {
		s.logger.Error("list sessions failed", zap.String("user_id", userID), zap.Error(err))
		return nil, ErrInternal
	}
	return list, nil
}
