package storeguard

import (
	"context"
	"errors"
	"time"

	"github.com/storeguard/storeguard/permission"
	"github.com/storeguard/storeguard/session"
)

// ErrUserNotFound is returned by a UserRepository for an unknown email or id.
var ErrUserNotFound = errors.New("user not found")

// User is the identity record owned by the host application.
type User struct {
	ID               string
	Email            string
	DisplayName      string
	Role             permission.Role
	Permissions      permission.Set
	PasswordHash     string
	Active           bool
	EmailVerified    bool
	TwoFactorEnabled bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastLoginAt      time.Time
}

// Sanitized returns a copy without the password hash.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	return u
}

// EffectivePermissions is the role's permissions plus any explicit grants.
func (u User) EffectivePermissions() permission.Set {
	return permission.Effective(u.Role, u.Permissions)
}

// UserRepository is the read side of the host's user store. Lookups return
// ErrUserNotFound for unknown users.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	// UpdatePasswordHash stores a rehashed password after a parameter upgrade.
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// LoginRecorder is optionally implemented by a UserRepository to track last login.
type LoginRecorder interface {
	RecordLogin(ctx context.Context, id string, at time.Time) error
}

// TwoFactorVerifier checks a second-factor code. Without one, users with two-factor
// enabled cannot complete Login.
type TwoFactorVerifier interface {
	Verify(ctx context.Context, user User, code string) (bool, error)
}

// Credentials are the login form fields.
type Credentials struct {
	Email         string
	Password      string
	TwoFactorCode string
}

// LoginOptions tune the session created by a successful login.
type LoginOptions struct {
	Remember bool
	// RedirectTo overrides DefaultRedirect in the result.
	RedirectTo string
	// GuestCartID is merged into the new session's cart when set.
	GuestCartID string
}

// DefaultRedirect is where a successful login sends the user by default.
const DefaultRedirect = "/account"

// LoginResult reports the outcome of Login. On failure Err is one of the taxonomy
// errors and Field names the offending form field when there is one.
type LoginResult struct {
	Success           bool
	User              User
	Session           *session.Session
	Token             string
	RedirectTo        string
	Err               error
	Field             string
	RemainingAttempts int
	RetryAfter        time.Duration
}

func failed(err error, field string) LoginResult {
	return LoginResult{Err: err, Field: field}
}
