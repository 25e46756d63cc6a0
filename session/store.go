package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no session exists for the id.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when the session was found past its expiry and evicted.
	ErrExpired = errors.New("session expired")
	// ErrTampered is returned when the client token fails verification.
	ErrTampered = errors.New("session token tampered")
	// ErrDeviceMismatch is returned under DriftReject when IP or fingerprint changed.
	ErrDeviceMismatch = errors.New("session device mismatch")
	// ErrRedisUnavailable wraps Redis failures in RedisStore.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Store persists sessions. Implementations serialize their own mutations; a Manager
// never holds a store lock across calls.
type Store interface {
	// Save inserts or replaces sess.
	Save(ctx context.Context, sess *Session) error
	// Modify applies fn to the stored record and writes the result back atomically with
	// respect to other writers. It returns ErrNotFound when the session is gone, and
	// stores nothing when fn fails.
	Modify(ctx context.Context, sessionID string, fn func(*Session) error) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Delete removes the session and reports whether it existed.
	Delete(ctx context.Context, sessionID string) (bool, error)
	// DeleteByUser removes every session of userID and returns the removed records.
	DeleteByUser(ctx context.Context, userID string) ([]*Session, error)
	ListByUser(ctx context.Context, userID string) ([]*Session, error)
	// DeleteExpired removes sessions with ExpiresAt <= now and returns them.
	DeleteExpired(ctx context.Context, now time.Time) ([]*Session, error)
}
