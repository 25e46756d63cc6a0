package rate

import (
	"context"
	"errors"
	"time"
)

// Config holds limiter tuning parameters.
type Config struct {
	// Name labels the limiter in metrics, audit metadata and Redis keys.
	Name          string
	MaxAttempts   int
	Window        time.Duration
	BlockDuration time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return errors.New("rate limit max attempts must be > 0")
	}
	if c.Window <= 0 {
		return errors.New("rate limit window must be > 0")
	}
	if c.BlockDuration < 0 {
		return errors.New("rate limit block duration must be >= 0")
	}
	return nil
}

// Login is the default login limiter: 5 attempts per 5 minutes, then a 1 hour block.
func Login() Config {
	return Config{Name: "login", MaxAttempts: 5, Window: 5 * time.Minute, BlockDuration: time.Hour}
}

// General is the default request throttle: 100 requests per 15 minutes, then a 15
// minute block.
func General() Config {
	return Config{Name: "general", MaxAttempts: 100, Window: 15 * time.Minute, BlockDuration: 15 * time.Minute}
}

// Limiter counts attempts per identifier.
type Limiter interface {
	// IsLimited records an attempt and reports whether the identifier is over budget.
	IsLimited(ctx context.Context, id string) (bool, error)
	RemainingAttempts(ctx context.Context, id string) (int, error)
	RetryAfter(ctx context.Context, id string) (time.Duration, error)
	Reset(ctx context.Context, id string) error
	// Cleanup drops lapsed entries and blacklist records and returns how many were removed.
	Cleanup(ctx context.Context) (int, error)
	Config() Config
}

// Entry is the per-identifier window state.
type Entry struct {
	Count        int
	WindowStart  time.Time
	ResetAt      time.Time
	FirstAttempt time.Time
	LastAttempt  time.Time
}
