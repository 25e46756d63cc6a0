package rate

import "errors"

var (
	// ErrRateLimited is returned by callers that convert a limited check into an error.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis command failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
