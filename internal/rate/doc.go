// Package rate provides the attempt limiters used for login and general request
// throttling.
//
// # Window semantics
//
// A window opens on the first attempt from an identifier and lasts Config.Window.
// Attempts past MaxAttempts inside the window are limited, and the identifier is moved to
// a blacklist for Config.BlockDuration when that is positive. A live blacklist entry
// takes precedence over the counter.
//
// Redis keys (RedisLimiter):
//   - <prefix>:c:<id> counter, TTL = window
//   - <prefix>:b:<id> blacklist marker, TTL = block duration
//
// # What this package must NOT do
//
//   - Decide what an identifier is; callers pass client IPs or other keys.
//   - Be imported outside the storeguard module.
package rate
