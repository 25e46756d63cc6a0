// Package storeguard is the session and security core of a storefront: login with
// throttling, signed sessions with role and permission snapshots, CSRF protection, a
// bounded audit trail and session-bound carts with integrity checks.
//
// [Service] is the public surface. Build one with [New] (a [Builder]) from a [Config],
// usually loaded by [ConfigFromEnv]. Service methods are safe for concurrent use.
//
// # Architecture boundaries
//
// Sub-packages own one concern each: session (lifecycle and stores), internal/rate
// (rate limiters), csrf, audit, cart, token (session token signing), cookie (cookie
// attributes and authentication), device (client info and fingerprints), permission
// (roles and permission sets), password (hashing and policy) and metrics. Service wires
// them together and maps their errors onto the taxonomy in errors.go.
//
// # Error contract
//
// Login never returns an error value; failures are reported in [LoginResult]. The
// Require* methods return errors that wrap [ErrAuthenticationRequired] or
// [ErrPermissionDenied], which HTTP callers map to a redirect or 401 and a 403. Tampered
// tokens are audited and reported as [ErrSessionNotFound]. Unexpected failures are logged
// and surfaced as [ErrInternal].
package storeguard
