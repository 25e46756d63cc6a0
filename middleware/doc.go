// Package middleware adapts storeguard.Service to net/http handlers.
//
// # Handlers
//
//   - [ClientInfo] attaches client IP and device info to the request context.
//   - [SecurityHeaders] writes CSP, framing and HSTS headers.
//   - [Throttle] applies the general request rate limit.
//   - [CSRF] validates tokens on state-changing methods and exposes the current token.
//   - [RequireAuth], [RequireRole], [RequireExactRole] and [RequirePermission] gate
//     routes on the session carried by the session cookie or a bearer header.
//
// Session cookies are written with [SetSessionCookie] and cleared with
// [ClearSessionCookie].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Service calls. Every decision is
// delegated to the Service; failures are mapped to status codes by a [FailureHandler].
//
// # What this package must NOT do
//
//   - Parse or sign session tokens directly (the Service owns the codec).
//   - Touch session, cart or limiter stores.
//   - Decide authorization beyond pass/reject from the Service.
package middleware
