// Package session owns the session lifecycle: creation, validation, refresh,
// invalidation and the background expiry sweep.
//
// # Lifecycle
//
//	Created -> Active (first validate) -> Active (validate/refresh) -> {Expired, Invalidated}
//
// Elevation is orthogonal: a session is elevated while ElevatedUntil is in the future and
// the flag is cleared lazily on the next validation.
//
// # Architecture boundaries
//
// [Manager] owns policy (expiry rules, session cap, device drift handling, audit events).
// A [Store] only persists records. Two stores are provided: [MemoryStore] and
// [RedisStore]. The client-held token is produced and verified by package token.
//
// # What this package must NOT do
//
//   - Import storeguard (no upward imports).
//   - Look up users or verify passwords.
//   - Store the raw client token.
package session
