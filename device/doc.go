// Package device derives weak client-continuity signals from request headers.
//
// A fingerprint is a SHA-256 over the parsed browser family, browser major version,
// operating system, mobile flag and primary Accept-Language tag. It is a drift signal
// for audit purposes and never a security boundary on its own.
package device
