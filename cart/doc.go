// Package cart binds shopping carts to sessions with integrity checking.
//
// A cart id is never supplied by the client. Authenticated carts use
// session.DeriveCartID(userID, sessionID); anonymous carts use GuestID, a hash of the
// client's user agent and forwarded IP. Every mutation recomputes the cart's checksum
// over its items, total and item count, and every load verifies it. A cart whose
// checksum does not match is discarded and recreated empty.
//
// Prices are integer minor units (cents).
package cart
