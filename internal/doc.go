// Package internal contains helpers private to storeguard, currently secure random token
// generation.
//
// # Sub-packages
//
//   - rate: fixed-window rate limiters with blacklisting (memory and Redis)
package internal
