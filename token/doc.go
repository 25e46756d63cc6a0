// Package token signs and verifies the session cookie value.
//
// The value is an HS256 JWT carrying the session id and owning user id. The server-side
// session record stays authoritative; the token only proves that the id was issued by
// this process and has not been altered in transit.
package token
