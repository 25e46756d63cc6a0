// Package csrf issues and checks double-submit CSRF tokens.
//
// A token is 32 random bytes, base64url encoded, stored in the authenticated
// csrf-token cookie and echoed by the client in the X-CSRF-Token header or the _csrf
// form field. Validation compares the two in constant time.
package csrf
