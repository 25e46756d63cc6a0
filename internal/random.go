package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// TokenSize is the raw byte length of CSRF tokens.
const TokenSize = 32

// TokenLength is the encoded length of a TokenSize token.
var TokenLength = base64.RawURLEncoding.EncodedLen(TokenSize)

// NewToken returns size random bytes, base64url without padding.
func NewToken(size int) (string, error) {
	if size <= 0 {
		return "", errors.New("invalid token size")
	}
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
