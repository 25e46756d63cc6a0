package cookie

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/gorilla/securecookie"
)

var (
	// ErrInvalid is returned when a cookie value fails authentication or has expired.
	ErrInvalid = errors.New("cookie value invalid")
	// ErrUnknownCookie is returned for a spec the codec was not built for.
	ErrUnknownCookie = errors.New("cookie not registered with codec")
)

// Codec authenticates cookie values with HMAC-SHA256. Each spec gets its own
// securecookie instance so the embedded timestamp is checked against that cookie's
// lifetime.
type Codec struct {
	byName map[string]*securecookie.SecureCookie
}

// NewCodec builds a codec keyed from secret for the given specs.
func NewCodec(secret []byte, specs ...Spec) (*Codec, error) {
	if len(secret) < 32 {
		return nil, errors.New("cookie secret must be at least 32 bytes")
	}
	hashKey := sha256.Sum256(append([]byte("storeguard/cookie/v1:"), secret...))

	c := &Codec{byName: make(map[string]*securecookie.SecureCookie, len(specs))}
	for _, spec := range specs {
		sc := securecookie.New(hashKey[:], nil)
		sc.SetSerializer(securecookie.JSONEncoder{})
		sc.MaxAge(int(spec.MaxAge.Seconds()))
		c.byName[spec.Name] = sc
	}
	return c, nil
}

// Encode signs value for spec.
func (c *Codec) Encode(spec Spec, value string) (string, error) {
	sc, ok := c.byName[spec.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCookie, spec.Name)
	}
	return sc.Encode(spec.Name, value)
}

// Decode verifies encoded and returns the original value.
func (c *Codec) Decode(spec Spec, encoded string) (string, error) {
	sc, ok := c.byName[spec.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCookie, spec.Name)
	}
	var value string
	if err := sc.Decode(spec.Name, encoded, &value); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return value, nil
}
