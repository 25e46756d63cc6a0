package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed is returned for empty or structurally invalid tokens.
	ErrMalformed = errors.New("token malformed")
	// ErrTampered is returned when signature, algorithm or issuer checks fail.
	ErrTampered = errors.New("token signature invalid")
	// ErrExpired is returned when the token's exp has passed. Claims are still returned.
	ErrExpired = errors.New("token expired")
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

// Config defines the signing parameters.
type Config struct {
	Secret []byte
	// PreviousSecrets are still accepted for verification so a secret rotation does not
	// log every user out at once.
	PreviousSecrets [][]byte
	Issuer          string
	Leeway          time.Duration
	Now             func() time.Time
}

// Claims are the registered claims plus the session binding.
type Claims struct {
	SID string `json:"sid"`
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// Codec issues and parses session tokens.
type Codec struct {
	config Config
	keys   [][]byte
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)

	keys := [][]byte{cfg.Secret}
	for _, prev := range cfg.PreviousSecrets {
		if len(prev) < MinSecretLength {
			return nil, fmt.Errorf("previous token secret must be at least %d bytes", MinSecretLength)
		}
		keys = append(keys, prev)
	}

	return &Codec{config: cfg, keys: keys}, nil
}

// Issue signs a token for sessionID that expires at expiresAt.
func (c *Codec) Issue(sessionID, userID string, expiresAt time.Time) (string, error) {
	if sessionID == "" {
		return "", errors.New("session id required")
	}
	now := c.config.Now()
	claims := Claims{
		SID: sessionID,
		UID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    c.config.Issuer,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(c.config.Secret)
}

// Parse verifies raw and returns its claims. On ErrExpired the decoded claims are
// returned alongside the error so callers can evict the referenced session.
func (c *Codec) Parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Count(raw, ".") != 2 {
		return nil, ErrMalformed
	}

	var lastErr error
	for _, key := range c.keys {
		claims, err := c.parseWithKey(raw, key)
		if err == nil || errors.Is(err, ErrExpired) {
			return claims, err
		}
		if errors.Is(err, ErrMalformed) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Codec) parseWithKey(raw string, key []byte) (*Claims, error) {
	// Claims are checked below, after the signature is known to be good, so an expired
	// forgery is reported as tampering rather than expiry.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, ErrMalformed
		}
		return nil, fmt.Errorf("%w: %v", ErrTampered, err)
	}
	if !token.Valid || claims.SID == "" || claims.ExpiresAt == nil {
		return nil, ErrTampered
	}
	if c.config.Issuer != "" && claims.Issuer != c.config.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTampered)
	}
	if !c.config.Now().Before(claims.ExpiresAt.Time.Add(c.config.Leeway)) {
		return claims, ErrExpired
	}
	return claims, nil
}
