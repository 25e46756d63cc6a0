package password

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxPasswordBytes bounds the input size hashed by Argon2.
const DefaultMaxPasswordBytes = 1024

var (
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	ErrEmptyPassword   = errors.New("password must not be empty")
	ErrUnknownHash     = errors.New("unrecognized password hash encoding")
)

// Hasher hashes and verifies passwords. Verify returns false with a nil error for a
// wrong password and an error only for malformed hashes or oversized input.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Algorithm names accepted by New.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// Options selects and tunes the primary algorithm.
type Options struct {
	Algorithm    string
	BcryptRounds int
	Argon2       Argon2Params
}

// New returns a Multi whose primary hasher is opts.Algorithm. Both algorithms remain
// available for verification.
func New(opts Options) (*Multi, error) {
	bc, err := NewBcrypt(opts.BcryptRounds)
	if err != nil {
		return nil, err
	}
	params := opts.Argon2
	if params == (Argon2Params{}) {
		params = DefaultArgon2Params()
	}
	a2, err := NewArgon2(params)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(opts.Algorithm) {
	case "", AlgorithmBcrypt:
		return NewMulti(bc, a2), nil
	case AlgorithmArgon2id:
		return NewMulti(a2, bc), nil
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", opts.Algorithm)
	}
}

// Multi hashes with its primary hasher and verifies with whichever hasher recognizes
// the stored encoding.
type Multi struct {
	primary Hasher
	all     []Hasher
}

func NewMulti(primary Hasher, others ...Hasher) *Multi {
	return &Multi{primary: primary, all: append([]Hasher{primary}, others...)}
}

func (m *Multi) Hash(password string) (string, error) {
	return m.primary.Hash(password)
}

func (m *Multi) Verify(password, encodedHash string) (bool, error) {
	h, err := m.pick(encodedHash)
	if err != nil {
		return false, err
	}
	return h.Verify(password, encodedHash)
}

// NeedsUpgrade is true when the hash belongs to a non-primary algorithm or the primary
// reports weaker parameters.
func (m *Multi) NeedsUpgrade(encodedHash string) (bool, error) {
	h, err := m.pick(encodedHash)
	if err != nil {
		return false, err
	}
	if h != m.primary {
		return true, nil
	}
	return h.NeedsUpgrade(encodedHash)
}

func (m *Multi) pick(encodedHash string) (Hasher, error) {
	algo := Detect(encodedHash)
	for _, h := range m.all {
		switch h.(type) {
		case *Bcrypt:
			if algo == AlgorithmBcrypt {
				return h, nil
			}
		case *Argon2:
			if algo == AlgorithmArgon2id {
				return h, nil
			}
		}
	}
	return nil, ErrUnknownHash
}

// Detect names the algorithm of an encoded hash, or "" if unknown.
func Detect(encodedHash string) string {
	switch {
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		return AlgorithmArgon2id
	case strings.HasPrefix(encodedHash, "$2a$"),
		strings.HasPrefix(encodedHash, "$2b$"),
		strings.HasPrefix(encodedHash, "$2y$"):
		return AlgorithmBcrypt
	default:
		return ""
	}
}
