package password

import (
	"fmt"
	"strings"
	"unicode"
)

// DefaultMinLength is PASSWORD_MIN_LENGTH's default.
const DefaultMinLength = 8

// Policy describes password composition rules.
type Policy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireNumber bool
	RequireSymbol bool
}

// DefaultPolicy requires eight characters and nothing else.
func DefaultPolicy() Policy {
	return Policy{MinLength: DefaultMinLength}
}

// PolicyError lists every rule a password broke.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password policy: " + strings.Join(e.Violations, "; ")
}

// Check returns a *PolicyError when password breaks any rule. Length counts runes.
func (p Policy) Check(password string) error {
	var upper, lower, number, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			number = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	var v []string
	if n := len([]rune(password)); n < p.MinLength {
		v = append(v, fmt.Sprintf("must be at least %d characters", p.MinLength))
	}
	if p.RequireUpper && !upper {
		v = append(v, "must contain an uppercase letter")
	}
	if p.RequireLower && !lower {
		v = append(v, "must contain a lowercase letter")
	}
	if p.RequireNumber && !number {
		v = append(v, "must contain a number")
	}
	if p.RequireSymbol && !symbol {
		v = append(v, "must contain a symbol")
	}
	if len(v) > 0 {
		return &PolicyError{Violations: v}
	}
	return nil
}
