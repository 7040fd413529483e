package bar

import (
	"regexp"
)

var symbolPattern = regexp.MustCompile(`^[A-Z]+\.?[A-Z]*$`)

// Symbol is an equity ticker: non-empty uppercase ASCII letters plus an
// optional dot, 1-10 characters. Immutable, compared by value.
type Symbol struct {
	value string
}

// NewSymbol validates and constructs a Symbol.
func NewSymbol(raw string) (Symbol, error) {
	if len(raw) < 1 || len(raw) > 10 {
		return Symbol{}, newValidationError("symbol", "length", "must be 1-10 characters")
	}
	if !symbolPattern.MatchString(raw) {
		return Symbol{}, newValidationError("symbol", "charset", "must be uppercase ASCII letters plus an optional dot")
	}
	return Symbol{value: raw}, nil
}

// MustSymbol panics on an invalid symbol; for use with compile-time-known
// literals (tests, fixtures).
func MustSymbol(raw string) Symbol {
	s, err := NewSymbol(raw)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Symbol) String() string { return s.value }

// Equal reports whether two symbols have the same ticker value.
func (s Symbol) Equal(other Symbol) bool { return s.value == other.value }

// IsZero reports whether s is the zero value (never produced by NewSymbol).
func (s Symbol) IsZero() bool { return s.value == "" }
