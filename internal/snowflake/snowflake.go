// Package snowflake orders platform message identifiers.
//
// Identifiers are decimal strings issued in creation order. They routinely
// exceed the range a float64 round-trips safely, so comparisons go through
// math/big instead of lexical or numeric-cast comparison.
package snowflake

import "math/big"

// Compare parses a and b as decimal integers and reports their ordering
// (-1, 0, or 1). ok is false when either side is not a valid decimal number,
// in which case cmp is meaningless.
func Compare(a, b string) (cmp int, ok bool) {
	left, lok := new(big.Int).SetString(a, 10)
	right, rok := new(big.Int).SetString(b, 10)
	if !lok || !rok {
		return 0, false
	}
	return left.Cmp(right), true
}

// IsNewer reports whether a was issued strictly after b.
// Unparsable input means the pair cannot be ordered; that reads as false, so
// dedup checks built on it treat the message as not-a-duplicate.
func IsNewer(a, b string) bool {
	cmp, ok := Compare(a, b)
	return ok && cmp > 0
}

// IsOlderOrEqual reports whether a was issued at or before b.
// False on unparsable input, same fail-safe as IsNewer.
func IsOlderOrEqual(a, b string) bool {
	cmp, ok := Compare(a, b)
	return ok && cmp <= 0
}

// Newest returns whichever of a and b is newer. An empty or unparsable side
// loses to a parsable one; if neither side parses, a is returned unchanged.
func Newest(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	cmp, ok := Compare(a, b)
	if !ok {
		if _, aok := new(big.Int).SetString(a, 10); !aok {
			if _, bok := new(big.Int).SetString(b, 10); bok {
				return b
			}
		}
		return a
	}
	if cmp >= 0 {
		return a
	}
	return b
}
