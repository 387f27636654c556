// Package phone normalizes recipient phone numbers to the digits-only
// form the messaging API expects.
package phone

import (
	"errors"
	"strings"
)

// DefaultCountryCode is prefixed to bare 10-digit numbers, which are
// assumed to be domestic Indian numbers.
const DefaultCountryCode = "91"

var (
	ErrTooShort = errors.New("phone: number too short")
	ErrTooLong  = errors.New("phone: number too long")
	ErrBadIndia = errors.New("phone: indian numbers must be 12 digits")
)

// Normalize strips every non-digit character and prefixes the default
// country code when exactly 10 digits remain. It is a best-effort
// heuristic, not E.164 validation: short inputs pass through unchanged,
// and already-prefixed numbers are idempotent (their length is no longer
// 10, so no second prefix is applied).
func Normalize(raw string) string {
	digits := stripNonDigits(raw)
	if len(digits) == 10 {
		return DefaultCountryCode + digits
	}
	return digits
}

// NormalizeStrict applies Normalize and then rejects numbers that cannot
// be dialable: fewer than 11 or more than 15 digits, or a default-country
// number that is not exactly 12 digits.
func NormalizeStrict(raw string) (string, error) {
	n := Normalize(raw)
	switch {
	case len(n) < 11:
		return "", ErrTooShort
	case len(n) > 15:
		return "", ErrTooLong
	case strings.HasPrefix(n, DefaultCountryCode) && len(n) != 12:
		return "", ErrBadIndia
	}
	return n, nil
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
