// Package contact validates, normalizes, and masks contact values (email
// addresses and Swiss phone numbers) and evaluates the sliding issuance window
// used to rate-limit one-time codes per principal.
//
// Everything here is pure: no I/O, no clocks other than the one passed in.
package contact

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
)

var (
	// ErrInvalidEmail is returned for values that are not a single-@ address
	// with a dotted domain and no whitespace.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidPhone is returned for values that are not a Swiss phone number.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrUnknownType is returned for a contact type other than email or phone.
	ErrUnknownType = errors.New("unknown contact type")
)

var (
	emailRE = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// +41 / 0041 / 0, then a non-zero digit and eight more digits.
	swissPhoneRE = regexp.MustCompile(`^(\+41|0041|0)[1-9]\d{8}$`)
	phoneSepRE   = regexp.MustCompile(`[\s\-().]`)
)

// Normalize validates value for the given channel and returns its canonical
// form: lower-cased, trimmed email, or an E.164 Swiss number (+41XXXXXXXXX).
func Normalize(t domain.ContactType, value string) (string, error) {
	switch t {
	case domain.ContactEmail:
		return NormalizeEmail(value)
	case domain.ContactPhone:
		return NormalizePhone(value)
	default:
		return "", ErrUnknownType
	}
}

// NormalizeEmail trims and lower-cases an email address after validating it.
func NormalizeEmail(value string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if len(v) > 254 || !emailRE.MatchString(v) {
		return "", ErrInvalidEmail
	}
	return v, nil
}

// NormalizePhone strips separators, validates the Swiss format, and rewrites
// national (0...) and 0041 prefixes to +41.
func NormalizePhone(value string) (string, error) {
	v := phoneSepRE.ReplaceAllString(strings.TrimSpace(value), "")
	if !swissPhoneRE.MatchString(v) {
		return "", ErrInvalidPhone
	}
	switch {
	case strings.HasPrefix(v, "+41"):
		return v, nil
	case strings.HasPrefix(v, "0041"):
		return "+41" + v[4:], nil
	default:
		return "+41" + v[1:], nil
	}
}

// IsSwissPhone reports whether value is an acceptable Swiss phone number.
func IsSwissPhone(value string) bool {
	_, err := NormalizePhone(value)
	return err == nil
}
