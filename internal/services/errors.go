// Package services defines the business logic for contact verification,
// questionnaire sessions, referral codes, and profiles. This file centralizes
// the service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned when a session id and token do not match,
	// when the session belongs to another principal, or when a profile
	// caller lacks a valid access token for a verified principal.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired is returned when a session is past its expiry or no
	// longer active (completed or abandoned).
	ErrSessionExpired = errors.New("session expired")

	// ErrReferralNotFound indicates that no referral code matches.
	ErrReferralNotFound = errors.New("referral code not found")

	// ErrReferralExpired indicates that the referral code exists but is past
	// its expiry.
	ErrReferralExpired = errors.New("referral code expired")

	// ErrReferralNotAllowed is returned when a referral code is requested for
	// a session whose outcome does not require a physician.
	ErrReferralNotAllowed = errors.New("referral not allowed for this session")

	// ErrProfileNotFound indicates that the principal has no profile.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrReferralSpaceExhausted is returned when no unique referral code could be
	// generated after the retry budget.
	ErrReferralSpaceExhausted = errors.New("could not allocate a unique referral code")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitedError is returned by OTP issuance when the principal has used up
// its budget for the trailing window. It never carries the contact value.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
