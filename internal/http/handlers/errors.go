package handlers

// Error codes carried in ErrorResponse.Code. Clients branch on these; the
// message text may change.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_failed"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnavailable      = "unavailable"

	// OTP verification outcomes.
	ErrCodeInvalidCode      = "invalid_code"
	ErrCodeAttemptsExceeded = "attempts_exceeded"
	ErrCodeExpiredOrUnknown = "expired_or_unknown"

	// Sessions and referrals.
	ErrCodeSessionExpired     = "session_expired"
	ErrCodeReferralNotAllowed = "referral_not_allowed"
	ErrCodeReferralExpired    = "referral_expired"

	// Fallbacks for unexpected storage failures, one per operation kind.
	ErrCodeCreateFailed = "create_failed"
	ErrCodeSaveFailed   = "save_failed"
	ErrCodeExportFailed = "export_failed"
)
