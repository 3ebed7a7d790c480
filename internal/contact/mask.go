package contact

import (
	"strings"

	"github.com/tbourn/go-eligibility-backend/internal/domain"
)

// Mask returns a display-safe version of an already normalized contact value.
// Unknown types are fully masked.
func Mask(t domain.ContactType, value string) string {
	switch t {
	case domain.ContactEmail:
		return MaskEmail(value)
	case domain.ContactPhone:
		return MaskPhone(value)
	default:
		return "***"
	}
}

// MaskEmail keeps the first two characters of the local part and the full
// domain: "test@example.com" becomes "te***@example.com".
func MaskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return "***"
	}
	local, domainPart := email[:at], email[at:]
	keep := 2
	if len(local) < keep {
		keep = len(local)
	}
	return local[:keep] + "***" + domainPart
}

// MaskPhone keeps the country prefix and the last four digits of an E.164
// number: "+41791234567" becomes "+41**4567".
func MaskPhone(phone string) string {
	const prefix = "+41"
	if !strings.HasPrefix(phone, prefix) || len(phone) < len(prefix)+4 {
		return "***"
	}
	return prefix + "**" + phone[len(phone)-4:]
}
