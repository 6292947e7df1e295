package flows

import (
	"regexp"
	"strings"
)

// MinPasswordLength is the shortest password the login form accepts.
const MinPasswordLength = 8

// StepUpCodeLength is the number of digits in a TOTP code.
const StepUpCodeLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// NormalizeEmail trims and lowercases an e-mail address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email looks like an address. It is a form
// check, not deliverability.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(NormalizeEmail(email))
}

// ValidCode reports whether code is exactly six ASCII digits.
func ValidCode(code string) bool {
	if len(code) != StepUpCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
