package model

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nonDigit     = regexp.MustCompile(`\D`)
)

// IsValidEmail reports whether s looks like a deliverable address.
func IsValidEmail(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

// IsValidPhone reports whether s carries at least ten digits.
func IsValidPhone(s string) bool {
	return len(nonDigit.ReplaceAllString(s, "")) >= 10
}

// NormalizeAddress canonicalizes an email or phone value for comparisons.
// Emails are lowercased; phones keep only digits, with a leading US country
// code dropped.
func NormalizeAddress(kind Channel, value string) string {
	value = strings.TrimSpace(value)
	if kind == ChannelEmail {
		return strings.ToLower(value)
	}
	digits := nonDigit.ReplaceAllString(value, "")
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	return digits
}
