package util

import "strings"

// NormalizeEmail lowercases and trims an email address so issuance and
// verification key on the same value regardless of caller casing.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeIdentifier canonicalizes a rate-limit identifier. Identifiers are
// usually emails but the limiter accepts any string.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// ValidEmail is the minimal shape check applied before any store access.
func ValidEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1
}

// ValidOTPCode reports whether s is a well-formed 6-digit numeric code.
// Malformed codes are rejected locally, without contacting any collaborator.
func ValidOTPCode(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
