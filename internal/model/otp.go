package model

import "time"

// TokenType is the purpose an OTP is bound to. A code issued for one purpose
// never verifies under another.
type TokenType string

const (
	TokenTypeVerification  TokenType = "verification"
	TokenTypePasswordReset TokenType = "password_reset"
)

// ParseTokenType validates a wire-level token type.
func ParseTokenType(s string) (TokenType, bool) {
	switch TokenType(s) {
	case TokenTypeVerification, TokenTypePasswordReset:
		return TokenType(s), true
	}
	return "", false
}

// OTPRecord is one issued code. Records are append-only: the only mutation
// ever applied is the one-way flip of Used to true, and that flip is the
// atomic claim gating exactly one successful verification.
type OTPRecord struct {
	RecordID  string    `db:"otp_id"`
	Email     string    `db:"email"`
	Token     string    `db:"token"`
	Type      TokenType `db:"type"`
	ExpiresAt time.Time `db:"expires_at"`
	Used      bool      `db:"used"`
	CreatedAt time.Time `db:"created_at"`
}

// Eligible reports whether the record could still win a claim at the given
// instant. The authoritative check is the store's conditional write; this is
// only used to pick the newest candidate.
func (r *OTPRecord) Eligible(now time.Time) bool {
	return !r.Used && r.ExpiresAt.After(now)
}
