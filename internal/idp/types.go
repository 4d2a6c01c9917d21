package idp

import (
	"context"

	"marketplace-gateway/internal/model"
)

// Factor is a second-factor enrollment registered with the identity provider.
type Factor struct {
	ID     string `json:"id"`
	Type   string `json:"factor_type"`
	Status string `json:"status"`
}

// Verified reports whether the factor is active and must be satisfied before
// the session may touch protected operations.
func (f Factor) Verified() bool {
	return f.Status == "verified"
}

// UserInfo is the provider's view of an account.
type UserInfo struct {
	ID      string   `json:"id"`
	Email   string   `json:"email"`
	Factors []Factor `json:"factors"`
}

// FirstVerifiedFactor returns the factor the continuation gate should
// challenge, or "" when the account has none.
func (u *UserInfo) FirstVerifiedFactor() string {
	for _, f := range u.Factors {
		if f.Verified() {
			return f.ID
		}
	}
	return ""
}

// Provider is the identity-provider contract the gateway requires: primary
// credential verification, session lifecycle, second-factor verification,
// and privileged (service-level) reads that bypass per-user access rules.
type Provider interface {
	// SignInWithPassword exchanges credentials for a session.
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, *UserInfo, error)

	// RefreshSession exchanges a refresh token for a new token pair.
	RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error)

	// SignOut revokes the session behind the access token.
	SignOut(ctx context.Context, accessToken string) error

	// UserFromToken resolves the account behind an access token.
	UserFromToken(ctx context.Context, accessToken string) (*UserInfo, error)

	// VerifyFactor proves a second factor for the session.
	VerifyFactor(ctx context.Context, accessToken, factorID, code string) error

	// AdminUserByEmail looks an account up with the service key. Used by
	// flows that must not reveal account existence to the caller.
	AdminUserByEmail(ctx context.Context, email string) (*UserInfo, error)

	// AdminUpdatePassword sets a new password with the service key.
	AdminUpdatePassword(ctx context.Context, userID, newPassword string) error

	// RoleRecord reads the profile row for a user through the privileged
	// path, bypassing row-level access rules. This is a deliberate, audited
	// exception: the caller's own session may not be authorized to read
	// its own role.
	RoleRecord(ctx context.Context, userID string) (*model.RoleRecord, error)
}
