package model

import "time"

// Role is the privilege tier resolved for an authenticated user.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleVendor   Role = "vendor"
	RoleCustomer Role = "customer"
)

// Session is the token pair issued by the identity provider. The gateway
// never mints tokens itself; it only relays them via cookies.
type Session struct {
	UserID           string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// RoleRecord is the profile row resolved through the privileged service-key
// path. The caller's own session may not be allowed to read its own role
// under default row-level rules, so this lookup deliberately bypasses them.
type RoleRecord struct {
	UserID        string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Role          Role   `json:"role"`
	EmailVerified bool   `json:"email_verified"`
}
