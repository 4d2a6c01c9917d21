package errs

import "errors"

// Gateway error taxonomy. Handlers map these to HTTP status codes; services
// wrap collaborator failures with fmt.Errorf("...: %w", err) so errors.Is
// still matches the sentinel.
var (
	// ErrValidation marks malformed or missing input. Raised before any
	// store or provider call is made.
	ErrValidation = errors.New("validation failed")

	// ErrAuthentication marks rejected primary credentials or an invalid
	// or expired session token.
	ErrAuthentication = errors.New("authentication failed")

	// ErrAuthorization marks a role or MFA requirement the caller does not
	// satisfy. When raised after a successful credential check, the session
	// has already been revoked.
	ErrAuthorization = errors.New("authorization denied")

	// ErrNotFound marks a missing account or role record.
	ErrNotFound = errors.New("not found")

	// ErrTokenInvalidOrExpired is the single terminal answer for any OTP
	// that cannot be claimed: unknown, expired, or already used.
	ErrTokenInvalidOrExpired = errors.New("invalid or expired token")

	// ErrRateLimited marks a request over the attempt cap for its window.
	ErrRateLimited = errors.New("rate limited")

	// ErrStorageDegraded marks an unreachable rate-limit store. The limiter
	// fails open on it; it never reaches the HTTP surface as a failure.
	ErrStorageDegraded = errors.New("storage degraded")

	// ErrInternal marks unexpected collaborator failure. Token-store errors
	// during verification map here, never to ErrTokenInvalidOrExpired.
	ErrInternal = errors.New("internal error")
)
