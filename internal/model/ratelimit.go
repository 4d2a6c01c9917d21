package model

import "time"

// ActionType is the operation a rate-limit counter throttles.
type ActionType string

const (
	ActionTypeSignup ActionType = "signup"
	ActionTypeResend ActionType = "resend"
)

// ParseActionType validates a wire-level action type.
func ParseActionType(s string) (ActionType, bool) {
	switch ActionType(s) {
	case ActionTypeSignup, ActionTypeResend:
		return ActionType(s), true
	}
	return "", false
}

// RateLimitCounter is one window's attempt count for an identifier+action.
// Keyed by (identifier, action, window start); the count only increases
// within a window, and a new window starts a fresh counter.
type RateLimitCounter struct {
	Identifier     string        `db:"identifier"`
	ActionType     ActionType    `db:"action_type"`
	WindowStart    time.Time     `db:"window_start"`
	AttemptCount   int           `db:"attempt_count"`
	WindowDuration time.Duration `db:"window_duration"`
}

// Decision is the limiter's answer for a single attempt. The attempt that
// crosses the cap is still recorded; it comes back with Limited set rather
// than being dropped.
type Decision struct {
	Limited        bool
	AttemptCount   int
	MaxAttempts    int
	TimeUntilReset time.Duration

	// Fallback is set when the rate-limit store was unreachable and the
	// limiter allowed the request instead of blocking it.
	Fallback bool
}
