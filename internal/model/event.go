package model

import "time"

// Security event types recorded by the audit trail.
const (
	EventOTPIssued       = "otp_issued"
	EventOTPClaimed      = "otp_claimed"
	EventOTPRejected     = "otp_rejected"
	EventRateLimited     = "rate_limited"
	EventLimiterDegraded = "limiter_degraded"
	EventLoginSucceeded  = "login_succeeded"
	EventLoginFailed     = "login_failed"
	EventRoleDenied      = "role_denied"
	EventMFAPending      = "mfa_pending"
	EventMFASatisfied    = "mfa_satisfied"
	EventSignedOut       = "signed_out"
)

// SecurityEvent is one audit-trail entry. Identifier is whatever the event
// keys on (email for OTP flows, user id for session flows); EventBucket is
// derived from it so hot identifiers spread across partitions.
type SecurityEvent struct {
	EventID     string    `db:"event_id"`
	EventBucket int       `db:"event_bucket"`
	EventTime   time.Time `db:"event_time"`
	EventType   string    `db:"event_type"`
	Identifier  string    `db:"identifier"`
	UserID      string    `db:"user_id"`
	Details     string    `db:"details"`
}
