package domain

import "time"

// Severity classifies how urgent a security event is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EventType names a security relevant state transition.
type EventType string

const (
	EventLoginSuccess           EventType = "login_success"
	EventLoginFailed            EventType = "login_failed"
	EventLoginLocked            EventType = "login_locked"
	EventLoginAttemptLocked     EventType = "login_attempt_locked"
	EventPasswordChanged        EventType = "password_changed"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventOtpSent                EventType = "otp_sent"
	EventOtpFailed              EventType = "otp_failed"
	EventRateLimitExceeded      EventType = "rate_limit_exceeded"
	EventSuspiciousActivity     EventType = "suspicious_activity"
	EventAccountUnlocked        EventType = "account_unlocked"
	EventSessionCreated         EventType = "session_created"
	EventSessionTerminated      EventType = "session_terminated"
	EventEmailVerified          EventType = "email_verified"
	EventPhoneVerified          EventType = "phone_verified"
	EventIPBlocked              EventType = "ip_blocked"
	EventBlockedIPAttempt       EventType = "blocked_ip_attempt"
)

// SecurityEvent is an append-only audit record.
type SecurityEvent struct {
	ID        string
	AccountID *string
	EventType EventType
	Severity  Severity
	IPAddress *string
	CreatedAt time.Time
	Details   map[string]any
}

// SecuritySummary aggregates recent events and session state for one account.
type SecuritySummary struct {
	AccountID        string
	Since            time.Time
	EventsByType     map[EventType]int
	EventsBySeverity map[Severity]int
	ActiveSessions   int
	Locked           bool
	LockedUntil      *time.Time
	FailedAttempts   int
}
