package handlers

import (
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
)

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginRequest defines the payload for the password login endpoint.
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// OtpLoginRequest defines the payload for passwordless login.
type OtpLoginRequest struct {
	Contact string `json:"contact" binding:"required"`
	Code    string `json:"code" binding:"required"`
}

// SessionSummary is the public view of a session. The session key is only returned once, at login.
type SessionSummary struct {
	ID           string    `json:"id"`
	IPAddress    *string   `json:"ip_address,omitempty"`
	UserAgent    *string   `json:"user_agent,omitempty"`
	Location     *string   `json:"location,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Current      bool      `json:"current,omitempty"`
}

// LoginResponse describes the login outcome. SessionKey and Session are absent while a second factor is pending.
type LoginResponse struct {
	Status     string          `json:"status"`
	AccountID  string          `json:"account_id"`
	SessionKey string          `json:"session_key,omitempty"`
	Session    *SessionSummary `json:"session,omitempty"`
}

// IssueOtpRequest asks for a code to be delivered.
type IssueOtpRequest struct {
	Contact string `json:"contact" binding:"required"`
	Channel string `json:"channel" binding:"required,oneof=sms email"`
	Purpose string `json:"purpose" binding:"required"`
}

// IssueOtpResponse identifies the issued challenge. The code itself is never returned.
type IssueOtpResponse struct {
	ChallengeID string    `json:"challenge_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// VerifyContactRequest confirms an email or phone number with a delivered code.
type VerifyContactRequest struct {
	Contact string `json:"contact" binding:"required"`
	Purpose string `json:"purpose" binding:"required,oneof=email_verify phone_verify"`
	Code    string `json:"code" binding:"required"`
}

// PasswordResetRequest starts a password reset.
type PasswordResetRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

// PasswordResetConfirmRequest completes a password reset.
type PasswordResetConfirmRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// SessionListResponse lists the caller's active sessions.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// RevokeSessionsResponse reports how many sessions were terminated.
type RevokeSessionsResponse struct {
	Revoked int `json:"revoked"`
}

// SecuritySummaryResponse summarises recent security activity for the caller.
type SecuritySummaryResponse struct {
	AccountID        string         `json:"account_id"`
	Since            time.Time      `json:"since"`
	EventsByType     map[string]int `json:"events_by_type"`
	EventsBySeverity map[string]int `json:"events_by_severity"`
	ActiveSessions   int            `json:"active_sessions"`
	Locked           bool           `json:"locked"`
	LockedUntil      *time.Time     `json:"locked_until,omitempty"`
	FailedAttempts   int            `json:"failed_attempts"`
}

// HealthResponse describes service liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports each dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func toSessionSummary(session domain.Session, currentID string) SessionSummary {
	return SessionSummary{
		ID:           session.ID,
		IPAddress:    session.IPAddress,
		UserAgent:    session.UserAgent,
		Location:     session.Location,
		CreatedAt:    session.CreatedAt,
		LastActivity: session.LastActivity,
		Current:      currentID != "" && session.ID == currentID,
	}
}

func toSecuritySummary(summary *domain.SecuritySummary) SecuritySummaryResponse {
	byType := make(map[string]int, len(summary.EventsByType))
	for eventType, count := range summary.EventsByType {
		byType[string(eventType)] = count
	}
	bySeverity := make(map[string]int, len(summary.EventsBySeverity))
	for severity, count := range summary.EventsBySeverity {
		bySeverity[string(severity)] = count
	}
	return SecuritySummaryResponse{
		AccountID:        summary.AccountID,
		Since:            summary.Since,
		EventsByType:     byType,
		EventsBySeverity: bySeverity,
		ActiveSessions:   summary.ActiveSessions,
		Locked:           summary.Locked,
		LockedUntil:      summary.LockedUntil,
		FailedAttempts:   summary.FailedAttempts,
	}
}

// BlockIPRequest bans a client address. A missing duration uses the server default.
type BlockIPRequest struct {
	IPAddress       string `json:"ip_address" binding:"required,ip"`
	DurationMinutes int    `json:"duration_minutes" binding:"omitempty,min=1"`
	Reason          string `json:"reason" binding:"max=255"`
}

// BlockIPResponse confirms a ban.
type BlockIPResponse struct {
	IPAddress       string    `json:"ip_address"`
	DurationMinutes int       `json:"duration_minutes"`
	BlockedUntil    time.Time `json:"blocked_until"`
}
