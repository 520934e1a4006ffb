package domain

import (
	"fmt"
	"time"
)

// AlertKind names a security notice mailed to the account owner.
type AlertKind string

const (
	AlertAccountLocked      AlertKind = "account_locked"
	AlertPasswordChanged    AlertKind = "password_changed"
	AlertNewLocation        AlertKind = "login_from_new_location"
	AlertSuspiciousActivity AlertKind = "suspicious_activity"
)

var alertSubjects = map[AlertKind]string{
	AlertAccountLocked:      "Your account was locked",
	AlertPasswordChanged:    "Your password was changed",
	AlertNewLocation:        "New sign-in to your account",
	AlertSuspiciousActivity: "Unusual activity on your account",
}

// NewSecurityAlertMessage renders the notice for kind. Extra details become template variables.
func NewSecurityAlertMessage(kind AlertKind, ip string, at time.Time, details map[string]string) Message {
	subject, ok := alertSubjects[kind]
	if !ok {
		subject = "Security alert"
	}
	if ip == "" {
		ip = "unknown"
	}
	variables := map[string]string{
		"event":      string(kind),
		"ip_address": ip,
		"timestamp":  at.UTC().Format(time.RFC3339),
	}
	for k, v := range details {
		if _, taken := variables[k]; !taken {
			variables[k] = v
		}
	}
	return Message{
		Subject:   subject,
		Body:      fmt.Sprintf("%s. Source address %s at %s. If this was not you, reset your password.", subject, ip, variables["timestamp"]),
		Template:  "auth.security_alert." + string(kind),
		Variables: variables,
	}
}
