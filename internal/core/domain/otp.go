package domain

import (
	"fmt"
	"time"
)

// Channel enumerates the out-of-band delivery channels a code can travel over.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Valid reports whether the channel is one of the supported variants.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail:
		return true
	default:
		return false
	}
}

// OtpPurpose scopes a challenge to the flow that requested it.
type OtpPurpose string

const (
	OtpPurposeLogin         OtpPurpose = "login"
	OtpPurposeRegister      OtpPurpose = "register"
	OtpPurposePasswordReset OtpPurpose = "password_reset"
	OtpPurposeEmailVerify   OtpPurpose = "email_verify"
	OtpPurposePhoneVerify   OtpPurpose = "phone_verify"
)

// Valid reports whether the purpose is known.
func (p OtpPurpose) Valid() bool {
	switch p {
	case OtpPurposeLogin, OtpPurposeRegister, OtpPurposePasswordReset, OtpPurposeEmailVerify, OtpPurposePhoneVerify:
		return true
	default:
		return false
	}
}

// OtpChallenge is a single issued one-time code. Only the salted hash of the code is kept.
type OtpChallenge struct {
	ID             string
	AccountID      *string
	ContactInfo    string
	DeliveryMethod Channel
	Purpose        OtpPurpose
	CodeHash       string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Attempts       int
	Used           bool
	RequesterIP    *string
}

// Expired reports whether the challenge can no longer be verified because its TTL elapsed.
func (c OtpChallenge) Expired(at time.Time) bool {
	return at.After(c.ExpiresAt)
}

// Exhausted reports whether the attempt ceiling has been reached.
func (c OtpChallenge) Exhausted(maxAttempts int) bool {
	return c.Attempts >= maxAttempts
}

// Message is the rendered body handed to a delivery gateway.
type Message struct {
	Purpose OtpPurpose
	Subject string
	Body    string
	// Code is set for gateways that render provider-side templates.
	Code string
	// Link is set for reset messages that carry a token rather than a code.
	Link string
	// Template overrides the purpose-derived mail template.
	Template  string
	Variables map[string]string
}

var otpSubjects = map[OtpPurpose]string{
	OtpPurposeLogin:         "Your sign-in code",
	OtpPurposeRegister:      "Confirm your registration",
	OtpPurposePasswordReset: "Your password reset code",
	OtpPurposeEmailVerify:   "Verify your email address",
	OtpPurposePhoneVerify:   "Verify your phone number",
}

// NewOtpMessage renders the per-purpose message carrying a one-time code.
func NewOtpMessage(purpose OtpPurpose, code string, ttl time.Duration) Message {
	subject, ok := otpSubjects[purpose]
	if !ok {
		subject = "Your verification code"
	}
	return Message{
		Purpose: purpose,
		Subject: subject,
		Body:    fmt.Sprintf("%s: %s. It expires in %d minutes.", subject, code, int(ttl.Minutes())),
		Code:    code,
	}
}

// NewPasswordResetMessage renders the message carrying a reset link.
func NewPasswordResetMessage(link string, ttl time.Duration) Message {
	return Message{
		Purpose: OtpPurposePasswordReset,
		Subject: "Reset your password",
		Body:    fmt.Sprintf("Use this link to choose a new password: %s. It expires in %d minutes.", link, int(ttl.Minutes())),
		Link:    link,
	}
}
