package domain

import "time"

// PasswordResetToken is a single-use credential reset capability. TokenHash is the sha256 of the opaque token.
type PasswordResetToken struct {
	ID          string
	AccountID   string
	TokenHash   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Used        bool
	RequesterIP *string
}

// Usable reports whether the token has not been consumed and has not expired.
func (t PasswordResetToken) Usable(at time.Time) bool {
	return !t.Used && t.ExpiresAt.After(at)
}
