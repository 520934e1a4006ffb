package domain

import "time"

// Account mirrors the persisted representation in the accounts table.
type Account struct {
	ID                  string
	Email               *string
	Phone               *string
	PasswordHash        string
	EmailVerified       bool
	PhoneVerified       bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginIP         *string
	TwoFactorEnabled    bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// IsLocked reports whether the account lock is still in force at the supplied moment.
func (a Account) IsLocked(at time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(at)
}

// LockExpired reports whether a lock was set but has since elapsed.
func (a Account) LockExpired(at time.Time) bool {
	return a.LockedUntil != nil && !a.LockedUntil.After(at)
}

// PreferredContact returns the contact used for out-of-band messages, email first.
func (a Account) PreferredContact() (string, Channel, bool) {
	if a.Email != nil && *a.Email != "" {
		return *a.Email, ChannelEmail, true
	}
	if a.Phone != nil && *a.Phone != "" {
		return *a.Phone, ChannelSMS, true
	}
	return "", "", false
}

// LockState is the result of an atomic failure increment on an account.
type LockState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Locked reports whether the state carries an active lock at the supplied moment.
func (s LockState) Locked(at time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(at)
}
