// Package memory provides in-process implementations of the storage ports. They back the memory storage
// driver used in development and the use-case tests.
package memory

// Repositories groups the in-memory repository implementations.
type Repositories struct {
	Accounts       *AccountRepository
	Otps           *OtpRepository
	Sessions       *SessionRepository
	ResetTokens    *PasswordResetTokenRepository
	SecurityEvents *SecurityEventRepository
}

// NewRepositories constructs an empty set of repositories.
func NewRepositories() *Repositories {
	return &Repositories{
		Accounts:       NewAccountRepository(),
		Otps:           NewOtpRepository(),
		Sessions:       NewSessionRepository(),
		ResetTokens:    NewPasswordResetTokenRepository(),
		SecurityEvents: NewSecurityEventRepository(),
	}
}
