package domain

import "time"

// Session represents one authenticated client context.
type Session struct {
	ID           string
	AccountID    string
	SessionKey   string
	IPAddress    *string
	UserAgent    *string
	Location     *string
	CreatedAt    time.Time
	LastActivity time.Time
	IsActive     bool
}

// OwnedBy reports whether the session belongs to the given account.
func (s Session) OwnedBy(accountID string) bool {
	return s.AccountID == accountID
}
