package port

import (
	"context"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
)

// SessionRepository deals with session storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)
	GetByKey(ctx context.Context, sessionKey string) (*domain.Session, error)
	// ListActiveByAccount returns active sessions ordered newest first.
	ListActiveByAccount(ctx context.Context, accountID string) ([]domain.Session, error)
	CountActiveByAccount(ctx context.Context, accountID string) (int, error)
	// Touch updates last_activity of an active session and reports whether a row changed.
	Touch(ctx context.Context, sessionID string, at time.Time) (bool, error)
	// Deactivate flips is_active to false and reports whether this call performed the transition.
	Deactivate(ctx context.Context, sessionID string) (bool, error)
	// DeactivateAllForAccount deactivates every active session of the account except exceptSessionID.
	DeactivateAllForAccount(ctx context.Context, accountID string, exceptSessionID *string) (int, error)
}
