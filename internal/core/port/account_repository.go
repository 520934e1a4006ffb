package port

import (
	"context"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
)

// AccountRepository exposes account lookups and the atomic lock-state updates used by the lockout guard.
type AccountRepository interface {
	GetByID(ctx context.Context, accountID string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByPhone(ctx context.Context, phone string) (*domain.Account, error)
	// RegisterFailure increments failed_login_attempts and sets locked_until to lockUntil once the
	// threshold is reached, in a single atomic step. An elapsed lock restarts the count from zero.
	RegisterFailure(ctx context.Context, accountID string, threshold int, now, lockUntil time.Time) (domain.LockState, error)
	// ResetFailures zeroes failed attempts and clears the lock. lastLoginIP is stored when non-nil.
	ResetFailures(ctx context.Context, accountID string, lastLoginIP *string, at time.Time) error
	// ClearExpiredLock clears the lock and attempts only when locked_until is not after now.
	ClearExpiredLock(ctx context.Context, accountID string, now time.Time) (bool, error)
	UpdatePassword(ctx context.Context, accountID, passwordHash string, at time.Time) error
	MarkContactVerified(ctx context.Context, accountID string, channel domain.Channel, at time.Time) error
}
