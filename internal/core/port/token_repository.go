package port

import (
	"context"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
)

// PasswordResetTokenRepository persists password reset capabilities.
type PasswordResetTokenRepository interface {
	Create(ctx context.Context, token domain.PasswordResetToken) error
	GetByHash(ctx context.Context, tokenHash string) (*domain.PasswordResetToken, error)
	// LatestForAccount returns the most recently created token for the account regardless of state.
	LatestForAccount(ctx context.Context, accountID string) (*domain.PasswordResetToken, error)
	MarkUsed(ctx context.Context, tokenID string) (bool, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
