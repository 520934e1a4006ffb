package port

import (
	"context"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
)

// OtpRepository persists one-time code challenges.
type OtpRepository interface {
	Create(ctx context.Context, challenge domain.OtpChallenge) error
	GetByID(ctx context.Context, challengeID string) (*domain.OtpChallenge, error)
	// LatestActive returns the most recently created unused challenge for the contact and purpose.
	LatestActive(ctx context.Context, contact string, purpose domain.OtpPurpose) (*domain.OtpChallenge, error)
	// SupersedeActive marks every unused challenge for the contact and purpose as used.
	SupersedeActive(ctx context.Context, contact string, purpose domain.OtpPurpose) (int, error)
	// IncrementAttempts bumps attempts of an unused challenge still below maxAttempts and returns the new count.
	// It returns repository.ErrConflict when the challenge is used or already at the ceiling.
	IncrementAttempts(ctx context.Context, challengeID string, maxAttempts int) (int, error)
	// MarkUsed flips used to true and reports whether this call performed the transition.
	MarkUsed(ctx context.Context, challengeID string) (bool, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
