package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/repository"
)

// PasswordResetTokenRepository is an in-process port.PasswordResetTokenRepository.
type PasswordResetTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]domain.PasswordResetToken
}

// NewPasswordResetTokenRepository constructs an empty repository.
func NewPasswordResetTokenRepository() *PasswordResetTokenRepository {
	return &PasswordResetTokenRepository{tokens: make(map[string]domain.PasswordResetToken)}
}

// Create persists a new reset token.
func (r *PasswordResetTokenRepository) Create(_ context.Context, token domain.PasswordResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tokens {
		if existing.ID == token.ID || existing.TokenHash == token.TokenHash {
			return repository.ErrDuplicate
		}
	}
	r.tokens[token.ID] = token
	return nil
}

// GetByHash looks a token up by the hash of its opaque value.
func (r *PasswordResetTokenRepository) GetByHash(_ context.Context, tokenHash string) (*domain.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		if token.TokenHash == tokenHash {
			found := token
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

// LatestForAccount returns the newest token issued to the account.
func (r *PasswordResetTokenRepository) LatestForAccount(_ context.Context, accountID string) (*domain.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.PasswordResetToken
	for _, token := range r.tokens {
		if token.AccountID != accountID {
			continue
		}
		if latest == nil || token.CreatedAt.After(latest.CreatedAt) {
			t := token
			latest = &t
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

// MarkUsed consumes the token. Only the first caller observes true.
func (r *PasswordResetTokenRepository) MarkUsed(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[tokenID]
	if !ok || token.Used {
		return false, nil
	}
	token.Used = true
	r.tokens[tokenID] = token
	return true, nil
}

// DeleteExpiredBefore purges tokens that expired before the cutoff.
func (r *PasswordResetTokenRepository) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, token := range r.tokens {
		if token.ExpiresAt.Before(cutoff) {
			delete(r.tokens, id)
			deleted++
		}
	}
	return deleted, nil
}

var _ port.PasswordResetTokenRepository = (*PasswordResetTokenRepository)(nil)
