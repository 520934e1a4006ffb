package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/repository"
)

// OtpRepository is an in-process port.OtpRepository.
type OtpRepository struct {
	mu         sync.Mutex
	challenges map[string]domain.OtpChallenge
	order      []string
}

// NewOtpRepository constructs an empty repository.
func NewOtpRepository() *OtpRepository {
	return &OtpRepository{challenges: make(map[string]domain.OtpChallenge)}
}

// Create inserts a freshly issued challenge.
func (r *OtpRepository) Create(_ context.Context, challenge domain.OtpChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.challenges[challenge.ID]; exists {
		return repository.ErrDuplicate
	}
	r.challenges[challenge.ID] = challenge
	r.order = append(r.order, challenge.ID)
	return nil
}

// GetByID fetches a challenge by identifier.
func (r *OtpRepository) GetByID(_ context.Context, challengeID string) (*domain.OtpChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	challenge, ok := r.challenges[challengeID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &challenge, nil
}

// LatestActive returns the newest unused challenge for the contact and purpose.
func (r *OtpRepository) LatestActive(_ context.Context, contact string, purpose domain.OtpPurpose) (*domain.OtpChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *domain.OtpChallenge
	for _, id := range r.order {
		challenge, ok := r.challenges[id]
		if !ok || challenge.Used || challenge.ContactInfo != contact || challenge.Purpose != purpose {
			continue
		}
		if latest == nil || !challenge.CreatedAt.Before(latest.CreatedAt) {
			c := challenge
			latest = &c
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

// SupersedeActive retires every outstanding challenge for the contact and purpose.
func (r *OtpRepository) SupersedeActive(_ context.Context, contact string, purpose domain.OtpPurpose) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, challenge := range r.challenges {
		if challenge.Used || challenge.ContactInfo != contact || challenge.Purpose != purpose {
			continue
		}
		challenge.Used = true
		r.challenges[id] = challenge
		count++
	}
	return count, nil
}

// IncrementAttempts atomically records one verification attempt while the challenge is open.
func (r *OtpRepository) IncrementAttempts(_ context.Context, challengeID string, maxAttempts int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	challenge, ok := r.challenges[challengeID]
	if !ok || challenge.Used || challenge.Attempts >= maxAttempts {
		return 0, repository.ErrConflict
	}
	challenge.Attempts++
	r.challenges[challengeID] = challenge
	return challenge.Attempts, nil
}

// MarkUsed consumes the challenge. Only the first caller observes true.
func (r *OtpRepository) MarkUsed(_ context.Context, challengeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	challenge, ok := r.challenges[challengeID]
	if !ok || challenge.Used {
		return false, nil
	}
	challenge.Used = true
	r.challenges[challengeID] = challenge
	return true, nil
}

// DeleteExpiredBefore purges challenges that expired before the cutoff.
func (r *OtpRepository) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	kept := r.order[:0]
	for _, id := range r.order {
		challenge := r.challenges[id]
		if challenge.ExpiresAt.Before(cutoff) {
			delete(r.challenges, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return deleted, nil
}

var _ port.OtpRepository = (*OtpRepository)(nil)
