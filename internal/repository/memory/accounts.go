package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/repository"
)

// AccountRepository is an in-process port.AccountRepository. Every mutation happens under the write lock,
// which gives the same per-account linearizability as the single-statement SQL updates.
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
}

// NewAccountRepository constructs an empty repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{accounts: make(map[string]domain.Account)}
}

// Add registers an account, enforcing the unique email and phone constraints.
func (r *AccountRepository) Add(account domain.Account) error {
	if account.ID == "" {
		return fmt.Errorf("account id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.accounts {
		if id == account.ID {
			return repository.ErrDuplicate
		}
		if sameOptional(existing.Email, account.Email, true) || sameOptional(existing.Phone, account.Phone, false) {
			return repository.ErrDuplicate
		}
	}
	r.accounts[account.ID] = account
	return nil
}

func sameOptional(a, b *string, fold bool) bool {
	if a == nil || b == nil || *a == "" || *b == "" {
		return false
	}
	if fold {
		return strings.EqualFold(*a, *b)
	}
	return *a == *b
}

// GetByID fetches a live account by identifier.
func (r *AccountRepository) GetByID(_ context.Context, accountID string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[accountID]
	if !ok || account.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	return &account, nil
}

// GetByEmail fetches a live account by email, case-insensitively.
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	email = strings.TrimSpace(email)
	return r.find(func(a domain.Account) bool { return a.Email != nil && strings.EqualFold(*a.Email, email) })
}

// GetByPhone fetches a live account by phone number.
func (r *AccountRepository) GetByPhone(_ context.Context, phone string) (*domain.Account, error) {
	phone = strings.TrimSpace(phone)
	return r.find(func(a domain.Account) bool { return a.Phone != nil && *a.Phone == phone })
}

func (r *AccountRepository) find(match func(domain.Account) bool) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, account := range r.accounts {
		if account.DeletedAt == nil && match(account) {
			found := account
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

// RegisterFailure records a failed login and arms the lock when the threshold is reached.
func (r *AccountRepository) RegisterFailure(_ context.Context, accountID string, threshold int, now, lockUntil time.Time) (domain.LockState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[accountID]
	if !ok || account.DeletedAt != nil {
		return domain.LockState{}, repository.ErrNotFound
	}

	switch {
	case account.IsLocked(now):
		account.FailedLoginAttempts++
	case account.LockExpired(now):
		account.FailedLoginAttempts = 1
		account.LockedUntil = nil
	default:
		account.FailedLoginAttempts++
	}
	if account.LockedUntil == nil && account.FailedLoginAttempts >= threshold {
		until := lockUntil.UTC()
		account.LockedUntil = &until
	}
	account.UpdatedAt = now
	r.accounts[accountID] = account

	return domain.LockState{FailedAttempts: account.FailedLoginAttempts, LockedUntil: account.LockedUntil}, nil
}

// ResetFailures zeroes the failure counter, clears any lock and records the login IP.
func (r *AccountRepository) ResetFailures(_ context.Context, accountID string, lastLoginIP *string, at time.Time) error {
	return r.mutate(accountID, func(a *domain.Account) {
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
		if lastLoginIP != nil && *lastLoginIP != "" {
			ip := *lastLoginIP
			a.LastLoginIP = &ip
		}
		a.UpdatedAt = at
	})
}

// ClearExpiredLock removes a lock whose deadline has passed and restarts the failure count.
func (r *AccountRepository) ClearExpiredLock(_ context.Context, accountID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountID]
	if !ok || !account.LockExpired(now) {
		return false, nil
	}
	account.FailedLoginAttempts = 0
	account.LockedUntil = nil
	account.UpdatedAt = now
	r.accounts[accountID] = account
	return true, nil
}

// UpdatePassword stores a new password hash.
func (r *AccountRepository) UpdatePassword(_ context.Context, accountID, passwordHash string, at time.Time) error {
	return r.mutate(accountID, func(a *domain.Account) {
		a.PasswordHash = passwordHash
		a.UpdatedAt = at
	})
}

// MarkContactVerified sets the verified flag matching the channel.
func (r *AccountRepository) MarkContactVerified(_ context.Context, accountID string, channel domain.Channel, at time.Time) error {
	if !channel.Valid() {
		return fmt.Errorf("unsupported channel %q", channel)
	}
	return r.mutate(accountID, func(a *domain.Account) {
		if channel == domain.ChannelEmail {
			a.EmailVerified = true
		} else {
			a.PhoneVerified = true
		}
		a.UpdatedAt = at
	})
}

func (r *AccountRepository) mutate(accountID string, fn func(*domain.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountID]
	if !ok || account.DeletedAt != nil {
		return repository.ErrNotFound
	}
	fn(&account)
	r.accounts[accountID] = account
	return nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
