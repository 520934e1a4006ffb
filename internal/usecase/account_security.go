package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/repository"
)

// AccountSecurityService reports the security posture of an account.
type AccountSecurityService struct {
	accounts port.AccountRepository
	sessions port.SessionRepository
	events   port.SecurityEventRepository
	now      func() time.Time
}

// NewAccountSecurityService constructs an AccountSecurityService.
func NewAccountSecurityService(accounts port.AccountRepository, sessions port.SessionRepository, events port.SecurityEventRepository) *AccountSecurityService {
	service := &AccountSecurityService{accounts: accounts, sessions: sessions, events: events}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *AccountSecurityService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Summary aggregates events since the given moment with the account's session and lock state.
func (s *AccountSecurityService) Summary(ctx context.Context, accountID string, since time.Time) (*domain.SecuritySummary, error) {
	account, err := retryStore(ctx, "load account", func(ctx context.Context) (*domain.Account, error) {
		return s.accounts.GetByID(ctx, accountID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	counts, err := retryStore(ctx, "count security events", func(ctx context.Context) ([]port.SecurityEventCount, error) {
		return s.events.CountByAccountSince(ctx, accountID, since)
	})
	if err != nil {
		return nil, err
	}
	active, err := retryStore(ctx, "count sessions", func(ctx context.Context) (int, error) {
		return s.sessions.CountActiveByAccount(ctx, accountID)
	})
	if err != nil {
		return nil, err
	}

	summary := &domain.SecuritySummary{
		AccountID:        accountID,
		Since:            since,
		EventsByType:     make(map[domain.EventType]int),
		EventsBySeverity: make(map[domain.Severity]int),
		ActiveSessions:   active,
		Locked:           account.IsLocked(s.now()),
		FailedAttempts:   account.FailedLoginAttempts,
	}
	if summary.Locked {
		until := *account.LockedUntil
		summary.LockedUntil = &until
	}
	for _, row := range counts {
		summary.EventsByType[row.EventType] += row.Count
		summary.EventsBySeverity[row.Severity] += row.Count
	}
	return summary, nil
}
