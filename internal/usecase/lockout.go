package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/repository"
)

// LockoutPolicy configures progressive lockout.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy locks for 30 minutes after 3 failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: 3, Duration: 30 * time.Minute}
}

// LockOutcome describes the account state after a recorded failure.
type LockOutcome struct {
	FailedAttempts int
	Locked         bool
	// JustLocked is set when this failure armed the lock.
	JustLocked  bool
	LockedUntil *time.Time
}

// LockoutGuard tracks failed logins per account and locks accounts that reach the threshold.
type LockoutGuard struct {
	accounts port.AccountRepository
	policy   LockoutPolicy
	events   *SecurityLogger
	metrics  port.AuthMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewLockoutGuard constructs a LockoutGuard. Non-positive policy fields fall back to the defaults.
func NewLockoutGuard(accounts port.AccountRepository, policy LockoutPolicy, events *SecurityLogger, logger *zap.Logger) *LockoutGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultLockoutPolicy()
	if policy.Threshold <= 0 {
		policy.Threshold = defaults.Threshold
	}
	if policy.Duration <= 0 {
		policy.Duration = defaults.Duration
	}
	guard := &LockoutGuard{
		accounts: accounts,
		policy:   policy,
		events:   events,
		metrics:  nopMetrics{},
		logger:   logger,
	}
	guard.now = func() time.Time { return time.Now().UTC() }
	return guard
}

// WithClock overrides the internal clock for deterministic tests.
func (g *LockoutGuard) WithClock(clock func() time.Time) {
	if clock != nil {
		g.now = clock
	}
}

// WithMetrics attaches a lockout counter.
func (g *LockoutGuard) WithMetrics(metrics port.AuthMetrics) *LockoutGuard {
	g.metrics = metricsOrNop(metrics)
	return g
}

// Policy returns the effective policy.
func (g *LockoutGuard) Policy() LockoutPolicy {
	return g.policy
}

// RecordFailure counts a failed credential check in a single atomic store update.
func (g *LockoutGuard) RecordFailure(ctx context.Context, accountID string) (LockOutcome, error) {
	now := g.now()
	state, err := g.accounts.RegisterFailure(ctx, accountID, g.policy.Threshold, now, now.Add(g.policy.Duration))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return LockOutcome{}, ErrInvalidCredentials
		}
		return LockOutcome{}, unavailable("register failure", err)
	}

	outcome := LockOutcome{
		FailedAttempts: state.FailedAttempts,
		Locked:         state.Locked(now),
		LockedUntil:    state.LockedUntil,
	}
	outcome.JustLocked = outcome.Locked && state.FailedAttempts == g.policy.Threshold
	if outcome.JustLocked {
		g.metrics.ObserveLockout()
		g.logger.Info("account locked",
			zap.String("account_id", accountID),
			zap.Int("failed_attempts", state.FailedAttempts),
			zap.Time("locked_until", *state.LockedUntil))
	}
	return outcome, nil
}

// RecordSuccess clears failures and the lock. loginIP, when set, becomes the account's last login IP.
func (g *LockoutGuard) RecordSuccess(ctx context.Context, accountID string, loginIP *string) error {
	now := g.now()
	return retryStoreExec(ctx, "reset failures", func(ctx context.Context) error {
		return g.accounts.ResetFailures(ctx, accountID, loginIP, now)
	})
}

// IsLocked reports whether the account is locked now. An elapsed lock is cleared, resetting the attempts.
func (g *LockoutGuard) IsLocked(ctx context.Context, accountID string) (bool, time.Time, error) {
	account, err := retryStore(ctx, "load account", func(ctx context.Context) (*domain.Account, error) {
		return g.accounts.GetByID(ctx, accountID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, time.Time{}, ErrAccountNotFound
		}
		return false, time.Time{}, err
	}
	return g.lockState(ctx, account)
}

func (g *LockoutGuard) lockState(ctx context.Context, account *domain.Account) (bool, time.Time, error) {
	now := g.now()
	if account.IsLocked(now) {
		return true, *account.LockedUntil, nil
	}
	if account.LockExpired(now) {
		cleared, err := retryStore(ctx, "clear expired lock", func(ctx context.Context) (bool, error) {
			return g.accounts.ClearExpiredLock(ctx, account.ID, now)
		})
		if err != nil {
			return false, time.Time{}, err
		}
		if cleared {
			g.logger.Debug("expired lock cleared", zap.String("account_id", account.ID))
		}
	}
	return false, time.Time{}, nil
}

// Unlock lifts a lock manually and records account_unlocked.
func (g *LockoutGuard) Unlock(ctx context.Context, accountID, actorIP string) error {
	if _, err := retryStore(ctx, "load account", func(ctx context.Context) (*domain.Account, error) {
		return g.accounts.GetByID(ctx, accountID)
	}); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	if err := g.RecordSuccess(ctx, accountID, nil); err != nil {
		return err
	}
	id := accountID
	g.events.Log(ctx, &id, domain.EventAccountUnlocked, domain.SeverityMedium, actorIP, map[string]any{
		"manual": true,
	})
	return nil
}
