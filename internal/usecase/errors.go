package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arklim/auth-core/internal/repository"
)

var (
	// ErrInvalidCredentials is returned for both unknown identifiers and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the account is temporarily locked after repeated failures.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimited indicates the caller exceeded the request budget for the action.
	ErrRateLimited = errors.New("rate limited")
	// ErrOtpNotFound indicates there is no usable challenge for the contact and purpose.
	ErrOtpNotFound = errors.New("otp not found")
	// ErrOtpExpired indicates the latest challenge outlived its TTL.
	ErrOtpExpired = errors.New("otp expired")
	// ErrOtpExhausted indicates the challenge reached its attempt ceiling.
	ErrOtpExhausted = errors.New("otp attempts exhausted")
	// ErrInvalidCode indicates the supplied code did not match.
	ErrInvalidCode = errors.New("invalid code")
	// ErrDeliveryFailed indicates the gateway could not deliver the message.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrSessionNotFound indicates the session does not exist or is no longer active.
	ErrSessionNotFound = errors.New("session not found")
	// ErrForbidden indicates the caller does not own the target resource.
	ErrForbidden = errors.New("forbidden")
	// ErrTemporarilyUnavailable wraps storage and infrastructure faults.
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
	// ErrInvalidResetToken covers unknown, consumed, superseded and expired reset tokens alike.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
	// ErrWeakPassword indicates the new password failed the policy.
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrAccountNotFound is only surfaced on administrative paths; login paths use ErrInvalidCredentials.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidRequest indicates malformed input such as an unknown channel or purpose.
	ErrInvalidRequest = errors.New("invalid request")
)

// AccountLockedError carries the moment the lock lifts.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

// Is matches ErrAccountLocked.
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RetryAfter returns the time left on the lock relative to now, never negative.
func (e *AccountLockedError) RetryAfter(now time.Time) time.Duration {
	if d := e.Until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// RateLimitExceededError names the scope that tripped and when it may be retried.
type RateLimitExceededError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Scope, e.RetryAfter)
}

// Is matches ErrRateLimited.
func (e *RateLimitExceededError) Is(target error) bool {
	return target == ErrRateLimited
}

const (
	storeRetryInterval = 25 * time.Millisecond
	storeRetries       = 2
)

// expectedStoreOutcome reports errors that are answers rather than faults and must not be retried.
func expectedStoreOutcome(err error) bool {
	return errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, repository.ErrConflict) ||
		errors.Is(err, repository.ErrDuplicate)
}

// unavailable maps an infrastructure fault onto ErrTemporarilyUnavailable, keeping expected outcomes intact.
func unavailable(op string, err error) error {
	if err == nil || expectedStoreOutcome(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrTemporarilyUnavailable, op, err)
}

// retryStore runs an idempotent store call with a short constant back-off.
// Non-idempotent writes (counters, attempt increments, single-use flips) go through unavailable directly.
func retryStore[T any](ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(storeRetryInterval), storeRetries),
		ctx,
	)
	result, err := backoff.RetryWithData(func() (T, error) {
		value, err := fn(ctx)
		if err != nil && expectedStoreOutcome(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}, policy)
	return result, unavailable(op, err)
}

// retryStoreExec is retryStore for calls without a result.
func retryStoreExec(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := retryStore(ctx, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
