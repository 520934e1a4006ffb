package usecase

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
)

// Rate-limited actions.
const (
	ActionLogin         = "login"
	ActionOtp           = "otp"
	ActionPasswordReset = "password_reset"
	ActionEmailVerify   = "email_verify"
	ActionPhoneVerify   = "phone_verify"
)

// RateLimit is a fixed window budget.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

// DefaultRateLimits returns the built-in limit table.
func DefaultRateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		ActionLogin:         {Limit: 10, Window: time.Hour},
		ActionOtp:           {Limit: 5, Window: time.Hour},
		ActionPasswordReset: {Limit: 3, Window: time.Hour},
		ActionEmailVerify:   {Limit: 5, Window: time.Hour},
		ActionPhoneVerify:   {Limit: 5, Window: time.Hour},
	}
}

// RateScope is one identity an action is limited by, e.g. the contact or the requester IP.
type RateScope struct {
	Name     string
	Identity string
}

// RateLimiter answers whether an (action, identity) pair may proceed using a fixed window counter.
type RateLimiter struct {
	store   port.CounterStore
	limits  map[string]RateLimit
	events  *SecurityLogger
	metrics port.AuthMetrics
	logger  *zap.Logger
}

// NewRateLimiter constructs a RateLimiter. A nil limit table selects DefaultRateLimits.
func NewRateLimiter(store port.CounterStore, limits map[string]RateLimit, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits == nil {
		limits = DefaultRateLimits()
	}
	table := make(map[string]RateLimit, len(limits))
	for action, limit := range limits {
		table[action] = limit
	}
	return &RateLimiter{
		store:   store,
		limits:  table,
		metrics: nopMetrics{},
		logger:  logger,
	}
}

// WithMetrics attaches an outcome recorder.
func (r *RateLimiter) WithMetrics(metrics port.AuthMetrics) *RateLimiter {
	r.metrics = metricsOrNop(metrics)
	return r
}

// WithSecurityLogger records rate_limit_exceeded events for denials seen by Enforce.
func (r *RateLimiter) WithSecurityLogger(events *SecurityLogger) *RateLimiter {
	r.events = events
	return r
}

// Key builds the counter key for an action and identity.
func (r *RateLimiter) Key(action, identity string) string {
	return action + ":" + identity
}

// Allow counts the call and reports whether it fits the window. Denied calls are counted too,
// so hammering a closed window never earns extra budget. retryAfter is the time left in the window.
// Store failures deny: the error is ErrTemporarilyUnavailable.
func (r *RateLimiter) Allow(ctx context.Context, action, identity string) (bool, time.Duration, error) {
	limit, ok := r.limits[action]
	if !ok {
		r.logger.Warn("no rate limit configured for action, allowing", zap.String("action", action))
		return true, 0, nil
	}
	if limit.Limit <= 0 || limit.Window <= 0 {
		return true, 0, nil
	}

	count, remaining, err := r.store.Increment(ctx, r.Key(action, identity), limit.Window)
	if err != nil {
		return false, 0, unavailable("rate limit increment", err)
	}
	if remaining <= 0 || remaining > limit.Window {
		remaining = limit.Window
	}
	if count > int64(limit.Limit) {
		return false, remaining, nil
	}
	return true, 0, nil
}

// Reset clears the counter of an action and identity.
func (r *RateLimiter) Reset(ctx context.Context, action, identity string) error {
	if err := r.store.Reset(ctx, r.Key(action, identity)); err != nil {
		return unavailable("rate limit reset", err)
	}
	return nil
}

// Enforce requires every non-empty scope to pass. Scopes are checked in order and the first denial
// short-circuits, returning *RateLimitExceededError.
func (r *RateLimiter) Enforce(ctx context.Context, action string, accountID *string, ip string, scopes ...RateScope) error {
	for _, scope := range scopes {
		identity := strings.TrimSpace(scope.Identity)
		if identity == "" {
			continue
		}
		allowed, retryAfter, err := r.Allow(ctx, action, scope.Name+":"+identity)
		if err != nil {
			return err
		}
		if allowed {
			continue
		}

		r.metrics.ObserveRateLimited(action)
		r.logger.Info("rate limit exceeded",
			zap.String("action", action),
			zap.String("scope", scope.Name),
			zap.Duration("retry_after", retryAfter))
		r.events.Log(ctx, accountID, domain.EventRateLimitExceeded, domain.SeverityMedium, ip, map[string]any{
			"action":              action,
			"scope":               scope.Name,
			"retry_after_seconds": int(retryAfter.Seconds()),
		})
		return &RateLimitExceededError{Scope: action + ":" + scope.Name, RetryAfter: retryAfter}
	}
	return nil
}
