package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/repository/memory"
)

type failingCounterStore struct{}

func (failingCounterStore) Increment(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func (failingCounterStore) Reset(context.Context, string) error {
	return errors.New("connection refused")
}

func TestRateLimiterAllowsExactlyLimitPerWindow(t *testing.T) {
	clock := newTestClock()
	limiter := NewRateLimiter(memory.NewCounterStore().WithClock(clock.Now), map[string]RateLimit{
		ActionOtp: {Limit: 5, Window: time.Hour},
	}, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		allowed, _, err := limiter.Allow(ctx, ActionOtp, "contact:+989123456789")
		if err != nil || !allowed {
			t.Fatalf("call %d: expected allowed, got allowed=%v err=%v", i, allowed, err)
		}
		clock.Advance(time.Minute)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, ActionOtp, "contact:+989123456789")
	if err != nil {
		t.Fatalf("Allow returned error: %v", err)
	}
	if allowed {
		t.Fatalf("expected 6th call to be denied")
	}
	if retryAfter <= 0 || retryAfter > 55*time.Minute {
		t.Fatalf("retryAfter must be within the remaining window, got %s", retryAfter)
	}

	clock.Advance(retryAfter)
	allowed, _, err = limiter.Allow(ctx, ActionOtp, "contact:+989123456789")
	if err != nil || !allowed {
		t.Fatalf("expected counter to reset after the window, allowed=%v err=%v", allowed, err)
	}
}

func TestRateLimiterDeniedCallsStillCount(t *testing.T) {
	store := memory.NewCounterStore()
	limiter := NewRateLimiter(store, map[string]RateLimit{"login": {Limit: 1, Window: time.Hour}}, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _, _ = limiter.Allow(ctx, "login", "ip:10.0.0.1")
	}
	count, _, err := store.Increment(ctx, limiter.Key("login", "ip:10.0.0.1"), time.Hour)
	if err != nil {
		t.Fatalf("Increment returned error: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected denied calls to be counted, got %d", count)
	}
}

func TestRateLimiterUnknownActionIsAllowed(t *testing.T) {
	limiter := NewRateLimiter(failingCounterStore{}, map[string]RateLimit{}, nil)
	allowed, _, err := limiter.Allow(context.Background(), "export", "user-1")
	if err != nil || !allowed {
		t.Fatalf("expected unknown action to be allowed, allowed=%v err=%v", allowed, err)
	}
}

func TestRateLimiterFailsClosedOnStoreError(t *testing.T) {
	limiter := NewRateLimiter(failingCounterStore{}, nil, nil)
	allowed, _, err := limiter.Allow(context.Background(), ActionLogin, "ip:10.0.0.1")
	if allowed {
		t.Fatalf("store failure must not allow the call")
	}
	if !errors.Is(err, ErrTemporarilyUnavailable) {
		t.Fatalf("expected ErrTemporarilyUnavailable, got %v", err)
	}
}

func TestRateLimiterReset(t *testing.T) {
	limiter := NewRateLimiter(memory.NewCounterStore(), map[string]RateLimit{"login": {Limit: 1, Window: time.Hour}}, nil)
	ctx := context.Background()

	_, _, _ = limiter.Allow(ctx, "login", "user-1")
	if allowed, _, _ := limiter.Allow(ctx, "login", "user-1"); allowed {
		t.Fatalf("expected second call to be denied")
	}
	if err := limiter.Reset(ctx, "login", "user-1"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if allowed, _, _ := limiter.Allow(ctx, "login", "user-1"); !allowed {
		t.Fatalf("expected call after reset to be allowed")
	}
}

func TestRateLimiterEnforceRequiresEveryScope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Exhaust the IP budget with different contacts.
	for i := 0; i < 5; i++ {
		contact := "user" + string(rune('a'+i)) + "@example.com"
		if err := env.limiter.Enforce(ctx, ActionOtp, nil, "10.0.0.1",
			RateScope{Name: "contact", Identity: contact},
			RateScope{Name: "ip", Identity: "10.0.0.1"},
		); err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}

	err := env.limiter.Enforce(ctx, ActionOtp, nil, "10.0.0.1",
		RateScope{Name: "contact", Identity: "fresh@example.com"},
		RateScope{Name: "ip", Identity: "10.0.0.1"},
	)
	var limited *RateLimitExceededError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}
	if limited.Scope != "otp:ip" {
		t.Fatalf("expected ip scope to trip, got %s", limited.Scope)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("RateLimitExceededError must match ErrRateLimited")
	}

	events := env.eventsOfType(domain.EventRateLimitExceeded)
	if len(events) != 1 || events[0].Severity != domain.SeverityMedium {
		t.Fatalf("expected one medium rate_limit_exceeded event, got %+v", events)
	}
	if env.metrics.rateLimited[ActionOtp] != 1 {
		t.Fatalf("expected rate limited metric, got %v", env.metrics.rateLimited)
	}
}

func TestDefaultRateLimitsCoverEveryEnforcedAction(t *testing.T) {
	limits := DefaultRateLimits()
	want := []string{ActionLogin, ActionOtp, ActionPasswordReset, ActionEmailVerify, ActionPhoneVerify}
	if len(limits) != len(want) {
		t.Fatalf("expected %d limits, got %d: %v", len(want), len(limits), limits)
	}
	for _, action := range want {
		limit, ok := limits[action]
		if !ok || limit.Limit <= 0 || limit.Window <= 0 {
			t.Fatalf("action %q needs a positive budget, got %+v", action, limit)
		}
	}
}
