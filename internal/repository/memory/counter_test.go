package memory

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCounterStoreWindow(t *testing.T) {
	now := time.Date(2025, 10, 24, 10, 0, 0, 0, time.UTC)
	store := NewCounterStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	count, remaining, err := store.Increment(ctx, "login:user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Increment returned error: %v", err)
	}
	if count != 1 || remaining != time.Hour {
		t.Fatalf("expected first hit with full window, got count=%d remaining=%s", count, remaining)
	}

	now = now.Add(20 * time.Minute)
	count, remaining, _ = store.Increment(ctx, "login:user@example.com", time.Hour)
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if remaining != 40*time.Minute {
		t.Fatalf("window must not be extended by later hits, remaining=%s", remaining)
	}

	now = now.Add(40 * time.Minute)
	count, _, _ = store.Increment(ctx, "login:user@example.com", time.Hour)
	if count != 1 {
		t.Fatalf("expected a fresh window after expiry, got %d", count)
	}
}

func TestCounterStoreResetAndSweep(t *testing.T) {
	now := time.Date(2025, 10, 24, 10, 0, 0, 0, time.UTC)
	store := NewCounterStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, _, _ = store.Increment(ctx, "a", time.Minute)
	_, _, _ = store.Increment(ctx, "a", time.Minute)
	if err := store.Reset(ctx, "a"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if count, _, _ := store.Increment(ctx, "a", time.Minute); count != 1 {
		t.Fatalf("expected counter to restart after reset, got %d", count)
	}

	_, _, _ = store.Increment(ctx, "b", time.Hour)
	now = now.Add(2 * time.Minute)
	if removed := store.Sweep(); removed != 1 {
		t.Fatalf("expected one expired entry swept, got %d", removed)
	}
}

func TestCounterStoreRejectsZeroTTL(t *testing.T) {
	if _, _, err := NewCounterStore().Increment(context.Background(), "k", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestCounterStoreConcurrentIncrements(t *testing.T) {
	store := NewCounterStore()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _, _ = store.Increment(ctx, "otp:+989123456789", time.Hour)
		}()
	}
	wg.Wait()

	count, _, _ := store.Increment(ctx, "otp:+989123456789", time.Hour)
	if count != workers+1 {
		t.Fatalf("expected %d, got %d", workers+1, count)
	}
}

func TestActivityThrottleAdmitsOncePerInterval(t *testing.T) {
	now := time.Date(2025, 10, 24, 10, 0, 0, 0, time.UTC)
	throttle := NewActivityThrottle().WithClock(func() time.Time { return now })
	ctx := context.Background()

	if ok, _ := throttle.Acquire(ctx, "sess-1", time.Minute); !ok {
		t.Fatalf("expected first acquire to succeed")
	}
	if ok, _ := throttle.Acquire(ctx, "sess-1", time.Minute); ok {
		t.Fatalf("expected second acquire within interval to fail")
	}
	now = now.Add(time.Minute)
	if ok, _ := throttle.Acquire(ctx, "sess-1", time.Minute); !ok {
		t.Fatalf("expected acquire after interval to succeed")
	}
}

func TestCounterStoreIncrementSkipsRemovedEntry(t *testing.T) {
	store := NewCounterStore()
	ctx := context.Background()

	_, _, _ = store.Increment(ctx, "login:10.0.0.1", time.Hour)
	stale := store.entry("login:10.0.0.1")
	if err := store.Reset(ctx, "login:10.0.0.1"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}

	// An increment that looked the entry up before the reset must not count into the dropped entry.
	if _, _, ok := store.incrementEntry(stale, time.Hour); ok {
		t.Fatalf("expected increment on a reset entry to be rejected")
	}
	for want := int64(1); want <= 3; want++ {
		if count, _, _ := store.Increment(ctx, "login:10.0.0.1", time.Hour); count != want {
			t.Fatalf("expected count %d after reset, got %d", want, count)
		}
	}
}

func TestCounterStoreSweepRetiresEntries(t *testing.T) {
	now := time.Date(2025, 10, 24, 10, 0, 0, 0, time.UTC)
	store := NewCounterStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, _, _ = store.Increment(ctx, "otp:+989123456789", time.Minute)
	stale := store.entry("otp:+989123456789")
	now = now.Add(time.Minute)
	if removed := store.Sweep(); removed != 1 {
		t.Fatalf("expected one entry swept, got %d", removed)
	}
	if _, _, ok := store.incrementEntry(stale, time.Minute); ok {
		t.Fatalf("expected increment on a swept entry to be rejected")
	}
	if count, _, _ := store.Increment(ctx, "otp:+989123456789", time.Minute); count != 1 {
		t.Fatalf("expected fresh window after sweep, got %d", count)
	}
}

func TestCounterStoreConcurrentIncrementsWithResets(t *testing.T) {
	store := NewCounterStore()
	ctx := context.Background()

	const workers = 40
	var wg sync.WaitGroup
	wg.Add(workers * 2)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _, _ = store.Increment(ctx, "otp:contact", time.Hour)
		}()
		go func() {
			defer wg.Done()
			_ = store.Reset(ctx, "otp:other")
		}()
	}
	wg.Wait()

	if count, _, _ := store.Increment(ctx, "otp:contact", time.Hour); count != workers+1 {
		t.Fatalf("expected %d, got %d", workers+1, count)
	}
}

func TestActivityThrottleSweep(t *testing.T) {
	now := time.Date(2025, 10, 24, 10, 0, 0, 0, time.UTC)
	throttle := NewActivityThrottle().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, _ = throttle.Acquire(ctx, "sess-1", time.Minute)
	_, _ = throttle.Acquire(ctx, "sess-2", time.Hour)
	now = now.Add(2 * time.Minute)

	if removed := throttle.Sweep(); removed != 1 {
		t.Fatalf("expected one elapsed slot swept, got %d", removed)
	}
	if ok, _ := throttle.Acquire(ctx, "sess-2", time.Hour); ok {
		t.Fatalf("live slot must survive the sweep")
	}
	if ok, _ := throttle.Acquire(ctx, "sess-1", time.Minute); !ok {
		t.Fatalf("swept slot must be acquirable again")
	}
}
