package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arklim/auth-core/internal/core/port"
)

type counterEntry struct {
	mu        sync.Mutex
	value     int64
	expiresAt time.Time
	// removed is set under mu, while the map lock is held, when the entry leaves the map.
	removed bool
}

// CounterStore is an in-process port.CounterStore. The map lock only guards entry lookup; each entry carries
// its own mutex so unrelated keys never contend. Lock order is map lock, then entry lock.
type CounterStore struct {
	mu      sync.Mutex
	entries map[string]*counterEntry
	now     func() time.Time
}

// NewCounterStore constructs an empty counter store.
func NewCounterStore() *CounterStore {
	return &CounterStore{
		entries: make(map[string]*counterEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *CounterStore) WithClock(clock func() time.Time) *CounterStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *CounterStore) entry(key string) *counterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &counterEntry{}
		s.entries[key] = e
	}
	return e
}

// Increment adds one to the counter, starting a new window when the previous one elapsed.
func (s *CounterStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	if ttl <= 0 {
		return 0, 0, errors.New("ttl must be positive")
	}

	for {
		if count, remaining, ok := s.incrementEntry(s.entry(key), ttl); ok {
			return count, remaining, nil
		}
	}
}

// incrementEntry bumps e unless a concurrent Reset or Sweep removed it after lookup, in which case the caller
// looks the key up again.
func (s *CounterStore) incrementEntry(e *counterEntry, ttl time.Duration) (int64, time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return 0, 0, false
	}

	now := s.now()
	if e.value == 0 || !now.Before(e.expiresAt) {
		e.value = 0
		e.expiresAt = now.Add(ttl)
	}
	e.value++
	return e.value, e.expiresAt.Sub(now), true
}

// Reset drops the counter.
func (s *CounterStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
		delete(s.entries, key)
	}
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (s *CounterStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.entries {
		e.mu.Lock()
		expired := !now.Before(e.expiresAt)
		if expired {
			e.removed = true
		}
		e.mu.Unlock()
		if expired {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// ActivityThrottle is an in-process port.ActivityThrottle.
type ActivityThrottle struct {
	mu    sync.Mutex
	slots map[string]time.Time
	now   func() time.Time
}

// NewActivityThrottle constructs an empty throttle.
func NewActivityThrottle() *ActivityThrottle {
	return &ActivityThrottle{
		slots: make(map[string]time.Time),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (t *ActivityThrottle) WithClock(clock func() time.Time) *ActivityThrottle {
	if clock != nil {
		t.now = clock
	}
	return t
}

// Acquire reports whether the caller holds the slot for key during interval.
func (t *ActivityThrottle) Acquire(_ context.Context, key string, interval time.Duration) (bool, error) {
	if interval <= 0 {
		return true, nil
	}
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if until, ok := t.slots[key]; ok && now.Before(until) {
		return false, nil
	}
	t.slots[key] = now.Add(interval)
	return true, nil
}

// Sweep drops slots whose interval elapsed and returns how many were removed.
func (t *ActivityThrottle) Sweep() int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for key, until := range t.slots {
		if !now.Before(until) {
			delete(t.slots, key)
			removed++
		}
	}
	return removed
}

var (
	_ port.CounterStore     = (*CounterStore)(nil)
	_ port.ActivityThrottle = (*ActivityThrottle)(nil)
)
