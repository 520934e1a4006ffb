package port

import (
	"context"
	"time"
)

// CounterStore is a shared counter keyed by string with per-key expiry.
type CounterStore interface {
	// Increment atomically adds one to key and returns the new value with the time left before the key expires.
	// The TTL is applied only when the increment creates the key.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)
	// Reset atomically removes the key.
	Reset(ctx context.Context, key string) error
}

// ActivityThrottle admits at most one caller per key within the interval.
type ActivityThrottle interface {
	Acquire(ctx context.Context, key string, interval time.Duration) (bool, error)
}
