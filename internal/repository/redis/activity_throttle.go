package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arklim/auth-core/internal/core/port"
)

// ActivityThrottle implements port.ActivityThrottle with SET NX PX so only one caller per interval wins.
type ActivityThrottle struct {
	client *redis.Client
	prefix string
}

// NewActivityThrottle constructs a throttle namespaced under prefix.
func NewActivityThrottle(client *redis.Client, prefix string) *ActivityThrottle {
	if prefix == "" {
		prefix = "auth:session:touch"
	}
	return &ActivityThrottle{client: client, prefix: prefix}
}

// Acquire reports whether the caller holds the slot for key during interval.
func (t *ActivityThrottle) Acquire(ctx context.Context, key string, interval time.Duration) (bool, error) {
	if interval <= 0 {
		return true, nil
	}
	ok, err := t.client.SetNX(ctx, t.prefix+":"+key, 1, interval).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx throttle: %w", err)
	}
	return ok, nil
}

var _ port.ActivityThrottle = (*ActivityThrottle)(nil)
