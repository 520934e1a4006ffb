package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arklim/auth-core/internal/core/port"
)

// incrementScript bumps the counter and arms its expiry when the key is new, so the window starts at the
// first hit. A key that somehow lost its TTL is re-armed instead of living forever.
var incrementScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// CounterStore implements port.CounterStore with Redis INCR and PEXPIRE executed atomically in a script.
type CounterStore struct {
	client *redis.Client
	prefix string
}

// NewCounterStore constructs a counter store namespaced under prefix.
func NewCounterStore(client *redis.Client, prefix string) *CounterStore {
	if prefix == "" {
		prefix = "auth:counter"
	}
	return &CounterStore{client: client, prefix: prefix}
}

// Increment adds one to the counter and returns the new value and the remaining window.
func (s *CounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	if ttl <= 0 {
		return 0, 0, errors.New("ttl must be positive")
	}

	res, err := incrementScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis incr counter: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("redis incr counter: unexpected reply length %d", len(res))
	}

	count, ok := res[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("redis incr counter: unexpected count type %T", res[0])
	}
	remaining, ok := res[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("redis incr counter: unexpected ttl type %T", res[1])
	}

	return count, time.Duration(remaining) * time.Millisecond, nil
}

// Reset deletes the counter.
func (s *CounterStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del counter: %w", err)
	}
	return nil
}

func (s *CounterStore) key(key string) string {
	return s.prefix + ":" + key
}

var _ port.CounterStore = (*CounterStore)(nil)
