package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arklim/auth-core/internal/core/port"
)

// IPBlocklist implements port.IPBlocklist with one expiring key per banned address.
type IPBlocklist struct {
	client *redis.Client
	prefix string
}

// NewIPBlocklist constructs a blocklist namespaced under prefix.
func NewIPBlocklist(client *redis.Client, prefix string) *IPBlocklist {
	if prefix == "" {
		prefix = "auth:ip:blocked"
	}
	return &IPBlocklist{client: client, prefix: prefix}
}

func (b *IPBlocklist) key(ip string) string {
	return b.prefix + ":" + ip
}

// Block stores the ban with a PX expiry so Redis drops it when it lapses.
func (b *IPBlocklist) Block(ctx context.Context, ip string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redis block ip: ttl must be positive")
	}
	if err := b.client.Set(ctx, b.key(ip), 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis block ip: %w", err)
	}
	return nil
}

// BlockedFor reads the remaining ban via PTTL. Missing keys report -2 and keys without expiry -1; both count as not blocked.
func (b *IPBlocklist) BlockedFor(ctx context.Context, ip string) (time.Duration, error) {
	remaining, err := b.client.PTTL(ctx, b.key(ip)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis pttl ip block: %w", err)
	}
	if remaining <= 0 {
		return 0, nil
	}
	return remaining, nil
}

func (b *IPBlocklist) Unblock(ctx context.Context, ip string) error {
	if err := b.client.Del(ctx, b.key(ip)).Err(); err != nil {
		return fmt.Errorf("redis unblock ip: %w", err)
	}
	return nil
}

var _ port.IPBlocklist = (*IPBlocklist)(nil)
