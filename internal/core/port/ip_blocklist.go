package port

import (
	"context"
	"time"
)

// IPBlocklist holds temporary bans keyed by client IP. Entries expire on their own.
type IPBlocklist interface {
	// Block bans ip for ttl, replacing any earlier ban.
	Block(ctx context.Context, ip string, ttl time.Duration) error
	// BlockedFor returns the time left on the ban for ip, or zero when ip is not blocked.
	BlockedFor(ctx context.Context, ip string) (time.Duration, error)
	Unblock(ctx context.Context, ip string) error
}
