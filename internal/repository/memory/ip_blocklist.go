package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arklim/auth-core/internal/core/port"
)

// IPBlocklist is an in-process port.IPBlocklist. Lapsed bans are ignored on read and dropped by Sweep.
type IPBlocklist struct {
	mu     sync.Mutex
	blocks map[string]time.Time
	now    func() time.Time
}

// NewIPBlocklist constructs an empty blocklist.
func NewIPBlocklist() *IPBlocklist {
	return &IPBlocklist{
		blocks: make(map[string]time.Time),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (b *IPBlocklist) WithClock(clock func() time.Time) *IPBlocklist {
	if clock != nil {
		b.now = clock
	}
	return b
}

func (b *IPBlocklist) Block(_ context.Context, ip string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("memory block ip: ttl must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.blocks[ip] = b.now().Add(ttl)
	return nil
}

func (b *IPBlocklist) BlockedFor(_ context.Context, ip string) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.blocks[ip]
	if !ok {
		return 0, nil
	}
	remaining := until.Sub(b.now())
	if remaining <= 0 {
		return 0, nil
	}
	return remaining, nil
}

func (b *IPBlocklist) Unblock(_ context.Context, ip string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.blocks, ip)
	return nil
}

// Sweep drops lapsed bans and reports how many were removed.
func (b *IPBlocklist) Sweep() int {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for ip, until := range b.blocks {
		if !now.Before(until) {
			delete(b.blocks, ip)
			removed++
		}
	}
	return removed
}

var _ port.IPBlocklist = (*IPBlocklist)(nil)
