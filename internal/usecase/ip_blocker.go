package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/infra/logger"
)

// DefaultIPBlockDuration applies when a block request leaves the duration empty.
const DefaultIPBlockDuration = time.Hour

// ErrIPBlocked indicates the client address is temporarily banned.
var ErrIPBlocked = errors.New("ip blocked")

// IPBlockedError carries the time left on the ban.
type IPBlockedError struct {
	RetryAfter time.Duration
}

func (e *IPBlockedError) Error() string {
	return fmt.Sprintf("ip blocked, retry after %s", e.RetryAfter)
}

// Is matches ErrIPBlocked.
func (e *IPBlockedError) Is(target error) bool {
	return target == ErrIPBlocked
}

// BlockIPRequest is an administrative ban.
type BlockIPRequest struct {
	IP       string
	Duration time.Duration
	Reason   string
	ActorIP  string
}

// IPBlocker bans client addresses for a while and turns them away at the credential entry points.
// A nil *IPBlocker admits everyone.
type IPBlocker struct {
	list            port.IPBlocklist
	events          *SecurityLogger
	logger          *zap.Logger
	defaultDuration time.Duration
	maxDuration     time.Duration
}

// NewIPBlocker constructs an IPBlocker over list.
func NewIPBlocker(list port.IPBlocklist, events *SecurityLogger, logger *zap.Logger) *IPBlocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IPBlocker{
		list:            list,
		events:          events,
		logger:          logger,
		defaultDuration: DefaultIPBlockDuration,
	}
}

// WithDurations overrides the default ban length and caps the longest one. A zero max leaves bans uncapped.
func (b *IPBlocker) WithDurations(defaultDuration, maxDuration time.Duration) *IPBlocker {
	if defaultDuration > 0 {
		b.defaultDuration = defaultDuration
	}
	if maxDuration > 0 {
		b.maxDuration = maxDuration
	}
	return b
}

// Block bans req.IP and records an ip_blocked event. It returns the applied duration.
func (b *IPBlocker) Block(ctx context.Context, req BlockIPRequest) (time.Duration, error) {
	ip := strings.TrimSpace(req.IP)
	if ip == "" || req.Duration < 0 {
		return 0, ErrInvalidRequest
	}
	duration := req.Duration
	if duration == 0 {
		duration = b.defaultDuration
	}
	if b.maxDuration > 0 && duration > b.maxDuration {
		return 0, fmt.Errorf("%w: duration exceeds %s", ErrInvalidRequest, b.maxDuration)
	}

	if err := b.list.Block(ctx, ip, duration); err != nil {
		return 0, unavailable("block ip", err)
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual"
	}
	b.events.Log(ctx, nil, domain.EventIPBlocked, domain.SeverityHigh, ip, map[string]any{
		"reason":           reason,
		"duration_minutes": int(duration / time.Minute),
		"actor_ip":         req.ActorIP,
	})
	logger.WithContext(ctx, b.logger).Warn("ip blocked",
		zap.String("ip", ip),
		zap.Duration("duration", duration),
		zap.String("reason", reason),
	)
	return duration, nil
}

// Unblock lifts a ban early.
func (b *IPBlocker) Unblock(ctx context.Context, ip string) error {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ErrInvalidRequest
	}
	if err := b.list.Unblock(ctx, ip); err != nil {
		return unavailable("unblock ip", err)
	}
	return nil
}

// Check fails with *IPBlockedError when ip is banned and records the attempt against action.
// Lookup faults fail closed.
func (b *IPBlocker) Check(ctx context.Context, ip, action string) error {
	if b == nil || ip == "" {
		return nil
	}
	remaining, err := b.list.BlockedFor(ctx, ip)
	if err != nil {
		return unavailable("check ip block", err)
	}
	if remaining <= 0 {
		return nil
	}
	b.events.Log(ctx, nil, domain.EventBlockedIPAttempt, domain.SeverityHigh, ip, map[string]any{
		"action": action,
	})
	return &IPBlockedError{RetryAfter: remaining}
}
