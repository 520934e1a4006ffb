package port

import (
	"context"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
)

// SecurityEventCount is one row of an aggregated event histogram.
type SecurityEventCount struct {
	EventType domain.EventType
	Severity  domain.Severity
	Count     int
}

// SecurityEventRepository is the append-only audit store.
type SecurityEventRepository interface {
	Append(ctx context.Context, event domain.SecurityEvent) error
	CountByAccountSince(ctx context.Context, accountID string, since time.Time) ([]SecurityEventCount, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
