package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
)

// SecurityEventRepository is an in-process append-only port.SecurityEventRepository.
type SecurityEventRepository struct {
	mu     sync.RWMutex
	events []domain.SecurityEvent
}

// NewSecurityEventRepository constructs an empty repository.
func NewSecurityEventRepository() *SecurityEventRepository {
	return &SecurityEventRepository{}
}

// Append stores the event.
func (r *SecurityEventRepository) Append(_ context.Context, event domain.SecurityEvent) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

// Events returns a snapshot of every stored event in insertion order.
func (r *SecurityEventRepository) Events() []domain.SecurityEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SecurityEvent, len(r.events))
	copy(out, r.events)
	return out
}

// CountByAccountSince groups the account's events since the given moment by type and severity.
func (r *SecurityEventRepository) CountByAccountSince(_ context.Context, accountID string, since time.Time) ([]port.SecurityEventCount, error) {
	type bucket struct {
		eventType domain.EventType
		severity  domain.Severity
	}

	r.mu.RLock()
	counts := make(map[bucket]int)
	for _, event := range r.events {
		if event.AccountID == nil || *event.AccountID != accountID || event.CreatedAt.Before(since) {
			continue
		}
		counts[bucket{event.EventType, event.Severity}]++
	}
	r.mu.RUnlock()

	result := make([]port.SecurityEventCount, 0, len(counts))
	for b, n := range counts {
		result = append(result, port.SecurityEventCount{EventType: b.eventType, Severity: b.severity, Count: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].EventType == result[j].EventType {
			return result[i].Severity < result[j].Severity
		}
		return result[i].EventType < result[j].EventType
	})
	return result, nil
}

// DeleteOlderThan enforces the retention window.
func (r *SecurityEventRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	var deleted int64
	for _, event := range r.events {
		if event.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, event)
	}
	r.events = kept
	return deleted, nil
}

var _ port.SecurityEventRepository = (*SecurityEventRepository)(nil)
