package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
)

const securityEventsTable = "auth.security_events"

// SecurityEventRepository implements port.SecurityEventRepository backed by PostgreSQL. Rows are insert-only.
type SecurityEventRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSecurityEventRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSecurityEventRepository(exec pgExecutor) *SecurityEventRepository {
	return &SecurityEventRepository{exec: exec, builder: newBuilder()}
}

// Append inserts the event.
func (r *SecurityEventRepository) Append(ctx context.Context, event domain.SecurityEvent) error {
	details, err := marshalEventDetails(event.Details)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.
		Insert(securityEventsTable).
		Columns("id", "account_id", "event_type", "severity", "ip_address", "created_at", "details").
		Values(
			event.ID,
			optionalString(event.AccountID),
			string(event.EventType),
			string(event.Severity),
			optionalString(event.IPAddress),
			event.CreatedAt.UTC(),
			details,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert security event sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// CountByAccountSince groups the account's events since the given moment by type and severity.
func (r *SecurityEventRepository) CountByAccountSince(ctx context.Context, accountID string, since time.Time) ([]port.SecurityEventCount, error) {
	stmt, args, err := r.builder.
		Select("event_type", "severity", "COUNT(*)").
		From(securityEventsTable).
		Where(squirrel.Eq{"account_id": accountID}).
		Where(squirrel.GtOrEq{"created_at": since.UTC()}).
		GroupBy("event_type", "severity").
		OrderBy("event_type", "severity").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count security events sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	counts := make([]port.SecurityEventCount, 0)
	for rows.Next() {
		var (
			eventType string
			severity  string
			count     int
		)
		if err := rows.Scan(&eventType, &severity, &count); err != nil {
			return nil, fmt.Errorf("scan security event count: %w", err)
		}
		counts = append(counts, port.SecurityEventCount{
			EventType: domain.EventType(eventType),
			Severity:  domain.Severity(severity),
			Count:     count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security event counts: %w", err)
	}
	return counts, nil
}

// DeleteOlderThan enforces the retention window.
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	stmt, args, err := r.builder.
		Delete(securityEventsTable).
		Where(squirrel.Lt{"created_at": cutoff.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete security events sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete security events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func marshalEventDetails(details map[string]any) ([]byte, error) {
	if len(details) == 0 {
		return []byte("{}"), nil
	}

	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal security event details: %w", err)
	}
	return payload, nil
}

var _ port.SecurityEventRepository = (*SecurityEventRepository)(nil)
