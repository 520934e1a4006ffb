package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/repository"
)

const sessionsTable = "auth.sessions"

var sessionColumns = []string{
	"id",
	"account_id",
	"session_key",
	"ip_address",
	"user_agent",
	"location",
	"created_at",
	"last_activity",
	"is_active",
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{exec: exec, builder: newBuilder()}
}

// Create persists a new session. A session_key collision surfaces as repository.ErrDuplicate.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	stmt, args, err := r.builder.
		Insert(sessionsTable).
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.AccountID,
			session.SessionKey,
			optionalString(session.IPAddress),
			optionalString(session.UserAgent),
			optionalString(session.Location),
			session.CreatedAt.UTC(),
			session.LastActivity.UTC(),
			session.IsActive,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert session: %w", translateWriteError(err))
	}
	return nil
}

// GetByID fetches a session by its identifier.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	return r.getBy(ctx, squirrel.Eq{"id": sessionID})
}

// GetByKey fetches a session by its opaque key.
func (r *SessionRepository) GetByKey(ctx context.Context, sessionKey string) (*domain.Session, error) {
	return r.getBy(ctx, squirrel.Eq{"session_key": sessionKey})
}

func (r *SessionRepository) getBy(ctx context.Context, pred squirrel.Eq) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From(sessionsTable).
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	session, err := scanSession(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return session, nil
}

// ListActiveByAccount returns active sessions of the account, newest first.
func (r *SessionRepository) ListActiveByAccount(ctx context.Context, accountID string) ([]domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From(sessionsTable).
		Where(squirrel.Eq{"account_id": accountID, "is_active": true}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// CountActiveByAccount counts active sessions of the account.
func (r *SessionRepository) CountActiveByAccount(ctx context.Context, accountID string) (int, error) {
	stmt, args, err := r.builder.
		Select("COUNT(*)").
		From(sessionsTable).
		Where(squirrel.Eq{"account_id": accountID, "is_active": true}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count sessions sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// Touch refreshes last_activity for an active session.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	stmt, args, err := r.builder.
		Update(sessionsTable).
		Set("last_activity", at.UTC()).
		Where(squirrel.Eq{"id": sessionID, "is_active": true}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build touch session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("touch session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Deactivate ends an active session. Inactive rows are never modified.
func (r *SessionRepository) Deactivate(ctx context.Context, sessionID string) (bool, error) {
	stmt, args, err := r.builder.
		Update(sessionsTable).
		Set("is_active", false).
		Where(squirrel.Eq{"id": sessionID, "is_active": true}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build deactivate session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("deactivate session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeactivateAllForAccount ends every active session of the account except the optional survivor.
func (r *SessionRepository) DeactivateAllForAccount(ctx context.Context, accountID string, exceptSessionID *string) (int, error) {
	query := r.builder.
		Update(sessionsTable).
		Set("is_active", false).
		Where(squirrel.Eq{"account_id": accountID, "is_active": true})
	if exceptSessionID != nil && *exceptSessionID != "" {
		query = query.Where(squirrel.NotEq{"id": *exceptSessionID})
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build deactivate sessions sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("deactivate sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		session   domain.Session
		ipAddress sql.NullString
		userAgent sql.NullString
		location  sql.NullString
	)

	if err := row.Scan(
		&session.ID,
		&session.AccountID,
		&session.SessionKey,
		&ipAddress,
		&userAgent,
		&location,
		&session.CreatedAt,
		&session.LastActivity,
		&session.IsActive,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	session.IPAddress = nullableStringPtr(ipAddress)
	session.UserAgent = nullableStringPtr(userAgent)
	session.Location = nullableStringPtr(location)
	return &session, nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
