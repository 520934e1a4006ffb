package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/repository"
)

const resetTokensTable = "auth.password_reset_tokens"

var resetTokenColumns = []string{
	"id",
	"account_id",
	"token_hash",
	"created_at",
	"expires_at",
	"used",
	"requester_ip",
}

// PasswordResetTokenRepository implements port.PasswordResetTokenRepository backed by PostgreSQL.
type PasswordResetTokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewPasswordResetTokenRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewPasswordResetTokenRepository(exec pgExecutor) *PasswordResetTokenRepository {
	return &PasswordResetTokenRepository{exec: exec, builder: newBuilder()}
}

// Create persists a new reset token.
func (r *PasswordResetTokenRepository) Create(ctx context.Context, token domain.PasswordResetToken) error {
	stmt, args, err := r.builder.
		Insert(resetTokensTable).
		Columns(resetTokenColumns...).
		Values(
			token.ID,
			token.AccountID,
			token.TokenHash,
			token.CreatedAt.UTC(),
			token.ExpiresAt.UTC(),
			token.Used,
			optionalString(token.RequesterIP),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert reset token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert reset token: %w", translateWriteError(err))
	}
	return nil
}

// GetByHash looks a token up by the hash of its opaque value.
func (r *PasswordResetTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.PasswordResetToken, error) {
	return r.getOne(ctx, r.builder.
		Select(resetTokenColumns...).
		From(resetTokensTable).
		Where(squirrel.Eq{"token_hash": tokenHash}).
		Limit(1))
}

// LatestForAccount returns the newest token issued to the account.
func (r *PasswordResetTokenRepository) LatestForAccount(ctx context.Context, accountID string) (*domain.PasswordResetToken, error) {
	return r.getOne(ctx, r.builder.
		Select(resetTokenColumns...).
		From(resetTokensTable).
		Where(squirrel.Eq{"account_id": accountID}).
		OrderBy("created_at DESC").
		Limit(1))
}

func (r *PasswordResetTokenRepository) getOne(ctx context.Context, query squirrel.SelectBuilder) (*domain.PasswordResetToken, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select reset token sql: %w", err)
	}

	var (
		token       domain.PasswordResetToken
		requesterIP sql.NullString
	)
	err = r.exec.QueryRow(ctx, stmt, args...).Scan(
		&token.ID,
		&token.AccountID,
		&token.TokenHash,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.Used,
		&requesterIP,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan reset token: %w", err)
	}
	token.RequesterIP = nullableStringPtr(requesterIP)
	return &token, nil
}

// MarkUsed consumes the token. Only the first caller observes true.
func (r *PasswordResetTokenRepository) MarkUsed(ctx context.Context, tokenID string) (bool, error) {
	stmt, args, err := r.builder.
		Update(resetTokensTable).
		Set("used", true).
		Where(squirrel.Eq{"id": tokenID, "used": false}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build mark reset token used sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("mark reset token used: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpiredBefore purges tokens that expired before the cutoff.
func (r *PasswordResetTokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	stmt, args, err := r.builder.
		Delete(resetTokensTable).
		Where(squirrel.Lt{"expires_at": cutoff.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete reset tokens sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired reset tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ port.PasswordResetTokenRepository = (*PasswordResetTokenRepository)(nil)
