package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/repository"
)

const accountsTable = "auth.accounts"

var accountColumns = []string{
	"id",
	"email",
	"phone",
	"password_hash",
	"email_verified",
	"phone_verified",
	"failed_login_attempts",
	"locked_until",
	"last_login_ip",
	"two_factor_enabled",
	"created_at",
	"updated_at",
}

// registerFailureSQL increments the failure counter and arms the lock in one statement so concurrent
// failures on the same row serialise on the row lock. SET expressions see the pre-update row.
const registerFailureSQL = `
UPDATE auth.accounts
   SET failed_login_attempts = CASE
           WHEN locked_until IS NOT NULL AND locked_until <= $2::timestamptz THEN 1
           ELSE failed_login_attempts + 1
       END,
       locked_until = CASE
           WHEN locked_until IS NOT NULL AND locked_until > $2::timestamptz THEN locked_until
           WHEN (CASE
                     WHEN locked_until IS NOT NULL AND locked_until <= $2::timestamptz THEN 1
                     ELSE failed_login_attempts + 1
                 END) >= $3::int THEN $4::timestamptz
           ELSE NULL
       END,
       updated_at = $2::timestamptz
 WHERE id = $1
   AND deleted_at IS NULL
RETURNING failed_login_attempts, locked_until`

// AccountRepository implements port.AccountRepository backed by PostgreSQL.
type AccountRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccountRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	return &AccountRepository{exec: exec, builder: newBuilder()}
}

// GetByID fetches a live account by identifier.
func (r *AccountRepository) GetByID(ctx context.Context, accountID string) (*domain.Account, error) {
	return r.getBy(ctx, squirrel.Eq{"id": accountID})
}

// GetByEmail fetches a live account by email, case-insensitively.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getBy(ctx, squirrel.Expr("lower(email) = lower(?)", strings.TrimSpace(email)))
}

// GetByPhone fetches a live account by phone number.
func (r *AccountRepository) GetByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	return r.getBy(ctx, squirrel.Eq{"phone": strings.TrimSpace(phone)})
}

func (r *AccountRepository) getBy(ctx context.Context, pred any) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select(accountColumns...).
		From(accountsTable).
		Where(pred).
		Where("deleted_at IS NULL").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	account, err := scanAccount(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return account, nil
}

// RegisterFailure records a failed login and arms the lock when the threshold is reached.
func (r *AccountRepository) RegisterFailure(ctx context.Context, accountID string, threshold int, now, lockUntil time.Time) (domain.LockState, error) {
	var (
		state       domain.LockState
		lockedUntil sql.NullTime
	)
	err := r.exec.QueryRow(ctx, registerFailureSQL, accountID, now.UTC(), threshold, lockUntil.UTC()).
		Scan(&state.FailedAttempts, &lockedUntil)
	if err != nil {
		if isNoRows(err) {
			return domain.LockState{}, repository.ErrNotFound
		}
		return domain.LockState{}, fmt.Errorf("register login failure: %w", err)
	}
	state.LockedUntil = nullableTimePtr(lockedUntil)
	return state, nil
}

// ResetFailures zeroes the failure counter, clears any lock and records the login IP.
func (r *AccountRepository) ResetFailures(ctx context.Context, accountID string, lastLoginIP *string, at time.Time) error {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("failed_login_attempts", 0).
		Set("locked_until", nil).
		Set("last_login_ip", squirrel.Expr("COALESCE(?, last_login_ip)", optionalString(lastLoginIP))).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": accountID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reset failures sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ClearExpiredLock removes a lock whose deadline has passed and restarts the failure count.
func (r *AccountRepository) ClearExpiredLock(ctx context.Context, accountID string, now time.Time) (bool, error) {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("failed_login_attempts", 0).
		Set("locked_until", nil).
		Set("updated_at", now.UTC()).
		Where(squirrel.Eq{"id": accountID}).
		Where(squirrel.NotEq{"locked_until": nil}).
		Where(squirrel.LtOrEq{"locked_until": now.UTC()}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build clear lock sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("clear expired lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdatePassword stores a new password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, accountID, passwordHash string, at time.Time) error {
	stmt, args, err := r.builder.
		Update(accountsTable).
		Set("password_hash", passwordHash).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": accountID}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build update password sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkContactVerified sets the verified flag matching the channel.
func (r *AccountRepository) MarkContactVerified(ctx context.Context, accountID string, channel domain.Channel, at time.Time) error {
	column := ""
	switch channel {
	case domain.ChannelEmail:
		column = "email_verified"
	case domain.ChannelSMS:
		column = "phone_verified"
	default:
		return fmt.Errorf("unsupported channel %q", channel)
	}

	stmt, args, err := r.builder.
		Update(accountsTable).
		Set(column, true).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": accountID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark verified sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark contact verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account     domain.Account
		email       sql.NullString
		phone       sql.NullString
		lockedUntil sql.NullTime
		lastLoginIP sql.NullString
	)

	if err := row.Scan(
		&account.ID,
		&email,
		&phone,
		&account.PasswordHash,
		&account.EmailVerified,
		&account.PhoneVerified,
		&account.FailedLoginAttempts,
		&lockedUntil,
		&lastLoginIP,
		&account.TwoFactorEnabled,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	account.Email = nullableStringPtr(email)
	account.Phone = nullableStringPtr(phone)
	account.LockedUntil = nullableTimePtr(lockedUntil)
	account.LastLoginIP = nullableStringPtr(lastLoginIP)
	return &account, nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
