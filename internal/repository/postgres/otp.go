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

const otpTable = "auth.otp_challenges"

var otpColumns = []string{
	"id",
	"account_id",
	"contact_info",
	"delivery_method",
	"purpose",
	"code_hash",
	"created_at",
	"expires_at",
	"attempts",
	"used",
	"requester_ip",
}

// OtpRepository implements port.OtpRepository backed by PostgreSQL.
type OtpRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewOtpRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewOtpRepository(exec pgExecutor) *OtpRepository {
	return &OtpRepository{exec: exec, builder: newBuilder()}
}

// Create inserts a freshly issued challenge.
func (r *OtpRepository) Create(ctx context.Context, challenge domain.OtpChallenge) error {
	stmt, args, err := r.builder.
		Insert(otpTable).
		Columns(otpColumns...).
		Values(
			challenge.ID,
			optionalString(challenge.AccountID),
			challenge.ContactInfo,
			string(challenge.DeliveryMethod),
			string(challenge.Purpose),
			challenge.CodeHash,
			challenge.CreatedAt.UTC(),
			challenge.ExpiresAt.UTC(),
			challenge.Attempts,
			challenge.Used,
			optionalString(challenge.RequesterIP),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert otp sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert otp challenge: %w", translateWriteError(err))
	}
	return nil
}

// GetByID fetches a challenge by identifier.
func (r *OtpRepository) GetByID(ctx context.Context, challengeID string) (*domain.OtpChallenge, error) {
	stmt, args, err := r.builder.
		Select(otpColumns...).
		From(otpTable).
		Where(squirrel.Eq{"id": challengeID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select otp sql: %w", err)
	}

	challenge, err := scanOtpChallenge(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan otp challenge: %w", err)
	}
	return challenge, nil
}

// LatestActive returns the newest unused challenge for the contact and purpose.
func (r *OtpRepository) LatestActive(ctx context.Context, contact string, purpose domain.OtpPurpose) (*domain.OtpChallenge, error) {
	stmt, args, err := r.builder.
		Select(otpColumns...).
		From(otpTable).
		Where(squirrel.Eq{
			"contact_info": contact,
			"purpose":      string(purpose),
			"used":         false,
		}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select latest otp sql: %w", err)
	}

	challenge, err := scanOtpChallenge(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan otp challenge: %w", err)
	}
	return challenge, nil
}

// SupersedeActive retires every outstanding challenge for the contact and purpose.
func (r *OtpRepository) SupersedeActive(ctx context.Context, contact string, purpose domain.OtpPurpose) (int, error) {
	stmt, args, err := r.builder.
		Update(otpTable).
		Set("used", true).
		Where(squirrel.Eq{
			"contact_info": contact,
			"purpose":      string(purpose),
			"used":         false,
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build supersede otp sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("supersede otp challenges: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// IncrementAttempts atomically records one verification attempt while the challenge is open.
func (r *OtpRepository) IncrementAttempts(ctx context.Context, challengeID string, maxAttempts int) (int, error) {
	stmt, args, err := r.builder.
		Update(otpTable).
		Set("attempts", squirrel.Expr("attempts + 1")).
		Where(squirrel.Eq{"id": challengeID, "used": false}).
		Where(squirrel.Lt{"attempts": maxAttempts}).
		Suffix("RETURNING attempts").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build increment attempts sql: %w", err)
	}

	var attempts int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&attempts); err != nil {
		if isNoRows(err) {
			return 0, repository.ErrConflict
		}
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	return attempts, nil
}

// MarkUsed consumes the challenge. Only the first caller observes true.
func (r *OtpRepository) MarkUsed(ctx context.Context, challengeID string) (bool, error) {
	stmt, args, err := r.builder.
		Update(otpTable).
		Set("used", true).
		Where(squirrel.Eq{"id": challengeID, "used": false}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build mark otp used sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("mark otp used: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpiredBefore purges challenges that expired before the cutoff.
func (r *OtpRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	stmt, args, err := r.builder.
		Delete(otpTable).
		Where(squirrel.Lt{"expires_at": cutoff.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete expired otp sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired otp challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOtpChallenge(row pgx.Row) (*domain.OtpChallenge, error) {
	var (
		challenge   domain.OtpChallenge
		accountID   sql.NullString
		method      string
		purpose     string
		requesterIP sql.NullString
	)

	if err := row.Scan(
		&challenge.ID,
		&accountID,
		&challenge.ContactInfo,
		&method,
		&purpose,
		&challenge.CodeHash,
		&challenge.CreatedAt,
		&challenge.ExpiresAt,
		&challenge.Attempts,
		&challenge.Used,
		&requesterIP,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	challenge.AccountID = nullableStringPtr(accountID)
	challenge.DeliveryMethod = domain.Channel(method)
	challenge.Purpose = domain.OtpPurpose(purpose)
	challenge.RequesterIP = nullableStringPtr(requesterIP)
	return &challenge, nil
}

var _ port.OtpRepository = (*OtpRepository)(nil)
