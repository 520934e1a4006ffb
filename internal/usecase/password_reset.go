package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/infra/logger"
	"github.com/arklim/auth-core/internal/infra/security"
	"github.com/arklim/auth-core/internal/repository"
)

// PasswordResetConfig controls reset token issuance.
type PasswordResetConfig struct {
	TokenTTL        time.Duration
	TokenBytes      int
	LinkBase        string
	DeliveryTimeout time.Duration
}

// DefaultPasswordResetConfig returns one hour tokens of 32 random bytes.
func DefaultPasswordResetConfig() PasswordResetConfig {
	return PasswordResetConfig{
		TokenTTL:        time.Hour,
		TokenBytes:      32,
		LinkBase:        "https://example.com/reset-password",
		DeliveryTimeout: 5 * time.Second,
	}
}

// PasswordResetRequest starts a reset for an email or phone identifier.
type PasswordResetRequest struct {
	Identifier string
	IP         string
	UserAgent  string
}

// ConfirmPasswordResetRequest consumes a token and sets the new password.
type ConfirmPasswordResetRequest struct {
	Token       string
	NewPassword string
	IP          string
}

// PasswordResetService issues and redeems password reset tokens.
type PasswordResetService struct {
	accounts port.AccountRepository
	tokens   port.PasswordResetTokenRepository
	hasher   port.PasswordHasher
	policy   port.PasswordPolicyValidator
	delivery port.DeliveryGateway
	limiter  *RateLimiter
	lockout  *LockoutGuard
	sessions *SessionManager
	events   *SecurityLogger
	blocker  *IPBlocker
	alerts   *SecurityAlerter
	cfg      PasswordResetConfig
	logger   *zap.Logger
	now      func() time.Time
	newToken func(byteLength int) (string, error)
}

// NewPasswordResetService constructs a PasswordResetService.
func NewPasswordResetService(
	accounts port.AccountRepository,
	tokens port.PasswordResetTokenRepository,
	hasher port.PasswordHasher,
	policy port.PasswordPolicyValidator,
	delivery port.DeliveryGateway,
	limiter *RateLimiter,
	lockout *LockoutGuard,
	sessions *SessionManager,
	events *SecurityLogger,
	cfg PasswordResetConfig,
	logger *zap.Logger,
) *PasswordResetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultPasswordResetConfig()
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaults.TokenTTL
	}
	if cfg.TokenBytes <= 0 {
		cfg.TokenBytes = defaults.TokenBytes
	}
	if cfg.LinkBase == "" {
		cfg.LinkBase = defaults.LinkBase
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaults.DeliveryTimeout
	}
	service := &PasswordResetService{
		accounts: accounts,
		tokens:   tokens,
		hasher:   hasher,
		policy:   policy,
		delivery: delivery,
		limiter:  limiter,
		lockout:  lockout,
		sessions: sessions,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		newToken: security.GenerateSecureToken,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *PasswordResetService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithTokenGenerator replaces the random token source.
func (s *PasswordResetService) WithTokenGenerator(generate func(byteLength int) (string, error)) {
	if generate != nil {
		s.newToken = generate
	}
}

// WithIPBlocker turns banned client addresses away before a reset starts or completes.
func (s *PasswordResetService) WithIPBlocker(blocker *IPBlocker) *PasswordResetService {
	s.blocker = blocker
	return s
}

// WithAlerts mails the account owner once the password has changed.
func (s *PasswordResetService) WithAlerts(alerts *SecurityAlerter) *PasswordResetService {
	s.alerts = alerts
	return s
}

// RequestReset issues a token and sends the reset link to the account's email, falling back to SMS.
// Unknown identifiers succeed without sending anything, and a failed delivery for a known account is
// only logged so both cases answer the same.
func (s *PasswordResetService) RequestReset(ctx context.Context, req PasswordResetRequest) error {
	identifier := NormalizeContact(req.Identifier)
	if identifier == "" {
		return ErrInvalidRequest
	}
	log := logger.WithContext(ctx, s.logger).With(zap.String("identifier", logger.MaskContact(identifier)))

	if err := s.blocker.Check(ctx, req.IP, ActionPasswordReset); err != nil {
		return err
	}
	if err := s.limiter.Enforce(ctx, ActionPasswordReset, nil, req.IP,
		RateScope{Name: "identifier", Identity: identifier},
		RateScope{Name: "ip", Identity: req.IP},
	); err != nil {
		return err
	}

	account, err := retryStore(ctx, "load account", func(ctx context.Context) (*domain.Account, error) {
		if strings.Contains(identifier, "@") {
			return s.accounts.GetByEmail(ctx, identifier)
		}
		return s.accounts.GetByPhone(ctx, identifier)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Debug("password reset requested for unknown identifier")
			return nil
		}
		return err
	}

	token, err := s.newToken(s.cfg.TokenBytes)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	now := s.now()
	record := domain.PasswordResetToken{
		ID:          uuid.NewString(),
		AccountID:   account.ID,
		TokenHash:   security.HashToken(token),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.TokenTTL),
		RequesterIP: optionalString(req.IP),
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return unavailable("create reset token", err)
	}

	accountID := account.ID
	s.events.Log(ctx, &accountID, domain.EventPasswordResetRequested, domain.SeverityLow, req.IP, map[string]any{
		"token_id":   record.ID,
		"user_agent": req.UserAgent,
	})

	message := domain.NewPasswordResetMessage(s.resetLink(token), s.cfg.TokenTTL)
	if err := s.deliver(ctx, account, message); err != nil {
		log.Warn("password reset delivery failed", zap.String("account_id", account.ID), zap.Error(err))
	}
	return nil
}

func (s *PasswordResetService) deliver(ctx context.Context, account *domain.Account, message domain.Message) error {
	type target struct {
		contact string
		channel domain.Channel
	}
	var targets []target
	if account.Email != nil && *account.Email != "" {
		targets = append(targets, target{*account.Email, domain.ChannelEmail})
	}
	if account.Phone != nil && *account.Phone != "" {
		targets = append(targets, target{*account.Phone, domain.ChannelSMS})
	}
	if len(targets) == 0 {
		return errors.New("account has no contact")
	}

	var errs []error
	for _, t := range targets {
		deliveryCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
		err := s.delivery.Send(deliveryCtx, t.contact, t.channel, message)
		cancel()
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", t.channel, err))
	}
	return errors.Join(errs...)
}

func (s *PasswordResetService) resetLink(token string) string {
	separator := "?"
	if strings.Contains(s.cfg.LinkBase, "?") {
		separator = "&"
	}
	return s.cfg.LinkBase + separator + "token=" + url.QueryEscape(token)
}

// ConfirmReset redeems a token. Only the newest token of the account is honoured, and only once.
// On success every session of the account is revoked and the lockout state is cleared.
func (s *PasswordResetService) ConfirmReset(ctx context.Context, req ConfirmPasswordResetRequest) error {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return ErrInvalidResetToken
	}
	if err := s.blocker.Check(ctx, req.IP, ActionPasswordReset); err != nil {
		return err
	}

	record, err := retryStore(ctx, "load reset token", func(ctx context.Context) (*domain.PasswordResetToken, error) {
		return s.tokens.GetByHash(ctx, security.HashToken(token))
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	if !record.Usable(s.now()) {
		return ErrInvalidResetToken
	}
	latest, err := retryStore(ctx, "load latest reset token", func(ctx context.Context) (*domain.PasswordResetToken, error) {
		return s.tokens.LatestForAccount(ctx, record.AccountID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	if latest.ID != record.ID {
		return ErrInvalidResetToken
	}

	account, err := retryStore(ctx, "load account", func(ctx context.Context) (*domain.Account, error) {
		return s.accounts.GetByID(ctx, record.AccountID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}

	var inputs []string
	if account.Email != nil {
		inputs = append(inputs, *account.Email)
	}
	if account.Phone != nil {
		inputs = append(inputs, *account.Phone)
	}
	if err := s.policy.Validate(req.NewPassword, inputs...); err != nil {
		return fmt.Errorf("%w: %v", ErrWeakPassword, err)
	}
	passwordHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	consumed, err := s.tokens.MarkUsed(ctx, record.ID)
	if err != nil {
		return unavailable("mark reset token used", err)
	}
	if !consumed {
		return ErrInvalidResetToken
	}

	if err := retryStoreExec(ctx, "update password", func(ctx context.Context) error {
		return s.accounts.UpdatePassword(ctx, account.ID, passwordHash, s.now())
	}); err != nil {
		return err
	}

	revoked, err := s.sessions.RevokeAll(ctx, account.ID, nil, req.IP, "password_reset")
	if err != nil {
		return err
	}
	if err := s.lockout.RecordSuccess(ctx, account.ID, nil); err != nil {
		return err
	}

	accountID := account.ID
	s.events.Log(ctx, &accountID, domain.EventPasswordChanged, domain.SeverityHigh, req.IP, map[string]any{
		"method":           "password_reset",
		"sessions_revoked": revoked,
	})
	s.alerts.Notify(ctx, account, domain.AlertPasswordChanged, req.IP, map[string]string{
		"method": "password_reset",
	})
	logger.WithContext(ctx, s.logger).Info("password reset completed",
		zap.String("account_id", account.ID),
		zap.Int("sessions_revoked", revoked))
	return nil
}
