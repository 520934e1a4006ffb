package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/infra/logger"
	"github.com/arklim/auth-core/internal/infra/security"
	"github.com/arklim/auth-core/internal/repository"
)

// OtpConfig holds challenge lifetime and budgets.
type OtpConfig struct {
	TTL              time.Duration
	MaxAttempts      int
	CodeLength       int
	OperationTimeout time.Duration
	DeliveryTimeout  time.Duration
}

// DefaultOtpConfig returns 6 digit codes valid for 5 minutes with 3 attempts.
func DefaultOtpConfig() OtpConfig {
	return OtpConfig{
		TTL:              5 * time.Minute,
		MaxAttempts:      3,
		CodeLength:       6,
		OperationTimeout: 300 * time.Millisecond,
		DeliveryTimeout:  5 * time.Second,
	}
}

func (c OtpConfig) withDefaults() OtpConfig {
	d := DefaultOtpConfig()
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.CodeLength <= 0 {
		c.CodeLength = d.CodeLength
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = d.DeliveryTimeout
	}
	return c
}

// IssueOtpRequest asks for a fresh code to be sent to a contact.
type IssueOtpRequest struct {
	Contact     string
	Channel     domain.Channel
	Purpose     domain.OtpPurpose
	AccountID   *string
	RequesterIP string
}

// IssueOtpResult identifies the persisted challenge.
type IssueOtpResult struct {
	ChallengeID string
	ExpiresAt   time.Time
}

// VerifyOtpRequest checks a submitted code.
type VerifyOtpRequest struct {
	Contact     string
	Purpose     domain.OtpPurpose
	Code        string
	RequesterIP string
}

// OtpService issues and verifies one-time codes.
type OtpService struct {
	otps     port.OtpRepository
	delivery port.DeliveryGateway
	limiter  *RateLimiter
	hasher   port.OtpCodeHasher
	events   *SecurityLogger
	cfg      OtpConfig
	generate func(digits int) (string, error)
	metrics  port.AuthMetrics
	blocker  *IPBlocker
	logger   *zap.Logger
	now      func() time.Time
}

// NewOtpService constructs an OtpService.
func NewOtpService(otps port.OtpRepository, delivery port.DeliveryGateway, limiter *RateLimiter, hasher port.OtpCodeHasher, events *SecurityLogger, cfg OtpConfig, logger *zap.Logger) *OtpService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &OtpService{
		otps:     otps,
		delivery: delivery,
		limiter:  limiter,
		hasher:   hasher,
		events:   events,
		cfg:      cfg.withDefaults(),
		generate: security.GenerateOtpCode,
		metrics:  nopMetrics{},
		logger:   logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *OtpService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithCodeGenerator replaces the random code source.
func (s *OtpService) WithCodeGenerator(generate func(digits int) (string, error)) {
	if generate != nil {
		s.generate = generate
	}
}

// WithMetrics attaches an outcome recorder.
func (s *OtpService) WithMetrics(metrics port.AuthMetrics) *OtpService {
	s.metrics = metricsOrNop(metrics)
	return s
}

// WithIPBlocker turns banned requester addresses away before a challenge is issued.
func (s *OtpService) WithIPBlocker(blocker *IPBlocker) *OtpService {
	s.blocker = blocker
	return s
}

// Config returns the effective configuration.
func (s *OtpService) Config() OtpConfig {
	return s.cfg
}

// NormalizeContact trims the contact and lower-cases emails so limits and lookups share one key.
func NormalizeContact(contact string) string {
	contact = strings.TrimSpace(contact)
	if strings.Contains(contact, "@") {
		return strings.ToLower(contact)
	}
	return contact
}

// Issue rate limits the request by contact and by IP, persists a new challenge and delivers the code.
// Older unused challenges for the same contact and purpose are superseded. When delivery fails the
// challenge stays persisted and ErrDeliveryFailed is returned.
func (s *OtpService) Issue(ctx context.Context, req IssueOtpRequest) (*IssueOtpResult, error) {
	contact := NormalizeContact(req.Contact)
	if contact == "" || !req.Channel.Valid() || !req.Purpose.Valid() {
		return nil, ErrInvalidRequest
	}

	ctx, span := tracer().Start(ctx, "OtpService.Issue")
	defer span.End()
	span.SetAttributes(
		attribute.String("otp.channel", string(req.Channel)),
		attribute.String("otp.purpose", string(req.Purpose)),
	)
	log := logger.WithContext(ctx, s.logger).With(
		zap.String("contact", logger.MaskContact(contact)),
		zap.String("purpose", string(req.Purpose)),
	)

	challenge, code, err := s.persistChallenge(ctx, contact, req)
	if err != nil {
		if !errors.Is(err, ErrRateLimited) && !errors.Is(err, ErrIPBlocked) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "issue failed")
			log.Error("failed to persist otp challenge", zap.Error(err))
		}
		s.metrics.ObserveOtpIssued(string(req.Channel), string(req.Purpose), outcomeLabel(err))
		return nil, err
	}

	// Delivery gets its own budget; the challenge is already durable.
	deliveryCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	defer cancel()
	message := domain.NewOtpMessage(req.Purpose, code, s.cfg.TTL)
	if err := s.delivery.Send(deliveryCtx, contact, req.Channel, message); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		log.Warn("otp delivery failed", zap.String("channel", string(req.Channel)), zap.Error(err))
		s.metrics.ObserveOtpIssued(string(req.Channel), string(req.Purpose), "delivery_failed")
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	s.events.Log(ctx, req.AccountID, domain.EventOtpSent, domain.SeverityLow, req.RequesterIP, map[string]any{
		"channel":      string(req.Channel),
		"purpose":      string(req.Purpose),
		"challenge_id": challenge.ID,
	})
	s.metrics.ObserveOtpIssued(string(req.Channel), string(req.Purpose), "success")
	log.Info("otp issued", zap.String("challenge_id", challenge.ID))

	return &IssueOtpResult{ChallengeID: challenge.ID, ExpiresAt: challenge.ExpiresAt}, nil
}

func (s *OtpService) persistChallenge(parent context.Context, contact string, req IssueOtpRequest) (*domain.OtpChallenge, string, error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.OperationTimeout)
	defer cancel()

	if err := s.blocker.Check(ctx, req.RequesterIP, ActionOtp); err != nil {
		return nil, "", err
	}
	if err := s.limiter.Enforce(ctx, ActionOtp, req.AccountID, req.RequesterIP,
		RateScope{Name: "contact", Identity: contact},
		RateScope{Name: "ip", Identity: req.RequesterIP},
	); err != nil {
		return nil, "", err
	}

	code, err := s.generate(s.cfg.CodeLength)
	if err != nil {
		return nil, "", fmt.Errorf("generate otp code: %w", err)
	}
	codeHash, err := s.hasher.Hash(code)
	if err != nil {
		return nil, "", fmt.Errorf("hash otp code: %w", err)
	}

	if _, err := retryStore(ctx, "supersede otp challenges", func(ctx context.Context) (int, error) {
		return s.otps.SupersedeActive(ctx, contact, req.Purpose)
	}); err != nil {
		return nil, "", err
	}

	now := s.now()
	challenge := domain.OtpChallenge{
		ID:             uuid.NewString(),
		AccountID:      copyString(req.AccountID),
		ContactInfo:    contact,
		DeliveryMethod: req.Channel,
		Purpose:        req.Purpose,
		CodeHash:       codeHash,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.TTL),
		RequesterIP:    optionalString(req.RequesterIP),
	}
	if err := s.otps.Create(ctx, challenge); err != nil {
		return nil, "", unavailable("create otp challenge", err)
	}
	return &challenge, code, nil
}

// Verify checks a code against the newest unused challenge for the contact and purpose and consumes it
// on success. Every call spends one attempt; the mismatch that reaches the ceiling returns ErrOtpExhausted.
func (s *OtpService) Verify(ctx context.Context, req VerifyOtpRequest) (*string, error) {
	contact := NormalizeContact(req.Contact)
	if contact == "" || !req.Purpose.Valid() {
		return nil, ErrInvalidRequest
	}

	ctx, span := tracer().Start(ctx, "OtpService.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("otp.purpose", string(req.Purpose)))

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	accountID, err := s.verify(ctx, contact, req)
	s.metrics.ObserveOtpVerified(string(req.Purpose), outcomeLabel(err))
	if err != nil && errors.Is(err, ErrTemporarilyUnavailable) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify failed")
		logger.WithContext(ctx, s.logger).Error("otp verification unavailable", zap.Error(err))
	}
	return accountID, err
}

func (s *OtpService) verify(ctx context.Context, contact string, req VerifyOtpRequest) (*string, error) {
	challenge, err := retryStore(ctx, "load otp challenge", func(ctx context.Context) (*domain.OtpChallenge, error) {
		return s.otps.LatestActive(ctx, contact, req.Purpose)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOtpNotFound
		}
		return nil, err
	}
	if challenge.Expired(s.now()) {
		return nil, ErrOtpExpired
	}
	if challenge.Exhausted(s.cfg.MaxAttempts) {
		return nil, ErrOtpExhausted
	}

	attempts, err := s.otps.IncrementAttempts(ctx, challenge.ID, s.cfg.MaxAttempts)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.lostAttemptRace(ctx, challenge.ID)
		}
		return nil, unavailable("increment otp attempts", err)
	}

	if !s.hasher.Matches(strings.TrimSpace(req.Code), challenge.CodeHash) {
		if attempts >= s.cfg.MaxAttempts {
			s.events.Log(ctx, challenge.AccountID, domain.EventOtpFailed, domain.SeverityMedium, req.RequesterIP, map[string]any{
				"purpose":      string(req.Purpose),
				"challenge_id": challenge.ID,
				"attempts":     attempts,
			})
			return nil, ErrOtpExhausted
		}
		return nil, ErrInvalidCode
	}

	consumed, err := s.otps.MarkUsed(ctx, challenge.ID)
	if err != nil {
		return nil, unavailable("mark otp used", err)
	}
	if !consumed {
		// A concurrent verify consumed it first.
		return nil, ErrOtpNotFound
	}
	return copyString(challenge.AccountID), nil
}

// lostAttemptRace classifies a challenge that stopped accepting attempts between load and increment.
func (s *OtpService) lostAttemptRace(ctx context.Context, challengeID string) error {
	current, err := retryStore(ctx, "reload otp challenge", func(ctx context.Context) (*domain.OtpChallenge, error) {
		return s.otps.GetByID(ctx, challengeID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOtpNotFound
		}
		return err
	}
	if current.Used {
		return ErrOtpNotFound
	}
	return ErrOtpExhausted
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrIPBlocked):
		return "ip_blocked"
	case errors.Is(err, ErrAccountLocked):
		return "locked"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrOtpNotFound):
		return "not_found"
	case errors.Is(err, ErrOtpExpired):
		return "expired"
	case errors.Is(err, ErrOtpExhausted):
		return "exhausted"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrDeliveryFailed):
		return "delivery_failed"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "error"
	}
}
