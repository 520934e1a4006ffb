package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/infra/logger"
	"github.com/arklim/auth-core/internal/repository"
)

// LoginStatus is the terminal state of a login attempt that did not fail.
type LoginStatus string

const (
	LoginStatusSuccess     LoginStatus = "success"
	LoginStatusOtpRequired LoginStatus = "otp_required"
)

// Login methods used for metrics and events.
const (
	LoginMethodPassword = "password"
	LoginMethodOtp      = "otp"
)

var suspiciousAgents = []string{"bot", "crawler", "spider", "scraper"}

// LoginRequest is a password login.
type LoginRequest struct {
	Identifier string
	Password   string
	IP         string
	UserAgent  string
}

// OtpLoginRequest is a passwordless login with a previously issued code.
type OtpLoginRequest struct {
	Contact   string
	Code      string
	IP        string
	UserAgent string
}

// VerifyContactRequest confirms ownership of an email or phone number.
type VerifyContactRequest struct {
	Contact string
	Purpose domain.OtpPurpose
	Code    string
	IP      string
}

// LoginResult is returned for successful and second-factor-pending logins.
type LoginResult struct {
	Status    LoginStatus
	AccountID string
	Session   *domain.Session
}

// AuthCoordinator drives the login state machine over the lockout guard, OTP service and sessions.
type AuthCoordinator struct {
	accounts port.AccountRepository
	hasher   port.PasswordHasher
	lockout  *LockoutGuard
	otp      *OtpService
	sessions *SessionManager
	limiter  *RateLimiter
	events   *SecurityLogger
	metrics  port.AuthMetrics
	blocker  *IPBlocker
	alerts   *SecurityAlerter
	logger   *zap.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthCoordinator constructs an AuthCoordinator.
func NewAuthCoordinator(accounts port.AccountRepository, hasher port.PasswordHasher, lockout *LockoutGuard, otp *OtpService, sessions *SessionManager, limiter *RateLimiter, events *SecurityLogger, logger *zap.Logger) *AuthCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	coordinator := &AuthCoordinator{
		accounts: accounts,
		hasher:   hasher,
		lockout:  lockout,
		otp:      otp,
		sessions: sessions,
		limiter:  limiter,
		events:   events,
		metrics:  nopMetrics{},
		logger:   logger,
	}
	coordinator.now = func() time.Time { return time.Now().UTC() }
	return coordinator
}

// WithClock overrides the internal clock for deterministic tests.
func (c *AuthCoordinator) WithClock(clock func() time.Time) {
	if clock != nil {
		c.now = clock
	}
}

// WithMetrics attaches an outcome recorder.
func (c *AuthCoordinator) WithMetrics(metrics port.AuthMetrics) *AuthCoordinator {
	c.metrics = metricsOrNop(metrics)
	return c
}

// WithIPBlocker turns banned client addresses away before credentials are checked.
func (c *AuthCoordinator) WithIPBlocker(blocker *IPBlocker) *AuthCoordinator {
	c.blocker = blocker
	return c
}

// WithAlerts mails account owners about lockouts and logins from unfamiliar places.
func (c *AuthCoordinator) WithAlerts(alerts *SecurityAlerter) *AuthCoordinator {
	c.alerts = alerts
	return c
}

// Login authenticates with an identifier (email or phone) and password.
// A locked account fails with *AccountLockedError before the password is checked and the attempt is not counted.
func (c *AuthCoordinator) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	ctx, span := tracer().Start(ctx, "AuthCoordinator.Login")
	defer span.End()
	span.SetAttributes(attribute.String("auth.method", LoginMethodPassword))

	result, err := c.login(ctx, req)
	outcome := outcomeLabel(err)
	if result != nil && result.Status == LoginStatusOtpRequired {
		outcome = string(LoginStatusOtpRequired)
	}
	c.metrics.ObserveLogin(LoginMethodPassword, outcome)
	if err != nil {
		span.SetAttributes(attribute.String("auth.outcome", outcome))
	}
	return result, err
}

func (c *AuthCoordinator) login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	identifier := NormalizeContact(req.Identifier)
	if identifier == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}
	log := logger.WithContext(ctx, c.logger).With(zap.String("identifier", logger.MaskContact(identifier)))

	if err := c.blocker.Check(ctx, req.IP, ActionLogin); err != nil {
		return nil, err
	}
	if err := c.limiter.Enforce(ctx, ActionLogin, nil, req.IP,
		RateScope{Name: "identifier", Identity: identifier},
		RateScope{Name: "ip", Identity: req.IP},
	); err != nil {
		return nil, err
	}

	account, err := c.resolveAccount(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			// Burn a hash verification so unknown identifiers cost the same as wrong passwords.
			c.verifyDummy(req.Password)
			c.events.Log(ctx, nil, domain.EventLoginFailed, domain.SeverityLow, req.IP, map[string]any{
				"reason":     "unknown_identifier",
				"identifier": logger.MaskContact(identifier),
			})
		}
		return nil, err
	}
	accountID := account.ID

	locked, until, err := c.lockout.lockState(ctx, account)
	if err != nil {
		return nil, err
	}
	if locked {
		c.events.Log(ctx, &accountID, domain.EventLoginAttemptLocked, domain.SeverityLow, req.IP, map[string]any{
			"locked_until": until.Format(time.RFC3339),
		})
		return nil, &AccountLockedError{Until: until}
	}

	match, err := c.hasher.Verify(req.Password, account.PasswordHash)
	if err != nil {
		log.Error("stored password hash could not be verified", zap.String("account_id", accountID), zap.Error(err))
		match = false
	}
	if !match {
		return nil, c.recordFailedPassword(ctx, account, req)
	}

	if account.TwoFactorEnabled {
		log.Info("password accepted, second factor required", zap.String("account_id", accountID))
		return &LoginResult{Status: LoginStatusOtpRequired, AccountID: accountID}, nil
	}
	return c.completeLogin(ctx, account, req.IP, req.UserAgent, LoginMethodPassword)
}

func (c *AuthCoordinator) recordFailedPassword(ctx context.Context, account *domain.Account, req LoginRequest) error {
	accountID := account.ID
	outcome, err := c.lockout.RecordFailure(ctx, accountID)
	if err != nil {
		return err
	}
	c.events.Log(ctx, &accountID, domain.EventLoginFailed, domain.SeverityLow, req.IP, map[string]any{
		"reason":          "wrong_password",
		"failed_attempts": outcome.FailedAttempts,
	})
	if outcome.JustLocked {
		severity := domain.SeverityMedium
		newIP := isNewIP(account, req.IP)
		if newIP {
			severity = domain.SeverityHigh
		}
		c.events.Log(ctx, &accountID, domain.EventLoginLocked, severity, req.IP, map[string]any{
			"failed_attempts": outcome.FailedAttempts,
			"locked_until":    outcome.LockedUntil.Format(time.RFC3339),
			"new_ip":          newIP,
		})
		c.alerts.Notify(ctx, account, domain.AlertAccountLocked, req.IP, map[string]string{
			"locked_until": outcome.LockedUntil.Format(time.RFC3339),
		})
	}
	return ErrInvalidCredentials
}

// LoginWithOtp authenticates with a login code sent to the contact. The lock gate applies before the
// code is checked; code failures are bounded by the challenge attempt ceiling and do not count toward lockout.
func (c *AuthCoordinator) LoginWithOtp(ctx context.Context, req OtpLoginRequest) (*LoginResult, error) {
	ctx, span := tracer().Start(ctx, "AuthCoordinator.LoginWithOtp")
	defer span.End()
	span.SetAttributes(attribute.String("auth.method", LoginMethodOtp))

	result, err := c.loginWithOtp(ctx, req)
	c.metrics.ObserveLogin(LoginMethodOtp, outcomeLabel(err))
	return result, err
}

func (c *AuthCoordinator) loginWithOtp(ctx context.Context, req OtpLoginRequest) (*LoginResult, error) {
	contact := NormalizeContact(req.Contact)
	if contact == "" {
		return nil, ErrInvalidRequest
	}
	if err := c.blocker.Check(ctx, req.IP, ActionLogin); err != nil {
		return nil, err
	}

	account, err := c.resolveAccount(ctx, contact)
	switch {
	case err == nil:
		locked, until, err := c.lockout.lockState(ctx, account)
		if err != nil {
			return nil, err
		}
		if locked {
			accountID := account.ID
			c.events.Log(ctx, &accountID, domain.EventLoginAttemptLocked, domain.SeverityLow, req.IP, map[string]any{
				"method":       LoginMethodOtp,
				"locked_until": until.Format(time.RFC3339),
			})
			return nil, &AccountLockedError{Until: until}
		}
	case errors.Is(err, ErrInvalidCredentials):
		account = nil
	default:
		return nil, err
	}

	challengeAccountID, err := c.otp.Verify(ctx, VerifyOtpRequest{
		Contact:     contact,
		Purpose:     domain.OtpPurposeLogin,
		Code:        req.Code,
		RequesterIP: req.IP,
	})
	if err != nil {
		return nil, err
	}

	if account == nil && challengeAccountID != nil {
		account, err = c.loadAccount(ctx, *challengeAccountID)
		if err != nil {
			return nil, err
		}
	}
	if account == nil {
		return nil, ErrInvalidCredentials
	}
	return c.completeLogin(ctx, account, req.IP, req.UserAgent, LoginMethodOtp)
}

func (c *AuthCoordinator) completeLogin(ctx context.Context, account *domain.Account, ip, userAgent, method string) (*LoginResult, error) {
	accountID := account.ID
	if reasons := suspiciousReasons(account, ip, userAgent); len(reasons) > 0 {
		c.events.Log(ctx, &accountID, domain.EventSuspiciousActivity, domain.SeverityMedium, ip, map[string]any{
			"reasons": reasons,
			"method":  method,
		})
		kind := domain.AlertSuspiciousActivity
		if isNewIP(account, ip) {
			kind = domain.AlertNewLocation
		}
		c.alerts.Notify(ctx, account, kind, ip, map[string]string{
			"reasons": strings.Join(reasons, ","),
			"method":  method,
		})
	}

	if err := c.lockout.RecordSuccess(ctx, accountID, optionalString(ip)); err != nil {
		return nil, err
	}
	session, err := c.sessions.Create(ctx, CreateSessionRequest{AccountID: accountID, IP: ip, UserAgent: userAgent})
	if err != nil {
		return nil, err
	}
	c.events.Log(ctx, &accountID, domain.EventLoginSuccess, domain.SeverityLow, ip, map[string]any{
		"method":     method,
		"session_id": session.ID,
	})
	return &LoginResult{Status: LoginStatusSuccess, AccountID: accountID, Session: session}, nil
}

// VerifyContact confirms an email or phone with a code and sets the matching verified flag.
func (c *AuthCoordinator) VerifyContact(ctx context.Context, req VerifyContactRequest) error {
	var (
		channel   domain.Channel
		eventType domain.EventType
		action    string
	)
	switch req.Purpose {
	case domain.OtpPurposeEmailVerify:
		channel, eventType, action = domain.ChannelEmail, domain.EventEmailVerified, ActionEmailVerify
	case domain.OtpPurposePhoneVerify:
		channel, eventType, action = domain.ChannelSMS, domain.EventPhoneVerified, ActionPhoneVerify
	default:
		return ErrInvalidRequest
	}
	contact := NormalizeContact(req.Contact)
	if contact == "" {
		return ErrInvalidRequest
	}

	if err := c.limiter.Enforce(ctx, action, nil, req.IP,
		RateScope{Name: "contact", Identity: contact},
		RateScope{Name: "ip", Identity: req.IP},
	); err != nil {
		return err
	}

	challengeAccountID, err := c.otp.Verify(ctx, VerifyOtpRequest{
		Contact:     contact,
		Purpose:     req.Purpose,
		Code:        req.Code,
		RequesterIP: req.IP,
	})
	if err != nil {
		return err
	}

	var account *domain.Account
	if challengeAccountID != nil {
		account, err = c.loadAccount(ctx, *challengeAccountID)
	} else {
		account, err = c.resolveAccount(ctx, contact)
	}
	if err != nil {
		return err
	}

	now := c.now()
	if err := retryStoreExec(ctx, "mark contact verified", func(ctx context.Context) error {
		return c.accounts.MarkContactVerified(ctx, account.ID, channel, now)
	}); err != nil {
		return err
	}
	accountID := account.ID
	c.events.Log(ctx, &accountID, eventType, domain.SeverityLow, req.IP, map[string]any{
		"contact": logger.MaskContact(contact),
	})
	return nil
}

// resolveAccount looks an account up by email or phone. Unknown identifiers map to ErrInvalidCredentials.
func (c *AuthCoordinator) resolveAccount(ctx context.Context, identifier string) (*domain.Account, error) {
	account, err := retryStore(ctx, "load account", func(ctx context.Context) (*domain.Account, error) {
		if strings.Contains(identifier, "@") {
			return c.accounts.GetByEmail(ctx, identifier)
		}
		return c.accounts.GetByPhone(ctx, identifier)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return account, nil
}

func (c *AuthCoordinator) loadAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := retryStore(ctx, "load account", func(ctx context.Context) (*domain.Account, error) {
		return c.accounts.GetByID(ctx, accountID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return account, nil
}

func (c *AuthCoordinator) verifyDummy(password string) {
	c.dummyOnce.Do(func() {
		hash, err := c.hasher.Hash("dummy-password-for-timing")
		if err == nil {
			c.dummyHash = hash
		}
	})
	if c.dummyHash != "" {
		_, _ = c.hasher.Verify(password, c.dummyHash)
	}
}

func isNewIP(account *domain.Account, ip string) bool {
	return ip != "" && account.LastLoginIP != nil && *account.LastLoginIP != ip
}

func suspiciousReasons(account *domain.Account, ip, userAgent string) []string {
	var reasons []string
	if isNewIP(account, ip) {
		reasons = append(reasons, "new_ip")
	}
	if isBotUserAgent(userAgent) {
		reasons = append(reasons, "bot_user_agent")
	}
	return reasons
}

func isBotUserAgent(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range suspiciousAgents {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}
