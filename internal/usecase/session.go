package usecase

import (
	"context"
	"errors"
	"fmt"
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

const sessionKeyAttempts = 3

// SessionConfig controls key size and how often last_activity is written.
type SessionConfig struct {
	KeyBytes      int
	TouchInterval time.Duration
}

// DefaultSessionConfig returns 32 byte keys and one activity write per minute.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{KeyBytes: 32, TouchInterval: time.Minute}
}

// CreateSessionRequest carries the client context of a successful authentication.
type CreateSessionRequest struct {
	AccountID string
	IP        string
	UserAgent string
	Location  string
}

// SessionManager creates, lists and revokes sessions.
type SessionManager struct {
	sessions port.SessionRepository
	throttle port.ActivityThrottle
	events   *SecurityLogger
	cfg      SessionConfig
	logger   *zap.Logger
	now      func() time.Time
	newKey   func(byteLength int) (string, error)
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(sessions port.SessionRepository, throttle port.ActivityThrottle, events *SecurityLogger, cfg SessionConfig, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultSessionConfig()
	if cfg.KeyBytes <= 0 {
		cfg.KeyBytes = defaults.KeyBytes
	}
	if cfg.TouchInterval <= 0 {
		cfg.TouchInterval = defaults.TouchInterval
	}
	manager := &SessionManager{
		sessions: sessions,
		throttle: throttle,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		newKey:   security.GenerateSecureToken,
	}
	manager.now = func() time.Time { return time.Now().UTC() }
	return manager
}

// WithClock overrides the internal clock for deterministic tests.
func (m *SessionManager) WithClock(clock func() time.Time) {
	if clock != nil {
		m.now = clock
	}
}

// WithKeyGenerator replaces the session key source.
func (m *SessionManager) WithKeyGenerator(generate func(byteLength int) (string, error)) {
	if generate != nil {
		m.newKey = generate
	}
}

// Create persists a new active session with a random key.
func (m *SessionManager) Create(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	if strings.TrimSpace(req.AccountID) == "" {
		return nil, ErrInvalidRequest
	}
	now := m.now()

	var lastErr error
	for attempt := 0; attempt < sessionKeyAttempts; attempt++ {
		key, err := m.newKey(m.cfg.KeyBytes)
		if err != nil {
			return nil, fmt.Errorf("generate session key: %w", err)
		}
		session := domain.Session{
			ID:           uuid.NewString(),
			AccountID:    req.AccountID,
			SessionKey:   key,
			IPAddress:    optionalString(req.IP),
			UserAgent:    optionalString(req.UserAgent),
			Location:     optionalString(req.Location),
			CreatedAt:    now,
			LastActivity: now,
			IsActive:     true,
		}
		err = m.sessions.Create(ctx, session)
		if err == nil {
			accountID := req.AccountID
			m.events.Log(ctx, &accountID, domain.EventSessionCreated, domain.SeverityLow, req.IP, map[string]any{
				"session_id": session.ID,
			})
			return &session, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, unavailable("create session", err)
		}
		lastErr = err
		m.logger.Warn("session key collision, regenerating", zap.Int("attempt", attempt+1))
	}
	return nil, unavailable("create session", fmt.Errorf("exhausted key attempts: %v", lastErr))
}

// List returns the account's active sessions, newest first.
func (m *SessionManager) List(ctx context.Context, accountID string) ([]domain.Session, error) {
	return retryStore(ctx, "list sessions", func(ctx context.Context) ([]domain.Session, error) {
		return m.sessions.ListActiveByAccount(ctx, accountID)
	})
}

// Revoke deactivates one session owned by requestingAccountID.
// A session owned by another account yields ErrForbidden and is left untouched.
func (m *SessionManager) Revoke(ctx context.Context, sessionID, requestingAccountID, ip string) error {
	session, err := retryStore(ctx, "load session", func(ctx context.Context) (*domain.Session, error) {
		return m.sessions.GetByID(ctx, sessionID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if !session.OwnedBy(requestingAccountID) {
		logger.WithContext(ctx, m.logger).Warn("session revoke by non-owner rejected",
			zap.String("session_id", sessionID),
			zap.String("requesting_account_id", requestingAccountID))
		return ErrForbidden
	}
	if !session.IsActive {
		return ErrSessionNotFound
	}

	deactivated, err := m.sessions.Deactivate(ctx, sessionID)
	if err != nil {
		return unavailable("deactivate session", err)
	}
	if !deactivated {
		return ErrSessionNotFound
	}
	accountID := session.AccountID
	m.events.Log(ctx, &accountID, domain.EventSessionTerminated, domain.SeverityLow, ip, map[string]any{
		"session_id": sessionID,
		"reason":     "logout",
	})
	return nil
}

// RevokeAll deactivates every active session of the account except exceptSessionID and returns the count.
func (m *SessionManager) RevokeAll(ctx context.Context, accountID string, exceptSessionID *string, ip, reason string) (int, error) {
	count, err := retryStore(ctx, "deactivate sessions", func(ctx context.Context) (int, error) {
		return m.sessions.DeactivateAllForAccount(ctx, accountID, exceptSessionID)
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		id := accountID
		m.events.Log(ctx, &id, domain.EventSessionTerminated, domain.SeverityLow, ip, map[string]any{
			"count":  count,
			"reason": reason,
		})
	}
	return count, nil
}

// Touch records activity at most once per TouchInterval per session. Throttle failures skip the write.
func (m *SessionManager) Touch(ctx context.Context, sessionID string) error {
	acquired, err := m.throttle.Acquire(ctx, sessionID, m.cfg.TouchInterval)
	if err != nil {
		logger.WithContext(ctx, m.logger).Warn("session touch throttle unavailable", zap.Error(err))
		return nil
	}
	if !acquired {
		return nil
	}
	if _, err := m.sessions.Touch(ctx, sessionID, m.now()); err != nil {
		return unavailable("touch session", err)
	}
	return nil
}

// Authenticate resolves an active session from its key and touches it.
func (m *SessionManager) Authenticate(ctx context.Context, sessionKey string) (*domain.Session, error) {
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey == "" {
		return nil, ErrSessionNotFound
	}
	session, err := retryStore(ctx, "load session by key", func(ctx context.Context) (*domain.Session, error) {
		return m.sessions.GetByKey(ctx, sessionKey)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if !session.IsActive {
		return nil, ErrSessionNotFound
	}
	if err := m.Touch(ctx, session.ID); err != nil {
		logger.WithContext(ctx, m.logger).Warn("failed to record session activity", zap.Error(err))
	}
	return session, nil
}
