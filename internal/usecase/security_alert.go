package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/infra/logger"
)

// AlertConfig bounds background alert delivery.
type AlertConfig struct {
	Timeout     time.Duration
	MaxInFlight int
}

func (c AlertConfig) withDefaults() AlertConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 64
	}
	return c
}

// SecurityAlerter mails security notices to the account's email in the background.
// Callers never wait on delivery; when MaxInFlight sends are pending new alerts are dropped.
// A nil *SecurityAlerter sends nothing.
type SecurityAlerter struct {
	delivery port.DeliveryGateway
	cfg      AlertConfig
	slots    chan struct{}
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewSecurityAlerter constructs a SecurityAlerter.
func NewSecurityAlerter(delivery port.DeliveryGateway, cfg AlertConfig, logger *zap.Logger) *SecurityAlerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &SecurityAlerter{
		delivery: delivery,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.MaxInFlight),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (a *SecurityAlerter) WithClock(clock func() time.Time) *SecurityAlerter {
	if clock != nil {
		a.now = clock
	}
	return a
}

// Notify queues an alert of kind for account. Accounts without an email are skipped.
func (a *SecurityAlerter) Notify(ctx context.Context, account *domain.Account, kind domain.AlertKind, ip string, details map[string]string) {
	if a == nil || account == nil || account.Email == nil || *account.Email == "" {
		return
	}
	log := logger.WithContext(ctx, a.logger).With(
		zap.String("account_id", account.ID),
		zap.String("alert", string(kind)),
	)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		log.Debug("security alert skipped after shutdown")
		return
	}
	select {
	case a.slots <- struct{}{}:
	default:
		a.mu.Unlock()
		log.Warn("security alert dropped, too many pending deliveries")
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	to := *account.Email
	message := domain.NewSecurityAlertMessage(kind, ip, a.now(), details)
	sendCtx := context.WithoutCancel(ctx)

	go func() {
		defer a.wg.Done()
		defer func() { <-a.slots }()

		sendCtx, cancel := context.WithTimeout(sendCtx, a.cfg.Timeout)
		defer cancel()
		if err := a.delivery.Send(sendCtx, to, domain.ChannelEmail, message); err != nil {
			log.Warn("security alert delivery failed", zap.Error(err))
			return
		}
		log.Debug("security alert sent")
	}()
}

// Close stops accepting alerts and waits for pending deliveries or ctx, whichever ends first.
func (a *SecurityAlerter) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
