package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
)

const securityEventWriteTimeout = 2 * time.Second

type queuedSecurityEvent struct {
	ctx   context.Context
	event domain.SecurityEvent
}

// SecurityLogger appends security events to the audit store and mirrors them to a publisher.
// With a positive buffer size events are handed to a single background worker and dropped when the
// queue is full; with a zero buffer size Log writes inline.
type SecurityLogger struct {
	repo      port.SecurityEventRepository
	publisher port.SecurityEventPublisher
	metrics   port.AuthMetrics
	logger    *zap.Logger
	now       func() time.Time

	queue     chan queuedSecurityEvent
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewSecurityLogger constructs a SecurityLogger. publisher may be nil.
func NewSecurityLogger(repo port.SecurityEventRepository, publisher port.SecurityEventPublisher, bufferSize int, logger *zap.Logger) *SecurityLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &SecurityLogger{
		repo:      repo,
		publisher: publisher,
		metrics:   nopMetrics{},
		logger:    logger,
		done:      make(chan struct{}),
	}
	l.now = func() time.Time { return time.Now().UTC() }
	if bufferSize > 0 {
		l.queue = make(chan queuedSecurityEvent, bufferSize)
		go l.run()
	} else {
		close(l.done)
	}
	return l
}

// WithClock overrides the internal clock for deterministic tests.
func (l *SecurityLogger) WithClock(clock func() time.Time) {
	if clock != nil {
		l.now = clock
	}
}

// WithMetrics attaches a recorder for dropped events.
func (l *SecurityLogger) WithMetrics(metrics port.AuthMetrics) *SecurityLogger {
	l.metrics = metricsOrNop(metrics)
	return l
}

// Log records a security event. It never blocks on the store and never fails the caller.
func (l *SecurityLogger) Log(ctx context.Context, accountID *string, eventType domain.EventType, severity domain.Severity, ip string, details map[string]any) {
	if l == nil {
		return
	}
	event := domain.SecurityEvent{
		ID:        uuid.NewString(),
		AccountID: copyString(accountID),
		EventType: eventType,
		Severity:  severity,
		IPAddress: optionalString(ip),
		CreatedAt: l.now(),
		Details:   details,
	}
	// The request may finish before the worker writes; keep its values (trace ids) but not its deadline.
	item := queuedSecurityEvent{ctx: context.WithoutCancel(ctx), event: event}

	if l.queue == nil {
		l.write(item)
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.drop(event, "closed")
		return
	}
	select {
	case l.queue <- item:
	default:
		l.drop(event, "queue full")
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (l *SecurityLogger) Close(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.closeOnce.Do(func() {
		if l.queue == nil {
			return
		}
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *SecurityLogger) run() {
	defer close(l.done)
	for item := range l.queue {
		l.write(item)
	}
}

func (l *SecurityLogger) write(item queuedSecurityEvent) {
	ctx, cancel := context.WithTimeout(item.ctx, securityEventWriteTimeout)
	defer cancel()

	err := retryStoreExec(ctx, "append security event", func(ctx context.Context) error {
		return l.repo.Append(ctx, item.event)
	})
	if err != nil {
		l.logger.Error("failed to persist security event",
			zap.String("event_type", string(item.event.EventType)),
			zap.Error(err))
	}

	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishSecurityEvent(ctx, item.event); err != nil {
		l.logger.Warn("failed to publish security event",
			zap.String("event_type", string(item.event.EventType)),
			zap.Error(err))
	}
}

func (l *SecurityLogger) drop(event domain.SecurityEvent, reason string) {
	l.metrics.ObserveSecurityEventDropped()
	l.logger.Warn("security event dropped",
		zap.String("event_type", string(event.EventType)),
		zap.String("reason", reason))
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func copyString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
