package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
)

// StubPublisher logs security events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

// PublishSecurityEvent writes the event to the debug log.
func (p *StubPublisher) PublishSecurityEvent(_ context.Context, event domain.SecurityEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.EventType)),
		zap.String("severity", string(event.Severity)),
		zap.Time("created_at", event.CreatedAt.UTC()),
	}
	if event.AccountID != nil {
		fields = append(fields, zap.String("account_id", *event.AccountID))
	}
	p.logger.Debug("stub security event published", fields...)
	return nil
}

var _ port.SecurityEventPublisher = (*StubPublisher)(nil)
