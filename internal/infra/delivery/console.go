package delivery

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/infra/logger"
)

// ConsoleGateway writes messages to the log. Development only: the code is logged in clear.
type ConsoleGateway struct {
	logger *zap.Logger
}

// NewConsoleGateway constructs the gateway.
func NewConsoleGateway(log *zap.Logger) *ConsoleGateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsoleGateway{logger: log}
}

// Send logs the message and always succeeds.
func (g *ConsoleGateway) Send(_ context.Context, contact string, channel domain.Channel, message domain.Message) error {
	g.logger.Info("console delivery",
		zap.String("channel", string(channel)),
		zap.String("contact", logger.MaskContact(contact)),
		zap.String("purpose", string(message.Purpose)),
		zap.String("code", message.Code),
		zap.String("link", message.Link),
	)
	return nil
}

var _ port.DeliveryGateway = (*ConsoleGateway)(nil)
