package port

import (
	"context"

	"github.com/arklim/auth-core/internal/core/domain"
)

// DeliveryGateway sends a rendered message to a contact over a channel. Retry policy belongs to the implementation.
type DeliveryGateway interface {
	Send(ctx context.Context, contact string, channel domain.Channel, message domain.Message) error
}
