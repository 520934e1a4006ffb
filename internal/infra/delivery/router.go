package delivery

import (
	"context"
	"fmt"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
)

// Router dispatches a send to the gateway registered for the channel. New channels are added by registering
// another gateway, callers never branch on the channel themselves.
type Router struct {
	gateways map[domain.Channel]port.DeliveryGateway
}

// NewRouter builds an empty router.
func NewRouter() *Router {
	return &Router{gateways: make(map[domain.Channel]port.DeliveryGateway)}
}

// Register binds a gateway to a channel, replacing any previous binding.
func (r *Router) Register(channel domain.Channel, gateway port.DeliveryGateway) *Router {
	r.gateways[channel] = gateway
	return r
}

// Send forwards to the channel's gateway.
func (r *Router) Send(ctx context.Context, contact string, channel domain.Channel, message domain.Message) error {
	gateway, ok := r.gateways[channel]
	if !ok {
		return fmt.Errorf("delivery: no gateway for channel %q", channel)
	}
	return gateway.Send(ctx, contact, channel, message)
}

var _ port.DeliveryGateway = (*Router)(nil)
