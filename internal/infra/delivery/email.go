package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/infra/rabbitmq"
)

// EmailMessage is the payload consumed by the mailer worker.
type EmailMessage struct {
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Purpose   string    `json:"purpose"`
	Link      string    `json:"link,omitempty"`
	QueuedAt  time.Time `json:"queued_at"`
	Template  string    `json:"template"`
	Variables any       `json:"variables,omitempty"`
}

// EmailGateway hands messages to the mailer through a RabbitMQ topic exchange.
type EmailGateway struct {
	publisher  rabbitmq.Publisher
	exchange   string
	routingKey string
	now        func() time.Time
}

// NewEmailGateway constructs the gateway.
func NewEmailGateway(publisher rabbitmq.Publisher, exchange, routingKey string) *EmailGateway {
	return &EmailGateway{
		publisher:  publisher,
		exchange:   exchange,
		routingKey: routingKey,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Send publishes the message. Acceptance by the broker counts as delivered.
func (g *EmailGateway) Send(ctx context.Context, contact string, channel domain.Channel, message domain.Message) error {
	if channel != domain.ChannelEmail {
		return fmt.Errorf("email: unsupported channel %q", channel)
	}

	payload := EmailMessage{
		To:       contact,
		Subject:  message.Subject,
		Body:     message.Body,
		Purpose:  string(message.Purpose),
		Link:     message.Link,
		QueuedAt: g.now(),
		Template: "auth." + string(message.Purpose),
	}
	if message.Template != "" {
		payload.Template = message.Template
	}
	if message.Code != "" || len(message.Variables) > 0 {
		variables := make(map[string]string, len(message.Variables)+1)
		for k, v := range message.Variables {
			variables[k] = v
		}
		if message.Code != "" {
			variables["code"] = message.Code
		}
		payload.Variables = variables
	}

	if err := g.publisher.Publish(ctx, g.exchange, g.routingKey, payload); err != nil {
		return fmt.Errorf("email: publish: %w", err)
	}
	return nil
}

var _ port.DeliveryGateway = (*EmailGateway)(nil)
