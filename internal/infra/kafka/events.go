package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/auth-core/internal/core/domain"
	"github.com/arklim/auth-core/internal/core/port"
	"github.com/arklim/auth-core/internal/infra/config"
)

const (
	schemaVersion       = "1.0"
	securityEventsTopic = "security.events"
)

// SecurityEventPublisher implements port.SecurityEventPublisher using Kafka. Messages are keyed by account so
// one account's events stay ordered within a partition.
type SecurityEventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewSecurityEventPublisher constructs a Kafka-backed publisher.
func NewSecurityEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *SecurityEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityEventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	AccountID string           `json:"account_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

type securityEventPayload struct {
	Severity  string         `json:"severity"`
	IPAddress *string        `json:"ip_address,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// PublishSecurityEvent enqueues the event on the producer. It blocks only until the producer accepts the message.
func (p *SecurityEventPublisher) PublishSecurityEvent(ctx context.Context, event domain.SecurityEvent) error {
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}

	var accountID string
	if event.AccountID != nil {
		accountID = *event.AccountID
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	bytes, err := json.Marshal(eventEnvelope{
		EventID:   id,
		EventType: string(event.EventType),
		AccountID: accountID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload: securityEventPayload{
			Severity:  string(event.Severity),
			IPAddress: event.IPAddress,
			Details:   event.Details,
		},
		Metadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(securityEventsTopic),
		Value: sarama.ByteEncoder(bytes),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
			{Key: []byte("severity"), Value: []byte(event.Severity)},
		},
	}
	if accountID != "" {
		message.Key = sarama.StringEncoder(accountID)
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ port.SecurityEventPublisher = (*SecurityEventPublisher)(nil)
