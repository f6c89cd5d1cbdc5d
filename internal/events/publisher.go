// Package events publishes domain events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeVoucherClaimed   = "voucher.claimed"
	TypeVoucherRedeemed  = "voucher.redeemed"
	TypeAttributionClick = "attribution.click"
)

// Envelope wraps every published payload.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	BusinessID uuid.UUID       `json:"businessId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// Publisher emits domain events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, eventType string, businessID uuid.UUID, data interface{}) error
	Close() error
}

// KafkaPublisher writes events to one topic per event type, keyed by business.
type KafkaPublisher struct {
	writer      *kafka.Writer
	topicPrefix string
	logger      *zap.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers.
func NewKafkaPublisher(brokers []string, topicPrefix string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			WriteTimeout:           5 * time.Second,
		},
		topicPrefix: topicPrefix,
		logger:      logger,
	}, nil
}

// Publish encodes data in an Envelope and writes it synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, businessID uuid.UUID, data interface{}) error {
	msg, err := encode(eventType, businessID, data)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topicPrefix + eventType,
		Key:   []byte(businessID.String()),
		Value: msg,
		Time:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("write %s: %w", eventType, err)
	}
	p.logger.Debug("event published", zap.String("type", eventType), zap.String("business_id", businessID.String()))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encode(eventType string, businessID uuid.UUID, data interface{}) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return json.Marshal(Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		BusinessID: businessID,
		OccurredAt: time.Now().UTC(),
		Data:       body,
	})
}

// NopPublisher discards events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, uuid.UUID, interface{}) error { return nil }
func (NopPublisher) Close() error                                                  { return nil }
