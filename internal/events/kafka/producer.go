package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"github.com/schoolcore/identity-service/internal/domain/models"
)

// AuditProducer publishes audit events to the platform analytics topic as
// CloudEvents v1.0. The database append remains the durability point; a
// publish failure is logged by the caller and never fails the operation.
type AuditProducer struct {
	producer sarama.SyncProducer
	topic    string
	source   string
	logger   *zap.Logger
}

// cloudEvent is the CloudEvents v1.0 envelope used platform-wide.
type cloudEvent struct {
	SpecVersion     string    `json:"specversion"`
	Type            string    `json:"type"`
	Source          string    `json:"source"`
	Subject         string    `json:"subject,omitempty"`
	ID              string    `json:"id"`
	Time            time.Time `json:"time"`
	DataContentType string    `json:"datacontenttype"`
	Data            any       `json:"data"`
}

func NewAuditProducer(brokers []string, topic string, logger *zap.Logger) (*AuditProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &AuditProducer{
		producer: producer,
		topic:    topic,
		source:   "/identity-service",
		logger:   logger,
	}, nil
}

// Publish wraps the audit event in a CloudEvent and sends it. The message key
// is the subject user id so one user's events land on one partition in order.
func (p *AuditProducer) Publish(_ context.Context, event *models.AuditEvent) error {
	envelope := cloudEvent{
		SpecVersion:     "1.0",
		Type:            "org.schoolcore.identity.audit." + string(event.Action),
		Source:          p.source,
		ID:              event.ID,
		Time:            event.Timestamp.UTC(),
		DataContentType: "application/json",
		Data:            event,
	}
	if event.UserID != nil {
		envelope.Subject = event.UserID.String()
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal cloud event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(payload),
	}
	if envelope.Subject != "" {
		msg.Key = sarama.StringEncoder(envelope.Subject)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}
	p.logger.Debug("audit event published",
		zap.String("event_id", event.ID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Close flushes and shuts the underlying producer down.
func (p *AuditProducer) Close() error {
	return p.producer.Close()
}
