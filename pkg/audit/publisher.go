// Package audit publishes order lifecycle transitions to a Kafka topic
// for downstream compliance and reconciliation consumers.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/erain9/papertrade/pkg/lifecycle"
	"github.com/erain9/papertrade/pkg/logging"
)

const maxRetry = 5

// Record is the JSON envelope written to the audit topic, one per
// state transition.
type Record struct {
	OrderID     string `json:"order_id"`
	FromStatus  string `json:"from_status"`
	ToStatus    string `json:"to_status"`
	Event       string `json:"event"`
	Timestamp   string `json:"timestamp"`
	Details     string `json:"details,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// Publisher sends audit records through a sarama SyncProducer.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewPublisher connects a sync producer to the given brokers.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = maxRetry
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit producer: %w", err)
	}
	return NewPublisherWithProducer(producer, topic), nil
}

// NewPublisherWithProducer wraps an existing producer, mainly for tests.
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logging.Component("audit_publisher"),
	}
}

// Publish writes one transition for an order to the audit topic.
func (p *Publisher) Publish(orderID string, transition lifecycle.StateTransition) error {
	record := Record{
		OrderID:     orderID,
		FromStatus:  string(transition.FromStatus),
		ToStatus:    string(transition.ToStatus),
		Event:       transition.Event,
		Timestamp:   transition.Timestamp.UTC().Format(time.RFC3339Nano),
		Details:     transition.Details,
		TriggeredBy: transition.TriggeredBy,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(orderID),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send audit record: %w", err)
	}
	return nil
}

// Attach registers the publisher for every lifecycle event on the
// manager. Publish failures are logged, never propagated into order
// processing.
func (p *Publisher) Attach(manager *lifecycle.Manager) {
	events := []string{
		lifecycle.EventCreated,
		lifecycle.EventTriggered,
		lifecycle.EventFill,
		lifecycle.EventCancelled,
		lifecycle.EventRejected,
		lifecycle.EventExpired,
	}
	for _, event := range events {
		manager.RegisterEventCallback(event, func(orderID string, transition lifecycle.StateTransition) {
			if err := p.Publish(orderID, transition); err != nil {
				p.logger.Error().Err(err).
					Str("order_id", orderID).
					Str("event", transition.Event).
					Msg("failed to publish audit record")
			}
		})
	}
}

// Close closes the underlying producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
