package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/erain9/papertrade/pkg/lifecycle"
	"github.com/erain9/papertrade/pkg/logging"
	"github.com/erain9/papertrade/pkg/messaging"
)

// FillHandler processes one fill report.
type FillHandler func(report *messaging.FillReport) error

// FillConsumer reads fill reports from Kafka and hands them to a
// handler.
type FillConsumer struct {
	reader *kafka.Reader
	logger zerolog.Logger
}

// NewFillConsumer creates a consumer for the given brokers and topic.
func NewFillConsumer(brokers []string, topic, groupID string) *FillConsumer {
	return &FillConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		logger: logging.Component("fill_consumer"),
	}
}

// Run consumes until ctx is cancelled or the reader is closed.
// Malformed messages are logged and skipped; handler errors are logged
// and consumption continues.
func (c *FillConsumer) Run(ctx context.Context, handle FillHandler) error {
	c.logger.Info().Str("topic", c.reader.Config().Topic).Msg("fill consumer started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read fill message: %w", err)
		}

		var report messaging.FillReport
		if err := json.Unmarshal(msg.Value, &report); err != nil {
			c.logger.Warn().Err(err).
				Str("key", string(msg.Key)).
				Msg("skipping malformed fill report")
			continue
		}
		if err := handle(&report); err != nil {
			c.logger.Error().Err(err).
				Str("order_id", report.OrderID).
				Msg("fill handler failed")
		}
	}
}

// Close closes the underlying reader.
func (c *FillConsumer) Close() error {
	return c.reader.Close()
}

// ApplyFills returns a handler that records fills against the
// lifecycle manager.
func ApplyFills(manager *lifecycle.Manager) FillHandler {
	return func(report *messaging.FillReport) error {
		qty, err := fpdecimal.FromString(report.FillQuantity)
		if err != nil {
			return fmt.Errorf("parse fill quantity %q: %w", report.FillQuantity, err)
		}
		price, err := fpdecimal.FromString(report.FillPrice)
		if err != nil {
			return fmt.Errorf("parse fill price %q: %w", report.FillPrice, err)
		}
		commission := fpdecimal.Zero
		if report.Commission != "" {
			commission, err = fpdecimal.FromString(report.Commission)
			if err != nil {
				return fmt.Errorf("parse commission %q: %w", report.Commission, err)
			}
		}
		return manager.UpdateFillDetails(report.OrderID, qty, price, commission)
	}
}
