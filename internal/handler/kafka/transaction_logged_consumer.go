package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"dashboard/internal/domain"
	kafka_infra "dashboard/internal/infrastructure/kafka"
)

// TransactionSink receives every decoded ledger event.
type TransactionSink func(ctx context.Context, ev domain.TransactionLoggedEvent) error

// TransactionLoggedMessageHandler decodes ledger events and passes them to sink. Malformed
// messages are logged and skipped so one bad record does not stall the partition.
func TransactionLoggedMessageHandler(sink TransactionSink, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		logger.Debug("Received ledger event",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.String("key", string(msg.Key)),
		)

		var ev domain.TransactionLoggedEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			logger.Error("Failed to unmarshal Kafka message value to TransactionLoggedEvent",
				zap.Error(err),
				zap.ByteString("value", msg.Value),
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
			return nil
		}
		if ev.TransactionID == "" {
			logger.Warn("Skipping ledger event without transaction id", zap.Int64("offset", msg.Offset))
			return nil
		}

		if err := sink(ctx, ev); err != nil {
			return fmt.Errorf("failed to handle ledger event %s: %w", ev.TransactionID, err)
		}
		return nil
	}
}
