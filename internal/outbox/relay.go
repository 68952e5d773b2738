package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dashboard/internal/domain"
	kafkaInfra "dashboard/internal/infrastructure/kafka"
	"dashboard/internal/poller"
	"dashboard/internal/repository/outbox_repo"
)

const (
	relayBatchSize   = 50
	relayMaxAttempts = 5
)

// Relay forwards messages written to the transactional outbox table to Kafka. It is used
// with the postgres ledger store, where the entry and its event commit together.
type Relay struct {
	querier     domain.Querier
	outboxRepo  outbox_repo.OutboxRepository
	producer    kafkaInfra.Producer
	pollTimeout time.Duration
	poller      *poller.Poller
	logger      *zap.Logger
}

func NewRelay(
	querier domain.Querier,
	outboxRepo outbox_repo.OutboxRepository,
	producer kafkaInfra.Producer,
	pollInterval time.Duration,
	pollTimeout time.Duration,
	logger *zap.Logger,
) *Relay {
	r := &Relay{
		querier:     querier,
		outboxRepo:  outboxRepo,
		producer:    producer,
		pollTimeout: pollTimeout,
		logger:      logger,
	}
	r.poller = poller.New(pollInterval, func(ctx context.Context) (bool, error) {
		return false, r.processOutboxMessages(ctx)
	}, logger)
	return r
}

func (r *Relay) Start(ctx context.Context) {
	r.logger.Info("Starting outbox relay...")
	r.poller.Start(ctx)
}

func (r *Relay) Stop() {
	r.logger.Info("Signaling outbox relay to stop...")
	r.poller.Stop()
}

func (r *Relay) Done() <-chan struct{} { return r.poller.Done() }

func (r *Relay) processOutboxMessages(ctx context.Context) error {
	queryCtx, cancel := context.WithTimeout(ctx, r.pollTimeout)
	messages, err := r.outboxRepo.GetPendingMessages(queryCtx, r.querier, relayBatchSize, relayMaxAttempts)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to load outbox messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}
	r.logger.Debug("Found pending outbox messages", zap.Int("count", len(messages)))

	sent := make([]string, 0, len(messages))
	for _, msg := range messages {
		if err := r.producer.Produce(ctx, msg.Key, msg.Topic, msg.Payload); err != nil {
			r.logger.Error("Failed to send outbox message to Kafka",
				zap.String("message_id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Int("attempts", msg.Attempts+1),
				zap.Error(err))
			if err := r.outboxRepo.MarkMessageAsFailed(ctx, r.querier, msg.ID); err != nil {
				r.logger.Error("Failed to mark outbox message as failed", zap.String("message_id", msg.ID), zap.Error(err))
			}
			continue
		}
		sent = append(sent, msg.ID)
	}

	if err := r.outboxRepo.MarkMessagesAsSent(ctx, r.querier, sent); err != nil {
		return err
	}
	if len(sent) > 0 {
		r.logger.Info("Outbox messages sent to Kafka", zap.Int("count", len(sent)))
	}
	return nil
}
