// Package outbox drains ledger events to Kafka off the request path.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"dashboard/internal/domain"
	kafkaInfra "dashboard/internal/infrastructure/kafka"
)

var (
	ErrQueueFull = errors.New("outbox queue is full")
	ErrStopped   = errors.New("outbox processor stopped")
)

type Processor struct {
	producer     kafkaInfra.Producer
	topic        string
	queue        chan domain.TransactionLoggedEvent
	flushTimeout time.Duration
	logger       *zap.Logger

	// mu is held for reading while enqueuing and for writing while stopping, so nothing
	// lands in the queue after the final flush has started.
	mu             sync.RWMutex
	stopped        bool
	shutdownSignal chan struct{}
	done           chan struct{}
}

func NewProcessor(
	producer kafkaInfra.Producer,
	topic string,
	queueSize int,
	flushTimeout time.Duration,
	logger *zap.Logger,
) *Processor {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Processor{
		producer:       producer,
		topic:          topic,
		queue:          make(chan domain.TransactionLoggedEvent, queueSize),
		flushTimeout:   flushTimeout,
		logger:         logger,
		shutdownSignal: make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Publish queues the record without waiting for the broker. A full queue drops the event.
func (p *Processor) Publish(ctx context.Context, rec domain.TransactionRecord) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- domain.NewTransactionLoggedEvent(rec):
		return nil
	default:
		return ErrQueueFull
	}
}

// Start runs the drain loop until Stop is called or ctx ends. Events still queued at
// shutdown are flushed within flushTimeout.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("Starting outbox processor...", zap.String("topic", p.topic))
	go func() {
		defer close(p.done)
		for {
			select {
			case ev := <-p.queue:
				p.send(ctx, ev)
			case <-p.shutdownSignal:
				p.flush()
				return
			case <-ctx.Done():
				p.Stop()
				p.flush()
				return
			}
		}
	}()
}

// Stop refuses further events and signals the drain loop to flush and exit.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.logger.Info("Signaling outbox processor to stop...")
	close(p.shutdownSignal)
}

// Done is closed once the drain loop has exited.
func (p *Processor) Done() <-chan struct{} { return p.done }

func (p *Processor) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), p.flushTimeout)
	defer cancel()
	for {
		select {
		case ev := <-p.queue:
			p.send(ctx, ev)
		default:
			p.logger.Info("Outbox processor stopped.")
			return
		}
	}
}

func (p *Processor) send(ctx context.Context, ev domain.TransactionLoggedEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("Failed to encode transaction event", zap.String("transaction_id", ev.TransactionID), zap.Error(err))
		return
	}
	if err := p.producer.Produce(ctx, ev.TransactionID, p.topic, payload); err != nil {
		p.logger.Error("Failed to send transaction event to Kafka",
			zap.String("transaction_id", ev.TransactionID),
			zap.String("topic", p.topic),
			zap.Error(err))
		return
	}
	p.logger.Debug("Transaction event sent to Kafka", zap.String("transaction_id", ev.TransactionID), zap.String("topic", p.topic))
}
