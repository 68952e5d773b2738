package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type OutboxMessageStatus string

const (
	OutboxStatusPending OutboxMessageStatus = "PENDING"
	OutboxStatusSent    OutboxMessageStatus = "SENT"
	OutboxStatusFailed  OutboxMessageStatus = "FAILED"
)

const MessageTypeTransactionLogged = "TransactionLogged"

// OutboxMessage is a ledger event stored alongside its ledger entry until it reaches Kafka.
type OutboxMessage struct {
	ID          string
	AggregateID string
	MessageType string
	Topic       string
	Key         string
	Payload     []byte
	Status      OutboxMessageStatus
	Attempts    int
	CreatedAt   time.Time
	SentAt      *time.Time
}

// NewTransactionOutboxMessage wraps the TransactionLogged event for rec, keyed by the
// transaction id.
func NewTransactionOutboxMessage(id string, rec TransactionRecord, topic string) (*OutboxMessage, error) {
	payload, err := json.Marshal(NewTransactionLoggedEvent(rec))
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction event: %w", err)
	}
	return &OutboxMessage{
		ID:          id,
		AggregateID: rec.ID,
		MessageType: MessageTypeTransactionLogged,
		Topic:       topic,
		Key:         rec.ID,
		Payload:     payload,
		Status:      OutboxStatusPending,
		CreatedAt:   rec.Date,
	}, nil
}
