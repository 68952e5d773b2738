package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionLoggedEvent is published to the event stream after a ledger append.
type TransactionLoggedEvent struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Type          TransactionType `json:"type"`
	PlanOrItem    string          `json:"plan_or_item"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	Timestamp     time.Time       `json:"timestamp"`
}

func NewTransactionLoggedEvent(rec TransactionRecord) TransactionLoggedEvent {
	return TransactionLoggedEvent{
		TransactionID: rec.ID,
		UserID:        rec.UserID,
		Type:          rec.Type,
		PlanOrItem:    rec.PlanOrItem,
		Amount:        rec.Amount,
		Currency:      rec.Currency,
		Status:        rec.Status,
		PaymentMethod: rec.PaymentMethod,
		Timestamp:     rec.Date,
	}
}
