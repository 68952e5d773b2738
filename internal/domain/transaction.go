package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypePayment       TransactionType = "payment"
	TransactionTypePaymentRefund TransactionType = "payment_refund"
	TransactionTypeSubscription  TransactionType = "subscription"
)

// Ledger defaults applied to fields the caller leaves empty.
const (
	DefaultUserID        = "guest"
	DefaultPlanOrItem    = "N/A"
	DefaultPaymentMethod = "QR Code"
	DefaultLedgerStatus  = "pending"
)

// TransactionRecord is one ledger entry. Entries are never mutated or deleted once appended.
type TransactionRecord struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Type          TransactionType `json:"type"`
	PlanOrItem    string          `json:"planOrItem"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"paymentMethod"`
	Date          time.Time       `json:"date"`
}
