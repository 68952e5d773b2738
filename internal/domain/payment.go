package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers, both to the gateway and to the dashboard.
	decimal.MarshalJSONWithoutQuotes = true
}

type PaymentStatus string

const (
	PaymentStatusCreated  PaymentStatus = "CREATED"
	PaymentStatusUnpaid   PaymentStatus = "UNPAID"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusCanceled PaymentStatus = "CANCELED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
	PaymentStatusExpired  PaymentStatus = "EXPIRED"
)

// IsTerminal reports whether no further transition is possible from s.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCanceled, PaymentStatusRefunded, PaymentStatusExpired:
		return true
	}
	return false
}

// AwaitingPayment is true while the QR code can still be paid.
func (s PaymentStatus) AwaitingPayment() bool {
	return s == PaymentStatusCreated || s == PaymentStatusUnpaid
}

// NormalizePaymentStatus maps upstream spellings onto the local enum. The gateway reports
// an open payment as PENDING and a rejected one as DECLINED. Anything outside the enum
// yields "".
func NormalizePaymentStatus(raw string) PaymentStatus {
	switch s := PaymentStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case "CANCELLED", "DECLINED":
		return PaymentStatusCanceled
	case "PENDING":
		return PaymentStatusUnpaid
	case PaymentStatusCreated, PaymentStatusUnpaid, PaymentStatusPaid,
		PaymentStatusCanceled, PaymentStatusRefunded, PaymentStatusExpired:
		return s
	}
	return ""
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCreated: {PaymentStatusUnpaid, PaymentStatusPaid, PaymentStatusCanceled, PaymentStatusExpired},
	PaymentStatusUnpaid:  {PaymentStatusPaid, PaymentStatusCanceled, PaymentStatusExpired},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

// CanTransitionTo reports whether next may follow s. Repeating the current status is
// always allowed.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if next == s {
		return true
	}
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Kind string

const (
	KindPayment      Kind = "Payment"
	KindSubscription Kind = "Subscription"
)

const DefaultCurrency = "IQD"

type Payment struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Description  string          `json:"description"`
	Status       PaymentStatus   `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	ValidUntil   *time.Time      `json:"validUntil,omitempty"`
	QRCode       string          `json:"qrCode,omitempty"`
	ReadableCode string          `json:"readableCode,omitempty"`
}

// Expired reports whether the payment window has elapsed at now without a payment.
func (p *Payment) Expired(now time.Time) bool {
	if p.ValidUntil == nil || !p.Status.AwaitingPayment() {
		return false
	}
	return !now.Before(*p.ValidUntil)
}

// ValidatePayment checks the fields the gateway requires before a payment can be created.
func ValidatePayment(amount decimal.Decimal, description string) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "amount must be greater than zero"}
	}
	if strings.TrimSpace(description) == "" {
		return &ValidationError{Field: "description", Message: "description is required"}
	}
	return nil
}
