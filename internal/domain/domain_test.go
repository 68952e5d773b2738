package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNormalizePaymentStatus(t *testing.T) {
	tests := map[string]PaymentStatus{
		"paid":      PaymentStatusPaid,
		" UNPAID ":  PaymentStatusUnpaid,
		"PENDING":   PaymentStatusUnpaid,
		"CANCELLED": PaymentStatusCanceled,
		"DECLINED":  PaymentStatusCanceled,
		"refunded":  PaymentStatusRefunded,
		"":          "",
		"BOGUS":     "",
		"settled":   "",
	}
	for raw, want := range tests {
		if got := NormalizePaymentStatus(raw); got != want {
			t.Errorf("NormalizePaymentStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestPaymentExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(time.Minute)

	p := &Payment{Status: PaymentStatusUnpaid, ValidUntil: &until}
	if p.Expired(now) {
		t.Error("payment should not expire before validUntil")
	}
	if !p.Expired(until) {
		t.Error("payment should expire exactly at validUntil")
	}

	p.Status = PaymentStatusPaid
	if p.Expired(until.Add(time.Hour)) {
		t.Error("a paid payment never expires")
	}
	if (&Payment{Status: PaymentStatusCreated}).Expired(now) {
		t.Error("a payment without validUntil never expires")
	}
}

func TestValidatePayment(t *testing.T) {
	var vErr *ValidationError
	if err := ValidatePayment(decimal.Zero, "x"); !errors.As(err, &vErr) || vErr.Field != "amount" {
		t.Errorf("zero amount: err = %v", err)
	}
	if err := ValidatePayment(decimal.NewFromInt(-1), "x"); err == nil {
		t.Error("negative amount accepted")
	}
	if err := ValidatePayment(decimal.NewFromInt(1), "  "); !errors.As(err, &vErr) || vErr.Field != "description" {
		t.Errorf("blank description: err = %v", err)
	}
	if err := ValidatePayment(decimal.NewFromInt(1), "Coffee"); err != nil {
		t.Errorf("valid payment rejected: %v", err)
	}
}

func TestSubscriptionRequestWithDefaults(t *testing.T) {
	req := SubscriptionRequest{}.WithDefaults()
	if req.Title != "New Subscription" || req.Interval != "P1M" || req.ExpiresIn != "P1DT12H" || req.Currency != DefaultCurrency {
		t.Fatalf("unexpected defaults %+v", req)
	}
	if !req.Amount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("amount = %s", req.Amount)
	}

	custom := SubscriptionRequest{Title: "Gold", Amount: decimal.NewFromInt(9)}.WithDefaults()
	if custom.Title != "Gold" || !custom.Amount.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("caller fields overwritten: %+v", custom)
	}
}

func TestSubscriptionStatus(t *testing.T) {
	if NormalizeSubscriptionStatus("canceled") != SubscriptionStatusCancelled {
		t.Error("CANCELED should normalize to CANCELLED")
	}
	if got := NormalizeSubscriptionStatus("SUSPENDED"); got != "" {
		t.Errorf("unknown status normalized to %q", got)
	}
	if SubscriptionStatusPending.Subscribed() || !SubscriptionStatusTrial.Subscribed() {
		t.Error("only ACTIVE and TRIAL count as subscribed")
	}
	if SubscriptionStatusFailed.Cancellable() || !SubscriptionStatusActive.Cancellable() {
		t.Error("unexpected Cancellable result")
	}
}

func TestPaymentTransitions(t *testing.T) {
	tests := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{PaymentStatusCreated, PaymentStatusUnpaid, true},
		{PaymentStatusCreated, PaymentStatusPaid, true},
		{PaymentStatusUnpaid, PaymentStatusPaid, true},
		{PaymentStatusUnpaid, PaymentStatusExpired, true},
		{PaymentStatusUnpaid, PaymentStatusUnpaid, true},
		{PaymentStatusPaid, PaymentStatusRefunded, true},
		{PaymentStatusPaid, PaymentStatusUnpaid, false},
		{PaymentStatusPaid, PaymentStatusCanceled, false},
		{PaymentStatusUnpaid, PaymentStatusCreated, false},
		{PaymentStatusUnpaid, PaymentStatusRefunded, false},
		{PaymentStatusCanceled, PaymentStatusPaid, false},
		{PaymentStatusExpired, PaymentStatusPaid, false},
		{PaymentStatusRefunded, PaymentStatusPaid, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSubscriptionTransitions(t *testing.T) {
	if !SubscriptionStatusPending.CanTransitionTo(SubscriptionStatusActive) ||
		!SubscriptionStatusTrial.CanTransitionTo(SubscriptionStatusActive) ||
		!SubscriptionStatusActive.CanTransitionTo(SubscriptionStatusCancelled) {
		t.Error("forward transition refused")
	}
	if SubscriptionStatusActive.CanTransitionTo(SubscriptionStatusPending) ||
		SubscriptionStatusCancelled.CanTransitionTo(SubscriptionStatusActive) ||
		SubscriptionStatusActive.CanTransitionTo(SubscriptionStatusTrial) {
		t.Error("backward transition allowed")
	}
}

func TestTransitionError(t *testing.T) {
	err := TransitionError("refund payment", "UNPAID")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v does not wrap ErrInvalidTransition", err)
	}
}

func TestGatewayErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := error(&GatewayError{Op: "create payment", Err: cause})
	if !errors.Is(err, cause) {
		t.Fatal("GatewayError should unwrap to its cause")
	}
}
