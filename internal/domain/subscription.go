package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusTrial     SubscriptionStatus = "TRIAL"
	SubscriptionStatusFailed    SubscriptionStatus = "FAILED"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
)

func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusFailed || s == SubscriptionStatusCancelled
}

// Cancellable reports whether an explicit cancellation is allowed from s.
func (s SubscriptionStatus) Cancellable() bool {
	switch s {
	case SubscriptionStatusPending, SubscriptionStatusActive, SubscriptionStatusTrial:
		return true
	}
	return false
}

// Subscribed is the membership check: only ACTIVE and TRIAL count.
func (s SubscriptionStatus) Subscribed() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrial
}

// NormalizeSubscriptionStatus maps upstream spellings onto the local enum and yields ""
// for anything else.
func NormalizeSubscriptionStatus(raw string) SubscriptionStatus {
	switch s := SubscriptionStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case "CANCELED":
		return SubscriptionStatusCancelled
	case SubscriptionStatusPending, SubscriptionStatusActive, SubscriptionStatusTrial,
		SubscriptionStatusFailed, SubscriptionStatusCancelled:
		return s
	}
	return ""
}

var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusPending: {SubscriptionStatusActive, SubscriptionStatusTrial, SubscriptionStatusFailed, SubscriptionStatusCancelled},
	SubscriptionStatusTrial:   {SubscriptionStatusActive, SubscriptionStatusFailed, SubscriptionStatusCancelled},
	SubscriptionStatusActive:  {SubscriptionStatusFailed, SubscriptionStatusCancelled},
}

// CanTransitionTo reports whether next may follow s. A trial converting to a paid plan
// moves from TRIAL to ACTIVE.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	if next == s {
		return true
	}
	for _, allowed := range subscriptionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Subscription struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	Amount       decimal.Decimal    `json:"amount"`
	Currency     string             `json:"currency"`
	Status       SubscriptionStatus `json:"status"`
	CreatedAt    time.Time          `json:"createdAt"`
	ValidUntil   string             `json:"validUntil,omitempty"`
	QRCode       string             `json:"qrCode,omitempty"`
	ReadableCode string             `json:"readableCode,omitempty"`
	AppLink      string             `json:"appLink,omitempty"`
}

// SubscriptionRequest carries the plan fields accepted by POST /api/subscription/create.
type SubscriptionRequest struct {
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Interval          string          `json:"interval"`
	TrialPeriod       *string         `json:"trialPeriod"`
	ExpiresIn         string          `json:"expiresIn"`
	StatusCallbackURL string          `json:"statusCallbackUrl"`
	UserID            string          `json:"userId"`
}

// WithDefaults fills the plan fields the dashboard leaves empty.
func (r SubscriptionRequest) WithDefaults() SubscriptionRequest {
	if r.Title == "" {
		r.Title = "New Subscription"
	}
	if r.Description == "" {
		r.Description = "New Subscription Description"
	}
	if r.Amount.IsZero() {
		r.Amount = decimal.NewFromInt(500)
	}
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
	if r.Interval == "" {
		r.Interval = "P1M"
	}
	if r.ExpiresIn == "" {
		r.ExpiresIn = "P1DT12H"
	}
	if r.StatusCallbackURL == "" {
		r.StatusCallbackURL = "https://yourdomain.com/callback"
	}
	return r
}

func (r SubscriptionRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "amount must be greater than zero"}
	}
	return nil
}
