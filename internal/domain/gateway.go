package domain

import "encoding/json"

// PaymentCreated is the upstream response to a payment creation. Raw keeps the body
// exactly as received so it can be passed through to the dashboard.
type PaymentCreated struct {
	PaymentID        string          `json:"paymentId"`
	ReadableCode     string          `json:"readableCode"`
	QRCode           string          `json:"qrCode"`
	ValidUntil       string          `json:"validUntil"`
	PersonalAppLink  string          `json:"personalAppLink"`
	BusinessAppLink  string          `json:"businessAppLink"`
	CorporateAppLink string          `json:"corporateAppLink"`
	Status           string          `json:"status"`
	Raw              json.RawMessage `json:"-"`
}

type PaymentStatusResult struct {
	PaymentID  string          `json:"paymentId"`
	Status     string          `json:"status"`
	PaidAt     string          `json:"paidAt,omitempty"`
	ValidUntil string          `json:"validUntil,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// SubscriptionCreated is the stable internal projection of an upstream subscription creation.
type SubscriptionCreated struct {
	ID           string `json:"id"`
	QRCode       string `json:"qrCode"`
	ReadableCode string `json:"readableCode"`
	ValidUntil   string `json:"validUntil"`
	AppLink      string `json:"appLink"`
	Status       string `json:"status"`
}

type SubscriptionDetails struct {
	SubscriptionID string          `json:"subscriptionId"`
	Status         string          `json:"status"`
	Raw            json.RawMessage `json:"-"`
}
