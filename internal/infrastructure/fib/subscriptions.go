package fib

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/valyala/fasthttp"

	"dashboard/internal/domain"
)

type createSubscriptionRequest struct {
	Title             string        `json:"title"`
	Description       string        `json:"description"`
	MonetaryValue     monetaryValue `json:"monetaryValue"`
	Interval          string        `json:"interval"`
	TrialPeriod       *string       `json:"trialPeriod"`
	ExpiresIn         string        `json:"expiresIn"`
	StatusCallbackURL string        `json:"statusCallbackUrl"`
}

type subscriptionCreatedResponse struct {
	SubscriptionID string `json:"subscriptionId"`
	QRCode         string `json:"qrCode"`
	ReadableCode   string `json:"readableCode"`
	ValidUntil     string `json:"validUntil"`
	AppLink        string `json:"appLink"`
}

// CreateSubscription maps the upstream response onto the stable internal shape. The
// status is always PENDING: the gateway reports the outcome only asynchronously.
func (c *Client) CreateSubscription(ctx context.Context, req domain.SubscriptionRequest) (*domain.SubscriptionCreated, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body := createSubscriptionRequest{
		Title:             req.Title,
		Description:       req.Description,
		MonetaryValue:     monetaryValue{Amount: req.Amount, Currency: req.Currency},
		Interval:          req.Interval,
		TrialPeriod:       req.TrialPeriod,
		ExpiresIn:         req.ExpiresIn,
		StatusCallbackURL: req.StatusCallbackURL,
	}
	raw, err := c.Request(ctx, ScopeSubscriptions, fasthttp.MethodPost, "/subscriptions", body)
	if err != nil {
		return nil, err
	}
	upstream, err := decode[subscriptionCreatedResponse](raw, "create subscription")
	if err != nil {
		return nil, err
	}

	return &domain.SubscriptionCreated{
		ID:           upstream.SubscriptionID,
		QRCode:       upstream.QRCode,
		ReadableCode: upstream.ReadableCode,
		ValidUntil:   upstream.ValidUntil,
		AppLink:      upstream.AppLink,
		Status:       string(domain.SubscriptionStatusPending),
	}, nil
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*domain.SubscriptionDetails, error) {
	raw, err := c.Request(ctx, ScopeSubscriptions, fasthttp.MethodGet, "/subscriptions/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		return nil, err
	}
	details, err := decode[domain.SubscriptionDetails](raw, "get subscription")
	if err != nil {
		return nil, err
	}
	details.Raw = raw
	return details, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (json.RawMessage, error) {
	return c.Request(ctx, ScopeSubscriptions, fasthttp.MethodPost, "/subscriptions/"+url.PathEscape(subscriptionID)+"/cancel", nil)
}
