package fib

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"

	"dashboard/internal/domain"
)

type monetaryValue struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type createPaymentRequest struct {
	MonetaryValue monetaryValue `json:"monetaryValue"`
	Description   string        `json:"description"`
	CallbackURL   string        `json:"callbackUrl,omitempty"`
}

// CreatePayment validates the request locally and only then contacts the gateway.
func (c *Client) CreatePayment(ctx context.Context, amount decimal.Decimal, description, callbackURL string) (*domain.PaymentCreated, error) {
	if err := domain.ValidatePayment(amount, description); err != nil {
		return nil, err
	}

	body := createPaymentRequest{
		MonetaryValue: monetaryValue{Amount: amount, Currency: domain.DefaultCurrency},
		Description:   description,
		CallbackURL:   callbackURL,
	}
	raw, err := c.Request(ctx, ScopePayments, fasthttp.MethodPost, "/payments", body)
	if err != nil {
		return nil, err
	}
	created, err := decode[domain.PaymentCreated](raw, "create payment")
	if err != nil {
		return nil, err
	}
	created.Raw = raw
	return created, nil
}

func (c *Client) CheckPaymentStatus(ctx context.Context, paymentID string) (*domain.PaymentStatusResult, error) {
	raw, err := c.Request(ctx, ScopePayments, fasthttp.MethodGet, "/payments/"+url.PathEscape(paymentID)+"/status", nil)
	if err != nil {
		return nil, err
	}
	status, err := decode[domain.PaymentStatusResult](raw, "check payment status")
	if err != nil {
		return nil, err
	}
	status.Raw = raw
	return status, nil
}

func (c *Client) CancelPayment(ctx context.Context, paymentID string) (json.RawMessage, error) {
	return c.Request(ctx, ScopePayments, fasthttp.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/cancel", struct{}{})
}

func (c *Client) RefundPayment(ctx context.Context, paymentID string) (json.RawMessage, error) {
	return c.Request(ctx, ScopePayments, fasthttp.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/refund", struct{}{})
}
