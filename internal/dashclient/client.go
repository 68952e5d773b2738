// Package dashclient talks to the dashboard HTTP API on behalf of dashctl.
package dashclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"

	"dashboard/internal/domain"
)

const (
	DefaultBaseURL = "http://localhost:3001"
	DefaultTimeout = 15 * time.Second
)

// APIError is a non-2xx answer from the dashboard.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dashboard returned %d: %s", e.StatusCode, e.Message)
}

// ActionResult mirrors the {success, data, error} body of cancel and refund.
type ActionResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StatusResult is the subset of a status body the CLI acts on. Raw is the body as received.
type StatusResult struct {
	ID     string          `json:"paymentId"`
	Status string          `json:"status"`
	Notice string          `json:"notice,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// SSOSession is the part of an SSO initiation body needed to poll for the user.
type SSOSession struct {
	AuthorizationCode string          `json:"ssoAuthorizationCode"`
	LegacyCode        string          `json:"authorizationCode"`
	QRCode            string          `json:"qrCode"`
	ValidUntil        string          `json:"validUntil"`
	Raw               json.RawMessage `json:"-"`
}

func (s *SSOSession) Code() string {
	if s.AuthorizationCode != "" {
		return s.AuthorizationCode
	}
	return s.LegacyCode
}

type Client struct {
	baseURL    string
	session    string
	httpClient *fasthttp.Client
}

func New(baseURL, session string, httpClient *fasthttp.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &fasthttp.Client{
			ReadTimeout:  DefaultTimeout,
			WriteTimeout: DefaultTimeout,
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		session:    session,
		httpClient: httpClient,
	}
}

func (c *Client) CreatePayment(ctx context.Context, amount decimal.Decimal, description string) (json.RawMessage, error) {
	body := map[string]any{"amount": amount, "description": description}
	return c.do(ctx, fasthttp.MethodPost, "/api/payment", body)
}

func (c *Client) PaymentStatus(ctx context.Context, paymentID string) (*StatusResult, error) {
	raw, err := c.do(ctx, fasthttp.MethodGet, "/api/payment/"+url.PathEscape(paymentID)+"/status", nil)
	if err != nil {
		return nil, err
	}
	return decodeStatus(raw)
}

func (c *Client) CancelPayment(ctx context.Context, paymentID string) (*ActionResult, error) {
	return c.action(ctx, "/api/payment/"+url.PathEscape(paymentID)+"/cancel")
}

func (c *Client) RefundPayment(ctx context.Context, paymentID string) (*ActionResult, error) {
	return c.action(ctx, "/api/payment/"+url.PathEscape(paymentID)+"/refund")
}

func (c *Client) InitiateSSO(ctx context.Context, redirectionURL string) (*SSOSession, error) {
	raw, err := c.do(ctx, fasthttp.MethodPost, "/api/sso/initiate", map[string]string{"redirectionUrl": redirectionURL})
	if err != nil {
		return nil, err
	}
	var s SSOSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode sso session: %w", err)
	}
	s.Raw = raw
	return &s, nil
}

func (c *Client) SSOUserDetails(ctx context.Context, code string) (json.RawMessage, error) {
	return c.do(ctx, fasthttp.MethodPost, "/api/sso/user-details", map[string]string{"code": code})
}

func (c *Client) CreateSubscription(ctx context.Context, req domain.SubscriptionRequest) (*domain.SubscriptionCreated, error) {
	raw, err := c.do(ctx, fasthttp.MethodPost, "/api/subscription/create", req)
	if err != nil {
		return nil, err
	}
	var created domain.SubscriptionCreated
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}
	return &created, nil
}

func (c *Client) SubscriptionStatus(ctx context.Context, subscriptionID string) (*StatusResult, error) {
	raw, err := c.do(ctx, fasthttp.MethodGet, "/api/subscription/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		return nil, err
	}
	res, err := decodeStatus(raw)
	if err != nil {
		return nil, err
	}
	res.ID = subscriptionID
	return res, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (json.RawMessage, error) {
	return c.do(ctx, fasthttp.MethodPost, "/api/subscription/"+url.PathEscape(subscriptionID)+"/cancel", nil)
}

func (c *Client) CurrentSubscription(ctx context.Context) (*domain.Subscription, error) {
	raw, err := c.do(ctx, fasthttp.MethodGet, "/api/subscription/current", nil)
	if err != nil {
		return nil, err
	}
	var sub domain.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %w", err)
	}
	return &sub, nil
}

func (c *Client) Transactions(ctx context.Context, query url.Values) ([]domain.TransactionRecord, error) {
	path := "/api/transactions"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	raw, err := c.do(ctx, fasthttp.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var recs []domain.TransactionRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	return recs, nil
}

func (c *Client) action(ctx context.Context, path string) (*ActionResult, error) {
	raw, err := c.do(ctx, fasthttp.MethodPost, path, nil)
	if err != nil {
		return nil, err
	}
	var res ActionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode action result: %w", err)
	}
	return &res, nil
}

func decodeStatus(raw json.RawMessage) (*StatusResult, error) {
	var res StatusResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	res.Raw = raw
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}
	if c.session != "" {
		req.Header.Set("X-Session-ID", c.session)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(DefaultTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.httpClient.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	data := append([]byte(nil), resp.Body()...)
	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, &APIError{StatusCode: code, Message: errorMessage(data)}
	}
	return data, nil
}

// errorMessage pulls "error" out of a JSON error body, falling back to the raw text.
func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
