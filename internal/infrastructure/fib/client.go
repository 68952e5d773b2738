// Package fib is the client for the upstream payment, subscription and SSO gateway.
package fib

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"dashboard/internal/domain"
)

const (
	DefaultBaseURL = "https://fib.stage.fib.iq/protected/v1"
	DefaultTimeout = 10 * time.Second
)

// Scope selects which credential set authenticates a request.
type Scope string

const (
	ScopePayments      Scope = "payments"
	ScopeSubscriptions Scope = "subscriptions"
)

// TokenSource is satisfied by *tokencache.Cache.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type SSOCredentials struct {
	URL          string
	ClientID     string
	ClientSecret string
}

// NewHTTPClient returns the pooled client shared by the token exchange and every gateway
// call. timeout bounds a single call when the caller's context has no earlier deadline.
func NewHTTPClient(timeout time.Duration) *fasthttp.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &fasthttp.Client{
		MaxConnsPerHost:     100,
		MaxIdleConnDuration: 30 * time.Second,
		ReadTimeout:         timeout,
		WriteTimeout:        timeout,
		MaxConnWaitTimeout:  timeout,
	}
}

type Client struct {
	baseURL    string
	httpClient *fasthttp.Client
	tokens     map[Scope]TokenSource
	sso        SSOCredentials
	logger     *zap.Logger
}

func NewClient(baseURL string, httpClient *fasthttp.Client, tokens map[Scope]TokenSource, sso SSOCredentials, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		sso:        sso,
		logger:     logger,
	}
}

// Request issues an authenticated JSON call against the gateway API and returns the
// upstream body unmodified.
func (c *Client) Request(ctx context.Context, scope Scope, method, path string, body any) (json.RawMessage, error) {
	op := method + " " + path

	source, ok := c.tokens[scope]
	if !ok {
		return nil, &domain.GatewayError{Op: op, Err: fmt.Errorf("no credentials configured for scope %q", scope)}
	}
	token, err := source.Token(ctx)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, op, method, c.baseURL+path, body, "Bearer "+token)
}

func (c *Client) do(ctx context.Context, op, method, uri string, body any, authorization string) (json.RawMessage, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", authorization)
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &domain.GatewayError{Op: op, Err: fmt.Errorf("failed to encode request body: %w", err)}
		}
		req.SetBody(encoded)
	}

	if err := send(ctx, c.httpClient, req, resp); err != nil {
		c.logger.Error("Gateway request failed", zap.String("op", op), zap.Error(err))
		return nil, &domain.GatewayError{Op: op, Err: err}
	}

	// resp is released on return, so the body is copied out.
	statusCode := resp.StatusCode()
	payload := append([]byte(nil), resp.Body()...)

	if statusCode < 200 || statusCode > 299 {
		c.logger.Error("Gateway returned error status",
			zap.String("op", op),
			zap.Int("status_code", statusCode),
			zap.ByteString("body", payload),
		)
		return nil, &domain.GatewayError{Op: op, StatusCode: statusCode, Body: payload}
	}

	c.logger.Debug("Gateway request succeeded", zap.String("op", op), zap.Int("status_code", statusCode))
	if len(bytes.TrimSpace(payload)) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(payload), nil
}

// send runs req with a deadline taken from ctx, capped by the client's read timeout.
func send(ctx context.Context, httpClient *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	budget := httpClient.ReadTimeout
	if budget <= 0 {
		budget = DefaultTimeout
	}
	deadline := time.Now().Add(budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return httpClient.DoDeadline(req, resp, deadline)
}

func basicAuth(id, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(id+":"+secret))
}

func decode[T any](raw json.RawMessage, op string) (*T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &domain.GatewayError{Op: op, Body: raw, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return &out, nil
}
