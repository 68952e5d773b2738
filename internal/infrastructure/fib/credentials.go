package fib

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"

	"dashboard/internal/domain"
)

// ClientCredentials performs the OAuth2 client-credentials grant against the gateway's
// auth endpoint. It implements tokencache.Exchanger.
type ClientCredentials struct {
	AuthURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   *fasthttp.Client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (cc *ClientCredentials) Exchange(ctx context.Context) (string, time.Duration, error) {
	const op = "token exchange"

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cc.ClientID)
	form.Set("client_secret", cc.ClientSecret)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(cc.AuthURL)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.SetBodyString(form.Encode())

	httpClient := cc.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	if err := send(ctx, httpClient, req, resp); err != nil {
		return "", 0, &domain.GatewayError{Op: op, Err: err}
	}

	statusCode := resp.StatusCode()
	body := append([]byte(nil), resp.Body()...)
	if statusCode < 200 || statusCode > 299 {
		return "", 0, &domain.GatewayError{Op: op, StatusCode: statusCode, Body: body}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, &domain.GatewayError{Op: op, Body: body, Err: fmt.Errorf("failed to decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return "", 0, &domain.GatewayError{Op: op, Body: body, Err: fmt.Errorf("token response has no access_token")}
	}
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}
