package fib

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/valyala/fasthttp"

	"dashboard/internal/domain"
)

type initiateSSORequest struct {
	RedirectionURL string `json:"redirectionUrl,omitempty"`
}

// InitiateSSO starts an SSO session. SSO endpoints authenticate with the SSO client
// identifier and secret over basic auth rather than a bearer token.
func (c *Client) InitiateSSO(ctx context.Context, redirectionURL string) (json.RawMessage, error) {
	return c.do(ctx, "initiate sso", fasthttp.MethodPost, c.sso.URL,
		initiateSSORequest{RedirectionURL: redirectionURL}, basicAuth(c.sso.ClientID, c.sso.ClientSecret))
}

// GetSSOUserDetails fetches the user behind an authorization code. The lookup endpoint
// rejects the dashed form of the code, so dashes are stripped first.
func (c *Client) GetSSOUserDetails(ctx context.Context, code string) (json.RawMessage, error) {
	cleaned := CleanSSOCode(code)
	if cleaned == "" {
		return nil, &domain.ValidationError{Field: "code", Message: "authorization code is required"}
	}

	endpoint := strings.TrimRight(c.sso.URL, "/") + "/" + url.PathEscape(cleaned) + "/details"
	return c.do(ctx, "sso user details", fasthttp.MethodGet, endpoint, nil, basicAuth(c.sso.ClientID, c.sso.ClientSecret))
}

func CleanSSOCode(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), "-", "")
}
