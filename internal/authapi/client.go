// Package authapi is an HTTP client for the authentication service. It
// covers only what the token lifecycle needs: login URIs, device grants,
// token retrieval, exchange, refresh and liveness. Requests are single-shot
// and blocking — retry policy belongs to the callers that want it.
package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/fedgrid/fedgrid-go/internal/tokens"
)

const userAgent = "fedgrid/0.1"

// Client talks to one authentication service deployment.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ tokens.AuthAPI = (*Client)(nil)

// New creates an authentication service client.
// baseURL is the service root, e.g. "https://authn.fedgrid.example/api/v1".
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}
}

// Ping checks service liveness.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "/ping", nil, nil)
}

// LoginURL requests a browser authorization URI.
func (c *Client) LoginURL(ctx context.Context) (string, error) {
	var out struct {
		AuthorizationURI string `json:"authorization_uri"`
	}

	q := url.Values{"flow": {"legacy"}}
	if err := c.get(ctx, "/login", q, &out); err != nil {
		return "", err
	}

	return out.AuthorizationURI, nil
}

// DeviceLogin requests a device authorization grant.
func (c *Client) DeviceLogin(ctx context.Context) (*tokens.DeviceGrant, error) {
	var out struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
	}

	q := url.Values{"flow": {"device"}}
	if err := c.get(ctx, "/login", q, &out); err != nil {
		return nil, err
	}

	return &tokens.DeviceGrant{
		DeviceCode:              out.DeviceCode,
		UserCode:                out.UserCode,
		VerificationURI:         out.VerificationURI,
		VerificationURIComplete: out.VerificationURIComplete,
	}, nil
}

// tokenResponse wraps a bundle the way the token endpoint returns it.
type tokenResponse struct {
	Token *tokens.Bundle `json:"token"`
}

// Token redeems a browser-flow authorization code for a token bundle.
func (c *Client) Token(ctx context.Context, code, state string) (*tokens.Bundle, error) {
	var out tokenResponse

	q := url.Values{"code": {code}, "state": {state}}
	if err := c.get(ctx, "/token", q, &out); err != nil {
		return nil, err
	}

	return unwrapBundle(out)
}

// DeviceToken redeems a device code for a token bundle. While the user has
// not yet authorized, the service answers with an error status — callers
// poll until it stops doing that.
func (c *Client) DeviceToken(ctx context.Context, deviceCode string) (*tokens.Bundle, error) {
	var out tokenResponse

	q := url.Values{"device_code": {deviceCode}}
	if err := c.get(ctx, "/token", q, &out); err != nil {
		return nil, err
	}

	return unwrapBundle(out)
}

// ExchangeToken trades an access token (and optionally its refresh token)
// for a bundle scoped to another service.
func (c *Client) ExchangeToken(ctx context.Context, service, accessToken, refreshToken string) (*tokens.Bundle, error) {
	var out tokens.Bundle

	q := url.Values{
		"service":      {service},
		"access_token": {accessToken},
	}
	if refreshToken != "" {
		q.Set("refresh_token", refreshToken)
	}

	if err := c.get(ctx, "/token/exchange", q, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// RefreshToken redeems a refresh token for a fresh bundle, invalidating the
// pair it was issued alongside.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*tokens.Bundle, error) {
	var out tokens.Bundle

	q := url.Values{"refresh_token": {refreshToken}}
	if err := c.get(ctx, "/token/refresh", q, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// unwrapBundle validates a wrapped token response.
func unwrapBundle(resp tokenResponse) (*tokens.Bundle, error) {
	if resp.Token == nil || resp.Token.AccessToken == "" {
		return nil, fmt.Errorf("authapi: response missing token")
	}

	return resp.Token, nil
}

// get issues a GET request against the service and decodes a JSON response
// into out (skipped when out is nil). Non-2xx statuses are classified into
// the package's sentinel errors.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("authapi: building request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authapi: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			body = []byte("(failed to read response body)")
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
			Err:        classifyStatus(resp.StatusCode),
		}

		c.logger.Debug("request failed",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return apiErr
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("authapi: decoding %s response: %w", path, err)
	}

	return nil
}

// errorMessage extracts the service's error detail from a response body,
// falling back to the raw body.
func errorMessage(body []byte) string {
	var parsed struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}

	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}

		if parsed.Detail != "" {
			return parsed.Detail
		}
	}

	return string(body)
}
