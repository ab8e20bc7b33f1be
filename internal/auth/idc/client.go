// Package idc implements the AWS SSO OIDC protocol used by IdC and Builder ID
// credentials: client registration, device authorization, token polling and
// refresh-token exchange.
package idc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth"
)

const (
	// DefaultRegion is used when a credential carries no region.
	DefaultRegion = "us-east-1"

	// builderIDStartURL is Kiro's start URL for Builder ID device auth.
	builderIDStartURL = "https://view.awsapps.com/start"

	// kiroUserAgent matches the official Kiro IDE.
	kiroUserAgent = "KiroIDE"

	// idcAmzUserAgent mirrors the IDE's token refresh requests. The IDC token
	// endpoint rejects refreshes without it.
	idcAmzUserAgent = "aws-sdk-js/3.738.0 ua/2.1 os/other lang/js md/browser#unknown_unknown api/sso-oidc#3.738.0 m/E KiroIDE"
)

var registrationScopes = []string{
	"codewhisperer:completions",
	"codewhisperer:analysis",
	"codewhisperer:conversations",
	"codewhisperer:transformations",
	"codewhisperer:taskassist",
}

// Client is a stateless adapter for the SSO OIDC endpoints. Retry policy
// lives in the orchestrator, never here.
type Client struct {
	httpClient *http.Client
	// endpoint overrides the per-region OIDC host; tests point it at a fake.
	endpoint string
}

// NewClient returns a Client using the injected HTTP client.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{httpClient: httpClient}
}

func (c *Client) oidcEndpoint(region string) string {
	if c.endpoint != "" {
		return c.endpoint
	}
	if region == "" {
		region = DefaultRegion
	}
	return fmt.Sprintf("https://oidc.%s.amazonaws.com", region)
}

// RegisterClientResponse from /client/register.
type RegisterClientResponse struct {
	ClientID              string `json:"clientId"`
	ClientSecret          string `json:"clientSecret"`
	ClientIDIssuedAt      int64  `json:"clientIdIssuedAt"`
	ClientSecretExpiresAt int64  `json:"clientSecretExpiresAt"`
}

// StartDeviceAuthResponse from /device_authorization.
type StartDeviceAuthResponse struct {
	DeviceCode              string `json:"deviceCode"`
	UserCode                string `json:"userCode"`
	VerificationURI         string `json:"verificationUri"`
	VerificationURIComplete string `json:"verificationUriComplete"`
	ExpiresIn               int    `json:"expiresIn"`
	Interval                int    `json:"interval"`
}

// tokenResponse from /token.
type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int    `json:"expiresIn"`
	RefreshToken string `json:"refreshToken"`
}

func (c *Client) postJSON(ctx context.Context, url string, payload any, headers map[string]string) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", kiroUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// RegisterClient registers a public OIDC client with the fixed Kiro scope set.
func (c *Client) RegisterClient(ctx context.Context, region string) (*RegisterClientResponse, error) {
	payload := map[string]any{
		"clientName": "Kiro IDE",
		"clientType": "public",
		"scopes":     registrationScopes,
		"grantTypes": []string{"urn:ietf:params:oauth:grant-type:device_code", "refresh_token"},
	}

	status, body, err := c.postJSON(ctx, c.oidcEndpoint(region)+"/client/register", payload, nil)
	if err != nil {
		return nil, fmt.Errorf("register client: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("register client failed (status %d): %s", status, body)
	}

	var result RegisterClientResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("register client: parse response: %w", err)
	}
	return &result, nil
}

// StartDeviceAuthorization begins the device flow for the given client.
// An empty startURL defaults to the Builder ID start URL.
func (c *Client) StartDeviceAuthorization(ctx context.Context, clientID, clientSecret, startURL, region string) (*StartDeviceAuthResponse, error) {
	if startURL == "" {
		startURL = builderIDStartURL
	}
	payload := map[string]string{
		"clientId":     clientID,
		"clientSecret": clientSecret,
		"startUrl":     startURL,
	}

	status, body, err := c.postJSON(ctx, c.oidcEndpoint(region)+"/device_authorization", payload, nil)
	if err != nil {
		return nil, fmt.Errorf("start device auth: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("start device auth failed (status %d): %s", status, body)
	}

	var result StartDeviceAuthResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("start device auth: parse response: %w", err)
	}
	return &result, nil
}

// CreateToken performs one poll of the token endpoint during the device flow.
// Pending and backoff states map to the auth sentinel errors so the caller's
// loop can branch with errors.Is.
func (c *Client) CreateToken(ctx context.Context, clientID, clientSecret, deviceCode, region string) (*auth.TokenResult, error) {
	payload := map[string]string{
		"clientId":     clientID,
		"clientSecret": clientSecret,
		"deviceCode":   deviceCode,
		"grantType":    "urn:ietf:params:oauth:grant-type:device_code",
	}

	status, body, err := c.postJSON(ctx, c.oidcEndpoint(region)+"/token", payload, nil)
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}

	if status == http.StatusBadRequest {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil {
			switch errResp.Error {
			case "authorization_pending":
				return nil, auth.ErrAuthorizationPending
			case "slow_down":
				return nil, auth.ErrSlowDown
			case "expired_token":
				return nil, auth.ErrExpiredToken
			case "access_denied":
				return nil, auth.ErrAccessDenied
			}
		}
		return nil, fmt.Errorf("create token failed: %s", body)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("create token failed (status %d): %s", status, body)
	}

	var result tokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("create token: parse response: %w", err)
	}
	return &auth.TokenResult{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	}, nil
}

// RefreshToken exchanges a refresh token for a new access token. Requires the
// client registration that minted the refresh token.
func (c *Client) RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken, region string) (*auth.TokenResult, error) {
	payload := map[string]string{
		"clientId":     clientID,
		"clientSecret": clientSecret,
		"refreshToken": refreshToken,
		"grantType":    "refresh_token",
	}

	headers := map[string]string{
		"x-amz-user-agent": idcAmzUserAgent,
		"User-Agent":       "node",
		"Accept":           "*/*",
	}
	status, body, err := c.postJSON(ctx, c.oidcEndpoint(region)+"/token", payload, headers)
	if err != nil {
		return nil, fmt.Errorf("idc refresh: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("idc refresh failed (status %d): %s", status, body)
	}

	var result tokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("idc refresh: parse response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("idc refresh: response missing accessToken")
	}
	out := &auth.TokenResult{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}
