// Package social implements the Kiro desktop auth-service flows for social
// (Google/GitHub) credentials: refresh-token exchange and PKCE login.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth"
	"golang.org/x/oauth2"
)

const (
	// DefaultRegion is the auth-service region Kiro desktop clients use.
	DefaultRegion = "us-east-1"

	// redirectURI is the custom-scheme callback registered by the desktop app.
	redirectURI = "kiro://auth/callback"

	kiroUserAgent = "KiroIDE"
)

// Client talks to https://prod.<region>.auth.desktop.kiro.dev. Stateless per
// call; the single in-flight PKCE session lives in the session package.
type Client struct {
	httpClient *http.Client
	region     string
	// base overrides the auth-service URL; tests point it at a fake.
	base string
}

// NewClient returns a Client for the given region using the injected HTTP client.
func NewClient(httpClient *http.Client, region string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if region == "" {
		region = DefaultRegion
	}
	return &Client{httpClient: httpClient, region: region}
}

func (c *Client) baseURL() string {
	if c.base != "" {
		return c.base
	}
	return fmt.Sprintf("https://prod.%s.auth.desktop.kiro.dev", c.region)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", kiroUserAgent)

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

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// Refresh exchanges a social refresh token for a new access token. Social
// credentials carry no client secret; the refresh token alone authenticates.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*auth.TokenResult, error) {
	status, body, err := c.postJSON(ctx, "/refreshToken", map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("social refresh: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("social refresh failed (status %d): %s", status, body)
	}

	var result tokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("social refresh: parse response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("social refresh: response missing accessToken")
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

// LoginStart holds the PKCE material for one login attempt. Verifier and
// state must survive until the callback delivers {code, state}.
type LoginStart struct {
	AuthorizeURL string
	Verifier     string
	Challenge    string
	State        string
	Provider     string
}

// BeginLogin generates the PKCE verifier/challenge pair and the anti-CSRF
// state, and builds the authorization URL for the given provider.
func (c *Client) BeginLogin(provider string) (*LoginStart, error) {
	switch provider {
	case "google", "github":
	default:
		return nil, fmt.Errorf("unsupported social provider %q", provider)
	}

	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	state := oauth2.GenerateVerifier()

	cfg := &oauth2.Config{
		RedirectURL: redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL: c.baseURL() + "/authorize",
		},
	}
	authorizeURL := cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("idp", provider),
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	return &LoginStart{
		AuthorizeURL: authorizeURL,
		Verifier:     verifier,
		Challenge:    challenge,
		State:        state,
		Provider:     provider,
	}, nil
}

// ExchangeCode trades an authorization code plus its PKCE verifier for tokens.
// State validation happens in the session layer before this is reached.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*auth.TokenResult, error) {
	payload := map[string]string{
		"code":         code,
		"codeVerifier": verifier,
		"redirectUri":  redirectURI,
		"grantType":    "authorization_code",
	}
	status, body, err := c.postJSON(ctx, "/oauth/token", payload)
	if err != nil {
		return nil, fmt.Errorf("social token exchange: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("social token exchange failed (status %d): %s", status, body)
	}

	var result tokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("social token exchange: parse response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("social token exchange: response missing accessToken")
	}
	return &auth.TokenResult{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	}, nil
}
