// Package kiroapi talks to the vendor's usage and profile endpoints and owns
// the fragile error-string classification the rest of the core depends on.
package kiroapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultRegion for the usage endpoint.
	DefaultRegion = "us-east-1"

	kiroUserAgent = "KiroIDE"
)

// StatusError is a non-2xx response from a vendor endpoint. Its message keeps
// the raw status so downstream substring classification keeps working.
type StatusError struct {
	Operation string
	Code      int
	Body      string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed (status %d): %s", e.Operation, e.Code, e.Body)
}

// Client fetches usage, subscription and identity data for one credential.
type Client struct {
	httpClient *http.Client
	// usageBase and profileBase override the endpoints; tests use fakes.
	usageBase   string
	profileBase string
}

// NewClient returns a Client using the injected HTTP client.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{httpClient: httpClient}
}

func (c *Client) usageURL(region string) string {
	if c.usageBase != "" {
		return c.usageBase + "/getUsageLimits"
	}
	if region == "" {
		region = DefaultRegion
	}
	return fmt.Sprintf("https://q.%s.amazonaws.com/getUsageLimits", region)
}

func (c *Client) profileURL(region string) string {
	if c.profileBase != "" {
		return c.profileBase + "/getProfile"
	}
	if region == "" {
		region = DefaultRegion
	}
	return fmt.Sprintf("https://prod.%s.auth.desktop.kiro.dev/getProfile", region)
}

// UsageBreakdown is one per-resource quota entry in the usage response.
type UsageBreakdown struct {
	ResourceType   string  `json:"resourceType"`
	CurrentUsage   float64 `json:"currentUsage"`
	UsageLimit     float64 `json:"usageLimit"`
	FreeTrialInfo  *Quota  `json:"freeTrialInfo,omitempty"`
	Bonuses        []Quota `json:"bonuses,omitempty"`
	ResourceDetail string  `json:"resourceDetail,omitempty"`
}

// Quota is a trial or bonus sub-quota; only ACTIVE quotas count toward totals.
type Quota struct {
	Status       string  `json:"status"`
	CurrentUsage float64 `json:"currentUsage"`
	UsageLimit   float64 `json:"usageLimit"`
	ExpiryDate   int64   `json:"expiryDate,omitempty"` // epoch ms
}

// UsageLimitsResponse is the wire shape of getUsageLimits, reduced to the
// fields the core consumes.
type UsageLimitsResponse struct {
	UsageBreakdownList []UsageBreakdown `json:"usageBreakdownList"`
	NextDateReset      int64            `json:"nextDateReset,omitempty"` // epoch ms
	SubscriptionInfo   *struct {
		SubscriptionTitle string `json:"subscriptionTitle"`
		Type              string `json:"type,omitempty"`
		UpgradeCapability string `json:"upgradeCapability,omitempty"`
		OverageCapability string `json:"overageCapability,omitempty"`
		ManagementTarget  string `json:"managementTarget,omitempty"`
	} `json:"subscriptionInfo,omitempty"`
}

// GetUsageLimits fetches the raw usage/subscription document.
func (c *Client) GetUsageLimits(ctx context.Context, accessToken, region string) (*UsageLimitsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.usageURL(region), strings.NewReader(`{"origin":"AI_EDITOR"}`))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", kiroUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUsageLimits: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("getUsageLimits: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Operation: "getUsageLimits", Code: resp.StatusCode, Body: string(body)}
	}

	var result UsageLimitsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("getUsageLimits: parse response: %w", err)
	}
	return &result, nil
}

// Profile is the identity attached to an access token.
type Profile struct {
	Email  string `json:"email"`
	UserID string `json:"userId"`
}

// GetProfile resolves the identity behind an access token. Best-effort
// callers may ignore the error; the token itself is validated by usage calls.
func (c *Client) GetProfile(ctx context.Context, accessToken, region string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL(region), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", kiroUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getProfile: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("getProfile: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Operation: "getProfile", Code: resp.StatusCode, Body: string(body)}
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("getProfile: parse response: %w", err)
	}
	return &profile, nil
}
