package idc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth"
)

// importPollTimeout is the hard wall-clock limit for the import poll loop.
const importPollTimeout = 2 * time.Minute

// Importer drives the full SSO import: it self-approves a device
// authorization using an externally supplied bearer/session token, then polls
// the token endpoint for the credential.
type Importer struct {
	oidc       *Client
	httpClient *http.Client
	// signinBase overrides the per-region signin host; tests point it at a fake.
	signinBase string
	// pollInterval and pollTimeout override the server-advertised interval and
	// the hard poll deadline; tests shrink both.
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewImporter returns an Importer sharing the OIDC client's HTTP transport.
func NewImporter(oidc *Client) *Importer {
	return &Importer{oidc: oidc, httpClient: oidc.httpClient}
}

func (im *Importer) signinEndpoint(region string) string {
	if im.signinBase != "" {
		return im.signinBase
	}
	if region == "" {
		region = DefaultRegion
	}
	return fmt.Sprintf("https://%s.signin.aws.amazon.com", region)
}

// ImportResult carries the credential and identity recovered from an import.
type ImportResult struct {
	Token        auth.TokenResult
	ClientID     string
	ClientSecret string
	Email        string
	UserID       string
	Region       string
}

// Import runs the seven-step import flow with the supplied bearer token.
// Fails fast if the bearer token does not resolve to an identity.
func (im *Importer) Import(ctx context.Context, bearerToken, region string) (*ImportResult, error) {
	// Step 1: register a public OIDC client.
	reg, err := im.oidc.RegisterClient(ctx, region)
	if err != nil {
		return nil, err
	}

	// Step 2: start device authorization.
	dev, err := im.oidc.StartDeviceAuthorization(ctx, reg.ClientID, reg.ClientSecret, "", region)
	if err != nil {
		return nil, err
	}

	// Step 3: verify the bearer token before touching the authorization.
	identity, err := im.whoAmI(ctx, bearerToken, region)
	if err != nil {
		return nil, fmt.Errorf("sso token invalid: %w", err)
	}
	log.Printf("🔑 Importing SSO credential for %s", identity.Email)

	// Step 4: exchange the bearer token for a device session token.
	sessionToken, err := im.createDeviceSession(ctx, bearerToken, region)
	if err != nil {
		return nil, err
	}

	// Step 5: accept the user code under the device session.
	deviceCtx, err := im.acceptUserCode(ctx, sessionToken, dev.UserCode, region)
	if err != nil {
		return nil, err
	}

	// Step 6: approve the pending authorization.
	if err := im.approveAuthorization(ctx, sessionToken, deviceCtx, region); err != nil {
		return nil, err
	}

	// Step 7: poll for the token with a hard deadline.
	token, err := im.pollToken(ctx, reg.ClientID, reg.ClientSecret, dev.DeviceCode, dev.Interval, region)
	if err != nil {
		return nil, err
	}

	return &ImportResult{
		Token:        *token,
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		Email:        identity.Email,
		UserID:       identity.UserID,
		Region:       region,
	}, nil
}

type ssoIdentity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

func (im *Importer) whoAmI(ctx context.Context, bearerToken, region string) (*ssoIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, im.signinEndpoint(region)+"/api/whoAmI", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("Accept", "application/json")

	resp, err := im.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whoAmI: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whoAmI failed (status %d): %s", resp.StatusCode, body)
	}

	var identity ssoIdentity
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, fmt.Errorf("whoAmI: parse response: %w", err)
	}
	if identity.UserID == "" {
		return nil, fmt.Errorf("whoAmI: response missing userId")
	}
	return &identity, nil
}

func (im *Importer) signinPost(ctx context.Context, path, authToken, region string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, im.signinEndpoint(region)+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+authToken)

	resp, err := im.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s failed (status %d): %s", path, resp.StatusCode, respBody)
	}
	return respBody, nil
}

func (im *Importer) createDeviceSession(ctx context.Context, bearerToken, region string) (string, error) {
	body, err := im.signinPost(ctx, "/api/deviceSession", bearerToken, region, map[string]string{"region": region})
	if err != nil {
		return "", fmt.Errorf("create device session: %w", err)
	}
	var result struct {
		SessionToken string `json:"sessionToken"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("create device session: parse response: %w", err)
	}
	if result.SessionToken == "" {
		return "", fmt.Errorf("create device session: response missing sessionToken")
	}
	return result.SessionToken, nil
}

func (im *Importer) acceptUserCode(ctx context.Context, sessionToken, userCode, region string) (string, error) {
	body, err := im.signinPost(ctx, "/api/userCode", sessionToken, region, map[string]string{"userCode": userCode})
	if err != nil {
		return "", fmt.Errorf("accept user code: %w", err)
	}
	var result struct {
		DeviceContext string `json:"deviceContext"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("accept user code: parse response: %w", err)
	}
	if result.DeviceContext == "" {
		return "", fmt.Errorf("accept user code: response missing deviceContext")
	}
	return result.DeviceContext, nil
}

func (im *Importer) approveAuthorization(ctx context.Context, sessionToken, deviceContext, region string) error {
	if _, err := im.signinPost(ctx, "/api/approve", sessionToken, region, map[string]string{"deviceContext": deviceContext}); err != nil {
		return fmt.Errorf("approve authorization: %w", err)
	}
	return nil
}

func (im *Importer) pollToken(ctx context.Context, clientID, clientSecret, deviceCode string, intervalSec int, region string) (*auth.TokenResult, error) {
	interval := 5 * time.Second
	if intervalSec > 0 {
		interval = time.Duration(intervalSec) * time.Second
	}
	if im.pollInterval > 0 {
		interval = im.pollInterval
	}
	timeout := importPollTimeout
	if im.pollTimeout > 0 {
		timeout = im.pollTimeout
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		token, err := im.oidc.CreateToken(ctx, clientID, clientSecret, deviceCode, region)
		if err == nil {
			return token, nil
		}
		switch {
		case errors.Is(err, auth.ErrAuthorizationPending):
			continue
		case errors.Is(err, auth.ErrSlowDown):
			interval += 5 * time.Second
			continue
		default:
			return nil, err
		}
	}
	return nil, auth.ErrAuthorizationTimeout
}
