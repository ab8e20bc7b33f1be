// Package refresh decides when and how an account's credential is refreshed.
// It is the only place that knows which provider adapter serves which auth
// method; callers stay agnostic.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/kiroapi"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

// IdCRefresher is the OIDC refresh-token exchange (IdC/BuilderId).
type IdCRefresher interface {
	RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken, region string) (*auth.TokenResult, error)
}

// SocialRefresher is the vendor auth-service refresh exchange.
type SocialRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenResult, error)
}

// UsageFetcher fetches the usage/subscription document for an access token.
type UsageFetcher interface {
	GetUsageLimits(ctx context.Context, accessToken, region string) (*kiroapi.UsageLimitsResponse, error)
	GetProfile(ctx context.Context, accessToken, region string) (*kiroapi.Profile, error)
}

// Orchestrator dispatches refreshes and runs the check-then-maybe-refresh
// sequence. It never persists; new credentials are returned to the caller.
type Orchestrator struct {
	idc    IdCRefresher
	social SocialRefresher
	api    UsageFetcher
}

// NewOrchestrator wires the two adapters and the vendor API client.
func NewOrchestrator(idc IdCRefresher, social SocialRefresher, api UsageFetcher) *Orchestrator {
	return &Orchestrator{idc: idc, social: social, api: api}
}

// RefreshByMethod refreshes a credential through the adapter matching its
// auth method. The switch is exhaustive over the closed AuthMethod enum.
func (o *Orchestrator) RefreshByMethod(ctx context.Context, cred store.Credentials) (*store.Credentials, error) {
	var result *auth.TokenResult
	var err error

	switch cred.AuthMethod {
	case store.AuthMethodSocial:
		result, err = o.social.Refresh(ctx, cred.RefreshToken)
	case store.AuthMethodIdC:
		if cred.ClientID == "" || cred.ClientSecret == "" {
			return nil, fmt.Errorf("idc refresh needs clientId and clientSecret")
		}
		result, err = o.idc.RefreshToken(ctx, cred.ClientID, cred.ClientSecret, cred.RefreshToken, cred.Region)
	default:
		return nil, fmt.Errorf("unknown auth method %q", cred.AuthMethod)
	}
	if err != nil {
		return nil, err
	}

	updated := cred
	updated.AccessToken = result.AccessToken
	updated.ExpiresAt = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second).UnixMilli()
	if result.RefreshToken != "" {
		updated.RefreshToken = result.RefreshToken
	}
	return &updated, nil
}

// CheckResult is the outcome of one account status check.
type CheckResult struct {
	Usage        *store.Usage
	Subscription *store.Subscription
	Email        string
	UserID       string
	// NewCredentials is set only when a refresh happened during the check and
	// must be persisted by the caller.
	NewCredentials *store.Credentials
}

// canRefresh reports whether a refresh attempt is even possible for the
// credential: a refresh token is required, and non-social methods also need
// the client registration.
func canRefresh(cred store.Credentials) bool {
	if cred.RefreshToken == "" {
		return false
	}
	if cred.AuthMethod != store.AuthMethodSocial && (cred.ClientID == "" || cred.ClientSecret == "") {
		return false
	}
	return true
}

// CheckAccountStatus fetches usage with the current token; on a 401-classified
// failure it refreshes once and retries the fetch exactly once. Any other
// failure, or a failed refresh, is surfaced as-is.
func (o *Orchestrator) CheckAccountStatus(ctx context.Context, account *store.Account) (*CheckResult, error) {
	cred := account.Credentials

	result, err := o.fetch(ctx, cred)
	if err == nil {
		return result, nil
	}

	if kiroapi.ClassifyError(err) != kiroapi.FailureAuthExpired || !canRefresh(cred) {
		return nil, err
	}

	log.Printf("⚠️ Token for %s expired, refreshing...", account.Email)
	newCred, refreshErr := o.RefreshByMethod(ctx, cred)
	if refreshErr != nil {
		// Keep the original auth failure in the chain so callers still
		// classify this as expired credentials, not a generic failure.
		return nil, fmt.Errorf("refresh failed: %w", errors.Join(err, refreshErr))
	}

	// Single retry with the new token; its outcome is final.
	result, err = o.fetch(ctx, *newCred)
	if err != nil {
		return nil, err
	}
	result.NewCredentials = newCred
	return result, nil
}

// fetch does one usage call plus a best-effort profile enrichment.
func (o *Orchestrator) fetch(ctx context.Context, cred store.Credentials) (*CheckResult, error) {
	limits, err := o.api.GetUsageLimits(ctx, cred.AccessToken, cred.Region)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{
		Usage:        kiroapi.AggregateUsage(limits),
		Subscription: kiroapi.BuildSubscription(limits),
	}

	// Identity enrichment is optional; a failed profile call never fails the check.
	if profile, profileErr := o.api.GetProfile(ctx, cred.AccessToken, cred.Region); profileErr == nil {
		result.Email = profile.Email
		result.UserID = profile.UserID
	}
	return result, nil
}
