package refresh

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/kiroapi"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

type fakeIdC struct {
	calls  int
	result *auth.TokenResult
	err    error
}

func (f *fakeIdC) RefreshToken(_ context.Context, clientID, clientSecret, refreshToken, region string) (*auth.TokenResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSocial struct {
	calls  int
	result *auth.TokenResult
	err    error
}

func (f *fakeSocial) Refresh(_ context.Context, refreshToken string) (*auth.TokenResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeAPI returns errs[i] for the i-th GetUsageLimits call, then succeeds.
type fakeAPI struct {
	calls int
	errs  []error
}

func (f *fakeAPI) GetUsageLimits(_ context.Context, accessToken, region string) (*kiroapi.UsageLimitsResponse, error) {
	f.calls++
	if f.calls <= len(f.errs) && f.errs[f.calls-1] != nil {
		return nil, f.errs[f.calls-1]
	}
	return &kiroapi.UsageLimitsResponse{
		UsageBreakdownList: []kiroapi.UsageBreakdown{
			{ResourceType: "CREDIT", CurrentUsage: 1, UsageLimit: 10},
		},
	}, nil
}

func (f *fakeAPI) GetProfile(_ context.Context, accessToken, region string) (*kiroapi.Profile, error) {
	return &kiroapi.Profile{Email: "user@example.com", UserID: "user-1"}, nil
}

func idcAccount() *store.Account {
	return &store.Account{
		ID:    "acc-1",
		Email: "user@example.com",
		Credentials: store.Credentials{
			AuthMethod:   store.AuthMethodIdC,
			AccessToken:  "old-access",
			RefreshToken: "refresh-1",
			ClientID:     "client-1",
			ClientSecret: "secret-1",
			Region:       "us-east-1",
		},
	}
}

func TestRefreshByMethod_Social(t *testing.T) {
	social := &fakeSocial{result: &auth.TokenResult{
		AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresIn: 3600,
	}}
	o := NewOrchestrator(&fakeIdC{}, social, &fakeAPI{})

	cred := store.Credentials{
		AuthMethod:   store.AuthMethodSocial,
		RefreshToken: "refresh-1",
		Region:       "us-east-1",
	}
	got, err := o.RefreshByMethod(context.Background(), cred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.AccessToken != "new-access" || got.RefreshToken != "new-refresh" {
		t.Fatalf("tokens not applied: %+v", got)
	}
	if got.Region != "us-east-1" {
		t.Fatalf("region must survive refresh, got %q", got.Region)
	}
}

func TestRefreshByMethod_RotationKeepsOldTokenWhenOmitted(t *testing.T) {
	idc := &fakeIdC{result: &auth.TokenResult{AccessToken: "new-access", ExpiresIn: 3600}}
	o := NewOrchestrator(idc, &fakeSocial{}, &fakeAPI{})

	got, err := o.RefreshByMethod(context.Background(), idcAccount().Credentials)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RefreshToken != "refresh-1" {
		t.Fatalf("refresh token must be kept when the response omits one, got %q", got.RefreshToken)
	}
}

func TestRefreshByMethod_IdCRequiresClientRegistration(t *testing.T) {
	o := NewOrchestrator(&fakeIdC{}, &fakeSocial{}, &fakeAPI{})
	cred := store.Credentials{AuthMethod: store.AuthMethodIdC, RefreshToken: "r"}
	if _, err := o.RefreshByMethod(context.Background(), cred); err == nil {
		t.Fatal("expected error without clientId/clientSecret")
	}
}

func TestRefreshByMethod_UnknownMethod(t *testing.T) {
	o := NewOrchestrator(&fakeIdC{}, &fakeSocial{}, &fakeAPI{})
	cred := store.Credentials{AuthMethod: "saml", RefreshToken: "r"}
	if _, err := o.RefreshByMethod(context.Background(), cred); err == nil {
		t.Fatal("expected error for unknown auth method")
	}
}

func TestCheckAccountStatus_NoRefreshWhenFetchSucceeds(t *testing.T) {
	idc := &fakeIdC{}
	api := &fakeAPI{}
	o := NewOrchestrator(idc, &fakeSocial{}, api)

	result, err := o.CheckAccountStatus(context.Background(), idcAccount())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idc.calls != 0 {
		t.Fatalf("refresh must not run when the check succeeds, got %d calls", idc.calls)
	}
	if result.NewCredentials != nil {
		t.Fatal("no refresh happened, NewCredentials must be nil")
	}
	if result.Usage == nil || result.Usage.Limit != 10 {
		t.Fatalf("usage not aggregated: %+v", result.Usage)
	}
	if result.Email != "user@example.com" {
		t.Fatalf("profile enrichment missing, email = %q", result.Email)
	}
}

func TestCheckAccountStatus_SingleRetryAfter401(t *testing.T) {
	idc := &fakeIdC{result: &auth.TokenResult{AccessToken: "new-access", ExpiresIn: 3600}}
	api := &fakeAPI{errs: []error{
		&kiroapi.StatusError{Operation: "getUsageLimits", Code: 401, Body: "expired"},
	}}
	o := NewOrchestrator(idc, &fakeSocial{}, api)

	result, err := o.CheckAccountStatus(context.Background(), idcAccount())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idc.calls != 1 {
		t.Fatalf("want exactly one refresh, got %d", idc.calls)
	}
	if api.calls != 2 {
		t.Fatalf("want fetch + one retry, got %d fetches", api.calls)
	}
	if result.NewCredentials == nil || result.NewCredentials.AccessToken != "new-access" {
		t.Fatalf("refreshed credentials must be surfaced: %+v", result.NewCredentials)
	}
}

func TestCheckAccountStatus_RetryOutcomeIsFinal(t *testing.T) {
	idc := &fakeIdC{result: &auth.TokenResult{AccessToken: "new-access", ExpiresIn: 3600}}
	api := &fakeAPI{errs: []error{
		&kiroapi.StatusError{Operation: "getUsageLimits", Code: 401},
		&kiroapi.StatusError{Operation: "getUsageLimits", Code: 401},
	}}
	o := NewOrchestrator(idc, &fakeSocial{}, api)

	if _, err := o.CheckAccountStatus(context.Background(), idcAccount()); err == nil {
		t.Fatal("second 401 must surface, not trigger another refresh")
	}
	if idc.calls != 1 {
		t.Fatalf("want exactly one refresh even when the retry fails, got %d", idc.calls)
	}
	if api.calls != 2 {
		t.Fatalf("want exactly two fetches, got %d", api.calls)
	}
}

func TestCheckAccountStatus_RefreshFailureSurfaces(t *testing.T) {
	idc := &fakeIdC{err: errors.New("invalid_grant")}
	api := &fakeAPI{errs: []error{
		&kiroapi.StatusError{Operation: "getUsageLimits", Code: 401},
	}}
	o := NewOrchestrator(idc, &fakeSocial{}, api)

	_, err := o.CheckAccountStatus(context.Background(), idcAccount())
	if err == nil || !strings.Contains(err.Error(), "refresh failed") {
		t.Fatalf("want wrapped refresh failure, got %v", err)
	}
	if api.calls != 1 {
		t.Fatalf("no retry after a failed refresh, got %d fetches", api.calls)
	}

	// The original 401 stays in the chain: a failed refresh after an auth
	// failure still means expired credentials, not a generic error.
	if got := kiroapi.ClassifyError(err); got != kiroapi.FailureAuthExpired {
		t.Fatalf("ClassifyError = %v, want FailureAuthExpired", got)
	}
	var statusErr *kiroapi.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != 401 {
		t.Fatalf("401 StatusError lost from the chain: %v", err)
	}
	if !strings.Contains(err.Error(), "invalid_grant") {
		t.Fatalf("refresh failure lost from the chain: %v", err)
	}
}

func TestCheckAccountStatus_NonAuthFailurePassesThrough(t *testing.T) {
	idc := &fakeIdC{}
	api := &fakeAPI{errs: []error{errors.New("dial tcp: connection refused")}}
	o := NewOrchestrator(idc, &fakeSocial{}, api)

	if _, err := o.CheckAccountStatus(context.Background(), idcAccount()); err == nil {
		t.Fatal("expected the network error to surface")
	}
	if idc.calls != 0 {
		t.Fatalf("refresh must only follow auth failures, got %d calls", idc.calls)
	}
}

func TestCheckAccountStatus_NoRefreshTokenNoRetry(t *testing.T) {
	idc := &fakeIdC{}
	api := &fakeAPI{errs: []error{
		&kiroapi.StatusError{Operation: "getUsageLimits", Code: 401},
	}}
	o := NewOrchestrator(idc, &fakeSocial{}, api)

	acc := idcAccount()
	acc.Credentials.RefreshToken = ""
	if _, err := o.CheckAccountStatus(context.Background(), acc); err == nil {
		t.Fatal("expected the 401 to surface without a refresh token")
	}
	if idc.calls != 0 || api.calls != 1 {
		t.Fatalf("no refresh and no retry expected, got refresh=%d fetch=%d", idc.calls, api.calls)
	}
}
