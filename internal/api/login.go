package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/audit"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth/idc"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth/session"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth/social"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/reconcile"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/refresh"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/ssocache"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

// verifyAndAdd runs a status check on a fresh credential and inserts the
// account. The check must succeed before anything is persisted; a duplicate
// (email, userId) is reported, never overwritten.
func verifyAndAdd(r *http.Request, orch *refresh.Orchestrator, rec *reconcile.Reconciler, cred store.Credentials, email, userID string) (*store.Account, *refresh.CheckResult, error) {
	check, err := orch.CheckAccountStatus(r.Context(), &store.Account{Credentials: cred, Email: email, UserID: userID})
	if err != nil {
		return nil, nil, fmt.Errorf("credential verification failed: %w", err)
	}
	if check.Email != "" {
		email = check.Email
	}
	if check.UserID != "" {
		userID = check.UserID
	}
	if check.NewCredentials != nil {
		cred = *check.NewCredentials
	}

	account, err := rec.AddAccount(email, userID, cred, check)
	if err != nil {
		return nil, nil, err
	}
	return account, check, nil
}

type importRequest struct {
	BearerToken string `json:"bearerToken"`
	Region      string `json:"region"`
}

// ImportSSOHandler imports an account from an externally supplied SSO bearer
// token via the self-approving device flow.
func ImportSSOHandler(importer *idc.Importer, orch *refresh.Orchestrator, rec *reconcile.Reconciler, auditLog *audit.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		if req.BearerToken == "" {
			writeErr(w, http.StatusBadRequest, errors.New("bearerToken is required"))
			return
		}
		if req.Region == "" {
			req.Region = idc.DefaultRegion
		}

		start := time.Now()
		imported, err := importer.Import(r.Context(), req.BearerToken, req.Region)
		auditLog.Record("", "", "import", start, err)
		if err != nil {
			writeErr(w, http.StatusBadGateway, err)
			return
		}

		cred := store.Credentials{
			AccessToken:  imported.Token.AccessToken,
			RefreshToken: imported.Token.RefreshToken,
			ClientID:     imported.ClientID,
			ClientSecret: imported.ClientSecret,
			Region:       imported.Region,
			ExpiresAt:    time.Now().Add(time.Duration(imported.Token.ExpiresIn) * time.Second).UnixMilli(),
			AuthMethod:   store.AuthMethodIdC,
			Provider:     store.ProviderBuilderID,
		}
		account, _, err := verifyAndAdd(r, orch, rec, cred, imported.Email, imported.UserID)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, store.ErrDuplicateAccount) {
				status = http.StatusConflict
			}
			writeErr(w, status, err)
			return
		}
		writeOK(w, account)
	}
}

type cacheImportRequest struct {
	StartURL string `json:"startUrl"`
}

// ImportCacheHandler imports the credential the IDE left in its local SSO
// cache. Like every other import path, the credential is verified before
// anything is persisted.
func ImportCacheHandler(cache *ssocache.Cache, orch *refresh.Orchestrator, rec *reconcile.Reconciler, auditLog *audit.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cacheImportRequest
		if r.ContentLength > 0 {
			if err := decodeBody(r, &req); err != nil {
				writeErr(w, http.StatusBadRequest, err)
				return
			}
		}
		if req.StartURL == "" {
			req.StartURL = ssocache.DefaultStartURL
		}

		cached, err := cache.Read(req.StartURL)
		if err != nil {
			writeErr(w, http.StatusNotFound, fmt.Errorf("no usable sso cache entry: %w", err))
			return
		}

		cred := store.Credentials{
			AccessToken:  cached.AccessToken,
			RefreshToken: cached.RefreshToken,
			ClientID:     cached.ClientID,
			ClientSecret: cached.ClientSecret,
			Region:       cached.Region,
			AuthMethod:   store.AuthMethod(cached.AuthMethod),
			Provider:     store.Provider(cached.Provider),
		}
		if cred.AuthMethod == "" {
			cred.AuthMethod = store.AuthMethodIdC
		}
		if cred.Provider == "" {
			cred.Provider = store.ProviderBuilderID
		}
		if cached.ExpiresAt != "" {
			if ts, parseErr := time.Parse(time.RFC3339, cached.ExpiresAt); parseErr == nil {
				cred.ExpiresAt = ts.UnixMilli()
			}
		}

		start := time.Now()
		account, _, err := verifyAndAdd(r, orch, rec, cred, "", "")
		auditLog.Record("", "", "cache-import", start, err)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, store.ErrDuplicateAccount) {
				status = http.StatusConflict
			}
			writeErr(w, status, err)
			return
		}
		writeOK(w, account)
	}
}

type deviceStartRequest struct {
	Region   string `json:"region"`
	StartURL string `json:"startUrl"`
}

// DeviceLoginStartHandler begins an interactive device login: registers a
// client, starts device authorization, and parks the flow in the single
// session slot. Any prior login session is replaced.
func DeviceLoginStartHandler(client *idc.Client, slot *session.Slot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deviceStartRequest
		if r.ContentLength > 0 {
			if err := decodeBody(r, &req); err != nil {
				writeErr(w, http.StatusBadRequest, err)
				return
			}
		}
		if req.Region == "" {
			req.Region = idc.DefaultRegion
		}

		reg, err := client.RegisterClient(r.Context(), req.Region)
		if err != nil {
			writeErr(w, http.StatusBadGateway, err)
			return
		}
		dev, err := client.StartDeviceAuthorization(r.Context(), reg.ClientID, reg.ClientSecret, req.StartURL, req.Region)
		if err != nil {
			writeErr(w, http.StatusBadGateway, err)
			return
		}

		slot.BeginDevice(session.DeviceFlow{
			ClientID:        reg.ClientID,
			ClientSecret:    reg.ClientSecret,
			DeviceCode:      dev.DeviceCode,
			UserCode:        dev.UserCode,
			VerificationURI: dev.VerificationURIComplete,
			Interval:        dev.Interval,
			ExpiresAt:       time.Now().Add(time.Duration(dev.ExpiresIn) * time.Second),
			Region:          req.Region,
		})

		log.Printf("🔑 Device login started, user code %s", dev.UserCode)
		writeOK(w, map[string]any{
			"userCode":        dev.UserCode,
			"verificationUri": dev.VerificationURIComplete,
			"interval":        dev.Interval,
			"expiresIn":       dev.ExpiresIn,
		})
	}
}

// DeviceLoginPollHandler performs one poll of the active device login. The
// caller re-invokes it at the session's interval until completed or failed.
func DeviceLoginPollHandler(client *idc.Client, slot *session.Slot, orch *refresh.Orchestrator, rec *reconcile.Reconciler, auditLog *audit.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flow, err := slot.Device()
		if err != nil {
			writeErr(w, http.StatusConflict, err)
			return
		}

		token, err := client.CreateToken(r.Context(), flow.ClientID, flow.ClientSecret, flow.DeviceCode, flow.Region)
		switch {
		case errors.Is(err, auth.ErrAuthorizationPending):
			writeOK(w, map[string]any{"pending": true, "interval": flow.Interval})
			return
		case errors.Is(err, auth.ErrSlowDown):
			slot.SlowDown()
			writeOK(w, map[string]any{"pending": true, "interval": flow.Interval + 5})
			return
		case err != nil:
			// expired_token, access_denied or transport failure: terminal.
			slot.Clear()
			writeErr(w, http.StatusBadGateway, err)
			return
		}

		slot.Clear()
		cred := store.Credentials{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ClientID:     flow.ClientID,
			ClientSecret: flow.ClientSecret,
			Region:       flow.Region,
			ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second).UnixMilli(),
			AuthMethod:   store.AuthMethodIdC,
			Provider:     store.ProviderBuilderID,
		}

		start := time.Now()
		account, _, err := verifyAndAdd(r, orch, rec, cred, "", "")
		auditLog.Record("", "", "device-login", start, err)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, store.ErrDuplicateAccount) {
				status = http.StatusConflict
			}
			writeErr(w, status, err)
			return
		}
		writeOK(w, map[string]any{"completed": true, "account": account})
	}
}

type socialStartRequest struct {
	Provider string `json:"provider"`
}

// SocialLoginStartHandler begins a PKCE social login and parks the session.
// The authorize URL is returned for the UI to open in a browser.
func SocialLoginStartHandler(client *social.Client, slot *session.Slot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req socialStartRequest
		if err := decodeBody(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}

		login, err := client.BeginLogin(req.Provider)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}

		provider := store.ProviderGoogle
		if req.Provider == "github" {
			provider = store.ProviderGithub
		}
		slot.BeginSocial(session.SocialFlow{
			Verifier:  login.Verifier,
			Challenge: login.Challenge,
			State:     login.State,
			Provider:  provider,
		})

		writeOK(w, map[string]any{"authorizeUrl": login.AuthorizeURL})
	}
}

type socialExchangeRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// SocialCallbackHandler consumes the {code, state} pair delivered by the
// custom URI scheme. The state must match the stored session before the
// token endpoint is contacted at all.
func SocialCallbackHandler(client *social.Client, slot *session.Slot, orch *refresh.Orchestrator, rec *reconcile.Reconciler, auditLog *audit.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req socialExchangeRequest
		if r.Method == http.MethodGet {
			req.Code = r.URL.Query().Get("code")
			req.State = r.URL.Query().Get("state")
		} else if err := decodeBody(r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}

		flow, err := slot.TakeSocial(req.State)
		if err != nil {
			writeErr(w, http.StatusConflict, err)
			return
		}

		start := time.Now()
		token, err := client.ExchangeCode(r.Context(), req.Code, flow.Verifier)
		if err != nil {
			auditLog.Record("", "", "social-login", start, err)
			writeErr(w, http.StatusBadGateway, err)
			return
		}

		cred := store.Credentials{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			Region:       social.DefaultRegion,
			ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second).UnixMilli(),
			AuthMethod:   store.AuthMethodSocial,
			Provider:     flow.Provider,
		}
		account, _, err := verifyAndAdd(r, orch, rec, cred, "", "")
		auditLog.Record("", "", "social-login", start, err)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, store.ErrDuplicateAccount) {
				status = http.StatusConflict
			}
			writeErr(w, status, err)
			return
		}
		writeOK(w, account)
	}
}
