package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/audit"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/batch"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/reconcile"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/refresh"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/ssocache"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

// AccountsHandler lists all accounts.
func AccountsHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, st.Accounts())
	}
}

// DeleteAccountHandler removes one account.
func DeleteAccountHandler(rec *reconcile.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := rec.DeleteAccount(chi.URLParam(r, "id")); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeOK(w, nil)
	}
}

// RefreshAccountHandler refreshes one account's credential and persists the
// rotated tokens.
func RefreshAccountHandler(st *store.Store, orch *refresh.Orchestrator, rec *reconcile.Reconciler, auditLog *audit.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		account := st.Account(id)
		if account == nil {
			writeErr(w, http.StatusNotFound, fmt.Errorf("account %s not found", id))
			return
		}

		start := time.Now()
		newCred, err := orch.RefreshByMethod(r.Context(), account.Credentials)
		auditLog.Record(account.ID, account.Email, "refresh", start, err)
		if err != nil {
			_ = rec.ApplyCheck(account.ID, nil, err)
			writeErr(w, http.StatusBadGateway, err)
			return
		}

		if err := rec.ApplyCheck(account.ID, &refresh.CheckResult{NewCredentials: newCred}, nil); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeOK(w, map[string]any{"newCredentials": newCred})
	}
}

// CheckAccountHandler runs a status check (with single-retry-on-401 inside
// the orchestrator) and persists the merged result.
func CheckAccountHandler(st *store.Store, orch *refresh.Orchestrator, rec *reconcile.Reconciler, auditLog *audit.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		account := st.Account(id)
		if account == nil {
			writeErr(w, http.StatusNotFound, fmt.Errorf("account %s not found", id))
			return
		}

		start := time.Now()
		check, err := orch.CheckAccountStatus(r.Context(), account)
		auditLog.Record(account.ID, account.Email, "check", start, err)
		if persistErr := rec.ApplyCheck(account.ID, check, err); persistErr != nil {
			writeErr(w, http.StatusInternalServerError, persistErr)
			return
		}
		if err != nil {
			writeErr(w, http.StatusBadGateway, err)
			return
		}

		updated := st.Account(id)
		writeOK(w, map[string]any{
			"status":         updated.Status,
			"usage":          check.Usage,
			"subscription":   check.Subscription,
			"newCredentials": check.NewCredentials,
		})
	}
}

type activateRequest struct {
	StartURL string `json:"startUrl"`
}

// ActivateAccountHandler marks an account active and writes its credential
// into the IDE's SSO cache so Kiro picks it up on next start.
func ActivateAccountHandler(st *store.Store, cache *ssocache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		account := st.Account(id)
		if account == nil {
			writeErr(w, http.StatusNotFound, fmt.Errorf("account %s not found", id))
			return
		}

		var req activateRequest
		if r.ContentLength > 0 {
			if err := decodeBody(r, &req); err != nil {
				writeErr(w, http.StatusBadRequest, err)
				return
			}
		}
		if req.StartURL == "" {
			req.StartURL = ssocache.DefaultStartURL
		}

		var expiresAt string
		if account.Credentials.ExpiresAt > 0 {
			expiresAt = time.UnixMilli(account.Credentials.ExpiresAt).UTC().Format(time.RFC3339)
		}
		rec := ssocache.FromCredentials(req.StartURL, account.Credentials, expiresAt)
		if err := cache.Write(rec); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}

		err := st.Update(func(snap *store.Snapshot) error {
			snap.Settings.ActiveAccountID = id
			return nil
		})
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeOK(w, map[string]any{"activeAccountId": id, "cacheKey": ssocache.Key(req.StartURL)})
	}
}

type batchRequest struct {
	AccountIDs  []string `json:"accountIds"`
	Concurrency int      `json:"concurrency"`
}

// BatchHandler runs a batch refresh or check over the requested accounts (all
// accounts when none are named) and persists every per-item outcome. Progress
// and per-account events stream on /api/events while this runs.
func BatchHandler(st *store.Store, exec *batch.Executor, rec *reconcile.Reconciler, auditLog *audit.Logger, mode batch.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if r.ContentLength > 0 {
			if err := decodeBody(r, &req); err != nil {
				writeErr(w, http.StatusBadRequest, err)
				return
			}
		}

		var accounts []*store.Account
		if len(req.AccountIDs) == 0 {
			accounts = st.Accounts()
		} else {
			for _, id := range req.AccountIDs {
				if a := st.Account(id); a != nil {
					accounts = append(accounts, a)
				}
			}
		}
		if len(accounts) == 0 {
			writeErr(w, http.StatusBadRequest, errors.New("no accounts to process"))
			return
		}

		start := time.Now()
		summary := exec.Run(r.Context(), accounts, req.Concurrency, mode)
		for _, item := range summary.Results {
			_ = rec.ApplyBatchResult(item.AccountID, item.Status, item.Error, item.Check)
			auditLog.Record(item.AccountID, item.Email, "batch-"+mode.String(), start, resultError(item))
		}
		writeOK(w, summary)
	}
}

func resultError(item batch.Result) error {
	if item.Error == "" {
		return nil
	}
	return errors.New(item.Error)
}
