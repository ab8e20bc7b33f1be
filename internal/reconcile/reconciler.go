// Package reconcile merges freshly fetched credential/usage data into the
// persisted account set and enforces the (email, userId) uniqueness invariant.
package reconcile

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/kiroapi"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/refresh"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

// Reconciler owns account mutations. Every mutation persists the snapshot
// through the store's write path.
type Reconciler struct {
	store *store.Store
}

// NewReconciler returns a Reconciler over the given store.
func NewReconciler(st *store.Store) *Reconciler {
	return &Reconciler{store: st}
}

// AddAccount inserts a verified account. A matching (email, userId) pair is a
// soft conflict: the insert is skipped and ErrDuplicateAccount returned, the
// existing account is never overwritten.
func (r *Reconciler) AddAccount(email, userID string, cred store.Credentials, check *refresh.CheckResult) (*store.Account, error) {
	now := time.Now().UnixMilli()
	account := &store.Account{
		ID:          uuid.New().String(),
		Email:       email,
		UserID:      userID,
		Credentials: cred,
		Status:      store.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if check != nil {
		account.Usage = check.Usage
		account.Subscription = check.Subscription
	}

	err := r.store.Update(func(snap *store.Snapshot) error {
		if snap.FindByIdentity(email, userID) != nil {
			return store.ErrDuplicateAccount
		}
		snap.Accounts[account.ID] = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("✅ Added account %s", email)
	return account, nil
}

// ApplyCheck folds a check/refresh outcome into the persisted account record:
// merge-on-refresh for data fields, plus the status state machine. Fields
// absent from the new data never null-out known values.
func (r *Reconciler) ApplyCheck(accountID string, check *refresh.CheckResult, checkErr error) error {
	return r.store.Update(func(snap *store.Snapshot) error {
		account, ok := snap.Accounts[accountID]
		if !ok {
			return nil // deleted concurrently, nothing to merge
		}

		if checkErr != nil {
			applyFailure(account, checkErr)
			account.UpdatedAt = time.Now().UnixMilli()
			return nil
		}

		if check.NewCredentials != nil {
			account.Credentials = *check.NewCredentials
		}
		if check.Usage != nil {
			account.Usage = check.Usage
		}
		if check.Subscription != nil {
			account.Subscription = check.Subscription
		}
		if check.Email != "" {
			account.Email = check.Email
		}
		if check.UserID != "" {
			account.UserID = check.UserID
		}
		account.Status = store.StatusActive
		account.LastError = ""
		account.UpdatedAt = time.Now().UnixMilli()
		return nil
	})
}

// applyFailure runs the status state machine: 401 after a failed refresh
// expires the account, 423/suspended errors it out, anything unknown leaves
// the status untouched but records the message.
func applyFailure(account *store.Account, err error) {
	account.LastError = err.Error()
	switch kiroapi.ClassifyError(err) {
	case kiroapi.FailureAuthExpired:
		account.Status = store.StatusExpired
	case kiroapi.FailureSuspended:
		account.Status = store.StatusError
	}
}

// ApplyBatchResult persists one batch item outcome.
func (r *Reconciler) ApplyBatchResult(accountID string, status store.Status, errMsg string, check *refresh.CheckResult) error {
	if errMsg == "" {
		return r.ApplyCheck(accountID, check, nil)
	}
	return r.store.Update(func(snap *store.Snapshot) error {
		account, ok := snap.Accounts[accountID]
		if !ok {
			return nil
		}
		account.Status = status
		account.LastError = errMsg
		account.UpdatedAt = time.Now().UnixMilli()
		return nil
	})
}

// DeleteAccount removes an account outright.
func (r *Reconciler) DeleteAccount(accountID string) error {
	return r.store.Update(func(snap *store.Snapshot) error {
		delete(snap.Accounts, accountID)
		if snap.Settings.ActiveAccountID == accountID {
			snap.Settings.ActiveAccountID = ""
		}
		return nil
	})
}
