package reconcile

import (
	"errors"
	"testing"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/kiroapi"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/refresh"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return NewReconciler(st), st
}

func socialCred() store.Credentials {
	return store.Credentials{
		AuthMethod:   store.AuthMethodSocial,
		Provider:     store.ProviderGoogle,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Region:       "us-east-1",
	}
}

func TestAddAccount(t *testing.T) {
	rec, st := newTestReconciler(t)

	check := &refresh.CheckResult{
		Usage:        &store.Usage{Current: 1, Limit: 10},
		Subscription: &store.Subscription{Type: "Pro"},
	}
	account, err := rec.AddAccount("user@example.com", "user-1", socialCred(), check)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.ID == "" {
		t.Fatal("account must get a generated id")
	}
	if account.Status != store.StatusActive {
		t.Fatalf("new account status = %q, want active", account.Status)
	}

	stored := st.Account(account.ID)
	if stored == nil {
		t.Fatal("account not persisted")
	}
	if stored.Usage == nil || stored.Usage.Limit != 10 {
		t.Fatalf("check data not carried: %+v", stored.Usage)
	}
}

func TestAddAccount_DuplicateIdentity(t *testing.T) {
	rec, st := newTestReconciler(t)

	first, err := rec.AddAccount("user@example.com", "user-1", socialCred(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := rec.AddAccount("user@example.com", "user-1", socialCred(), nil); !errors.Is(err, store.ErrDuplicateAccount) {
		t.Fatalf("duplicate identity must be rejected, got %v", err)
	}

	// The existing account survives untouched and no second one appears.
	if got := len(st.Accounts()); got != 1 {
		t.Fatalf("account count = %d, want 1", got)
	}
	if st.Account(first.ID) == nil {
		t.Fatal("original account must survive the rejected insert")
	}

	// Same email with a different userId is a different account.
	if _, err := rec.AddAccount("user@example.com", "user-2", socialCred(), nil); err != nil {
		t.Fatalf("distinct identity rejected: %v", err)
	}
}

func TestApplyCheck_MergePreservesFields(t *testing.T) {
	rec, st := newTestReconciler(t)
	account, err := rec.AddAccount("user@example.com", "user-1", socialCred(), &refresh.CheckResult{
		Usage:        &store.Usage{Current: 1, Limit: 10},
		Subscription: &store.Subscription{Type: "Pro"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A later check carrying only usage must not null out the subscription
	// or identity fields.
	if err := rec.ApplyCheck(account.ID, &refresh.CheckResult{
		Usage: &store.Usage{Current: 2, Limit: 10},
	}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := st.Account(account.ID)
	if stored.Usage.Current != 2 {
		t.Fatalf("usage not updated: %+v", stored.Usage)
	}
	if stored.Subscription == nil || stored.Subscription.Type != "Pro" {
		t.Fatalf("subscription must survive a usage-only check: %+v", stored.Subscription)
	}
	if stored.Email != "user@example.com" || stored.UserID != "user-1" {
		t.Fatalf("identity must survive: %s / %s", stored.Email, stored.UserID)
	}
}

func TestApplyCheck_NewCredentialsPersisted(t *testing.T) {
	rec, st := newTestReconciler(t)
	account, _ := rec.AddAccount("user@example.com", "user-1", socialCred(), nil)

	newCred := socialCred()
	newCred.AccessToken = "access-2"
	newCred.RefreshToken = "refresh-2"
	if err := rec.ApplyCheck(account.ID, &refresh.CheckResult{NewCredentials: &newCred}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := st.Account(account.ID)
	if stored.Credentials.AccessToken != "access-2" || stored.Credentials.RefreshToken != "refresh-2" {
		t.Fatalf("rotated credentials not persisted: %+v", stored.Credentials)
	}
}

func TestApplyCheck_SuccessClearsError(t *testing.T) {
	rec, st := newTestReconciler(t)
	account, _ := rec.AddAccount("user@example.com", "user-1", socialCred(), nil)

	if err := rec.ApplyCheck(account.ID, nil, errors.New("status 401")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := st.Account(account.ID)
	if stored.Status != store.StatusExpired || stored.LastError == "" {
		t.Fatalf("failure not recorded: %+v", stored)
	}

	if err := rec.ApplyCheck(account.ID, &refresh.CheckResult{}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored = st.Account(account.ID)
	if stored.Status != store.StatusActive || stored.LastError != "" {
		t.Fatalf("success must reactivate and clear the error: %+v", stored)
	}
}

func TestApplyCheck_FailureStateMachine(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want store.Status
	}{
		{name: "401 expires", err: &kiroapi.StatusError{Operation: "x", Code: 401}, want: store.StatusExpired},
		{name: "423 errors", err: &kiroapi.StatusError{Operation: "x", Code: 423}, want: store.StatusError},
		{name: "unknown keeps status", err: errors.New("timeout"), want: store.StatusActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, st := newTestReconciler(t)
			account, _ := rec.AddAccount("user@example.com", "user-1", socialCred(), nil)

			if err := rec.ApplyCheck(account.ID, nil, tt.err); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			stored := st.Account(account.ID)
			if stored.Status != tt.want {
				t.Fatalf("status = %q, want %q", stored.Status, tt.want)
			}
			if stored.LastError == "" {
				t.Fatal("failure message must always be recorded")
			}
		})
	}
}

func TestApplyCheck_DeletedAccountIsNoop(t *testing.T) {
	rec, _ := newTestReconciler(t)
	if err := rec.ApplyCheck("gone", &refresh.CheckResult{}, nil); err != nil {
		t.Fatalf("merging into a deleted account must be a no-op, got %v", err)
	}
}

func TestApplyBatchResult(t *testing.T) {
	rec, st := newTestReconciler(t)
	account, _ := rec.AddAccount("user@example.com", "user-1", socialCred(), nil)

	if err := rec.ApplyBatchResult(account.ID, store.StatusExpired, "status 401", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := st.Account(account.ID)
	if stored.Status != store.StatusExpired || stored.LastError != "status 401" {
		t.Fatalf("batch failure not applied: %+v", stored)
	}

	if err := rec.ApplyBatchResult(account.ID, store.StatusActive, "", &refresh.CheckResult{
		Usage: &store.Usage{Current: 3, Limit: 10},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored = st.Account(account.ID)
	if stored.Status != store.StatusActive || stored.Usage == nil {
		t.Fatalf("batch success not applied: %+v", stored)
	}
}

func TestDeleteAccount(t *testing.T) {
	rec, st := newTestReconciler(t)
	account, _ := rec.AddAccount("user@example.com", "user-1", socialCred(), nil)

	if err := st.Update(func(snap *store.Snapshot) error {
		snap.Settings.ActiveAccountID = account.ID
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := rec.DeleteAccount(account.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Account(account.ID) != nil {
		t.Fatal("account must be gone")
	}
	if st.Settings().ActiveAccountID != "" {
		t.Fatal("deleting the active account must clear the active pointer")
	}
}
