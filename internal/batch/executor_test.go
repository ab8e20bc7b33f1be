package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/eventbus"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/kiroapi"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/refresh"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

// fakeChecker fails the accounts listed in failCheck/failRefresh by ID.
type fakeChecker struct {
	mu           sync.Mutex
	refreshCalls int
	checkCalls   int
	failCheck    map[string]error
	failRefresh  map[string]error
	panicOn      string
}

func (f *fakeChecker) RefreshByMethod(_ context.Context, cred store.Credentials) (*store.Credentials, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.mu.Unlock()
	if err, ok := f.failRefresh[cred.RefreshToken]; ok {
		return nil, err
	}
	updated := cred
	updated.AccessToken = "refreshed-" + cred.RefreshToken
	return &updated, nil
}

func (f *fakeChecker) CheckAccountStatus(_ context.Context, account *store.Account) (*refresh.CheckResult, error) {
	f.mu.Lock()
	f.checkCalls++
	f.mu.Unlock()
	if account.ID == f.panicOn {
		panic("checker blew up")
	}
	if err, ok := f.failCheck[account.ID]; ok {
		return nil, err
	}
	return &refresh.CheckResult{
		Usage: &store.Usage{Current: 1, Limit: 10},
	}, nil
}

func makeAccounts(n int) []*store.Account {
	accounts := make([]*store.Account, n)
	for i := range accounts {
		id := fmt.Sprintf("acc-%d", i)
		accounts[i] = &store.Account{
			ID:    id,
			Email: id + "@example.com",
			Credentials: store.Credentials{
				AuthMethod:   store.AuthMethodSocial,
				RefreshToken: id,
			},
		}
	}
	return accounts
}

func TestRun_FailureIsolation(t *testing.T) {
	checker := &fakeChecker{failCheck: map[string]error{
		"acc-2": errors.New("dial tcp: connection refused"),
	}}
	exec := NewExecutor(checker, nil)

	summary := exec.Run(context.Background(), makeAccounts(5), 2, ModeCheck)
	if summary.Total != 5 {
		t.Fatalf("total = %d, want 5", summary.Total)
	}
	if summary.SuccessCount != 4 || summary.FailedCount != 1 {
		t.Fatalf("got %d ok / %d failed, want 4/1", summary.SuccessCount, summary.FailedCount)
	}
	if len(summary.Results) != 5 {
		t.Fatalf("every account must produce a result, got %d", len(summary.Results))
	}
	for _, r := range summary.Results {
		if r.AccountID == "acc-2" {
			if r.Success || r.Status != store.StatusError {
				t.Fatalf("failed account misreported: %+v", r)
			}
		} else if !r.Success {
			t.Fatalf("sibling %s must not be affected: %+v", r.AccountID, r)
		}
	}
}

func TestRun_PanicIsConverted(t *testing.T) {
	checker := &fakeChecker{panicOn: "acc-1"}
	exec := NewExecutor(checker, nil)

	summary := exec.Run(context.Background(), makeAccounts(3), 3, ModeCheck)
	if summary.FailedCount != 1 || summary.SuccessCount != 2 {
		t.Fatalf("got %d ok / %d failed, want 2/1", summary.SuccessCount, summary.FailedCount)
	}
	for _, r := range summary.Results {
		if r.AccountID == "acc-1" && r.Error == "" {
			t.Fatal("panic must surface in the result error")
		}
	}
}

func TestRun_StatusClassification(t *testing.T) {
	checker := &fakeChecker{failCheck: map[string]error{
		"acc-0": &kiroapi.StatusError{Operation: "getUsageLimits", Code: 401},
		"acc-1": &kiroapi.StatusError{Operation: "getUsageLimits", Code: 423},
		"acc-2": errors.New("timeout"),
	}}
	exec := NewExecutor(checker, nil)

	summary := exec.Run(context.Background(), makeAccounts(3), 3, ModeCheck)
	want := map[string]store.Status{
		"acc-0": store.StatusExpired,
		"acc-1": store.StatusError,
		"acc-2": store.StatusError,
	}
	for _, r := range summary.Results {
		if r.Status != want[r.AccountID] {
			t.Fatalf("%s: status = %q, want %q", r.AccountID, r.Status, want[r.AccountID])
		}
	}
}

func TestRun_RefreshModeCarriesCredentials(t *testing.T) {
	checker := &fakeChecker{}
	exec := NewExecutor(checker, nil)

	summary := exec.Run(context.Background(), makeAccounts(2), 2, ModeRefresh)
	if checker.refreshCalls != 2 {
		t.Fatalf("refresh calls = %d, want 2", checker.refreshCalls)
	}
	for _, r := range summary.Results {
		if r.Check == nil || r.Check.NewCredentials == nil {
			t.Fatalf("%s: refreshed credentials must be carried for persistence", r.AccountID)
		}
		if r.Check.NewCredentials.AccessToken != "refreshed-"+r.AccountID {
			t.Fatalf("%s: wrong carried token %q", r.AccountID, r.Check.NewCredentials.AccessToken)
		}
	}
}

func TestRun_RefreshFailureSkipsCheck(t *testing.T) {
	checker := &fakeChecker{failRefresh: map[string]error{
		"acc-0": errors.New("invalid_grant"),
	}}
	exec := NewExecutor(checker, nil)

	summary := exec.Run(context.Background(), makeAccounts(1), 1, ModeRefresh)
	if summary.FailedCount != 1 {
		t.Fatalf("want the refresh failure recorded, got %+v", summary)
	}
	if checker.checkCalls != 0 {
		t.Fatalf("check must not run after a failed refresh, got %d calls", checker.checkCalls)
	}
}

func TestRun_CancellationStopsFurtherChunks(t *testing.T) {
	checker := &fakeChecker{}
	exec := NewExecutor(checker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// With concurrency 2 only the first chunk runs before the cancelled
	// context is observed at the chunk boundary.
	summary := exec.Run(ctx, makeAccounts(6), 2, ModeCheck)
	if len(summary.Results) != 2 {
		t.Fatalf("want only the first chunk processed, got %d results", len(summary.Results))
	}
	if summary.Total != 6 {
		t.Fatalf("total must reflect the requested set, got %d", summary.Total)
	}
}

func TestRun_EventsPublished(t *testing.T) {
	checker := &fakeChecker{}
	bus := eventbus.New()
	exec := NewExecutor(checker, bus)

	var mu sync.Mutex
	var results []Result
	var progress []Progress
	resultFn := func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}
	progressFn := func(p Progress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	}
	if err := bus.Subscribe(eventbus.TopicBatchResult, resultFn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Subscribe(eventbus.TopicBatchProgress, progressFn); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer bus.Unsubscribe(eventbus.TopicBatchResult, resultFn)
	defer bus.Unsubscribe(eventbus.TopicBatchProgress, progressFn)

	exec.Run(context.Background(), makeAccounts(4), 2, ModeCheck)

	// Result handlers fire from the worker goroutines.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := len(results) == 4 && len(progress) == 2
		mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			mu.Lock()
			t.Fatalf("events incomplete: %d results, %d progress", len(results), len(progress))
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	last := progress[len(progress)-1]
	if last.Completed != 4 || last.Total != 4 || last.SuccessCount != 4 {
		t.Fatalf("final progress wrong: %+v", last)
	}
}

func TestModeString(t *testing.T) {
	if ModeCheck.String() != "check" || ModeRefresh.String() != "refresh" {
		t.Fatal("mode names changed")
	}
}
