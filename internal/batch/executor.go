// Package batch runs refresh/check operations over many accounts with bounded
// concurrency and per-account failure isolation.
package batch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/eventbus"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/kiroapi"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/logging"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/refresh"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

const (
	// DefaultConcurrency is the chunk size when the caller passes none.
	DefaultConcurrency = 10

	// interChunkDelay keeps bursts under the identity provider's rate limiter.
	interChunkDelay = 100 * time.Millisecond
)

// Mode selects what the executor does per account.
type Mode int

const (
	// ModeCheck only fetches status; 401s are reported, not refreshed.
	ModeCheck Mode = iota
	// ModeRefresh refreshes the credential, then rechecks.
	ModeRefresh
)

func (m Mode) String() string {
	if m == ModeRefresh {
		return "refresh"
	}
	return "check"
}

// Result is the per-account outcome, published as soon as the account settles.
type Result struct {
	AccountID string               `json:"accountId"`
	Email     string               `json:"email"`
	Success   bool                 `json:"success"`
	Status    store.Status         `json:"status"`
	Error     string               `json:"error,omitempty"`
	Check     *refresh.CheckResult `json:"-"`
}

// Progress is the aggregate counter, published after each chunk settles.
type Progress struct {
	Completed    int `json:"completed"`
	Total        int `json:"total"`
	SuccessCount int `json:"successCount"`
	FailedCount  int `json:"failedCount"`
}

// Summary is the final aggregate returned to the caller.
type Summary struct {
	Total        int      `json:"total"`
	SuccessCount int      `json:"successCount"`
	FailedCount  int      `json:"failedCount"`
	Results      []Result `json:"results"`
}

// Checker is the per-account operation the executor fans out.
type Checker interface {
	RefreshByMethod(ctx context.Context, cred store.Credentials) (*store.Credentials, error)
	CheckAccountStatus(ctx context.Context, account *store.Account) (*refresh.CheckResult, error)
}

// Executor fans an operation over account chunks and reports through the bus.
type Executor struct {
	orch Checker
	bus  *eventbus.Bus
}

// NewExecutor returns an Executor publishing to bus. A nil bus disables events.
func NewExecutor(orch Checker, bus *eventbus.Bus) *Executor {
	return &Executor{orch: orch, bus: bus}
}

// Run processes accounts in sequential chunks of size concurrency. Within a
// chunk every account runs concurrently and settles independently; one
// account's failure never aborts its siblings. Cancellation via ctx stops
// scheduling further chunks; in-flight calls complete.
func (e *Executor) Run(ctx context.Context, accounts []*store.Account, concurrency int, mode Mode) *Summary {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	opID := logging.GetOpID(ctx)
	if opID == "" {
		opID = logging.NewOpID(mode.String())
		ctx = logging.WithOpID(ctx, opID)
	}

	summary := &Summary{Total: len(accounts)}
	log.Printf("🔄 [%s] Batch %s started: %d accounts, concurrency %d", opID, mode, len(accounts), concurrency)

	for start := 0; start < len(accounts); start += concurrency {
		if start > 0 {
			select {
			case <-ctx.Done():
				log.Printf("⚠️ [%s] Batch %s cancelled after %d/%d", opID, mode, summary.SuccessCount+summary.FailedCount, summary.Total)
				return summary
			case <-time.After(interChunkDelay):
			}
		}

		end := start + concurrency
		if end > len(accounts) {
			end = len(accounts)
		}
		chunk := accounts[start:end]

		results := make([]Result, len(chunk))
		var wg sync.WaitGroup
		for i, account := range chunk {
			wg.Add(1)
			go func(i int, account *store.Account) {
				defer wg.Done()
				results[i] = e.runOne(ctx, account, mode)
				// Per-account result goes out immediately, not with the chunk.
				if e.bus != nil {
					e.bus.Publish(eventbus.TopicBatchResult, results[i])
				}
			}(i, account)
		}
		wg.Wait()

		for _, r := range results {
			if r.Success {
				summary.SuccessCount++
			} else {
				summary.FailedCount++
			}
			summary.Results = append(summary.Results, r)
		}

		if e.bus != nil {
			e.bus.Publish(eventbus.TopicBatchProgress, Progress{
				Completed:    len(summary.Results),
				Total:        summary.Total,
				SuccessCount: summary.SuccessCount,
				FailedCount:  summary.FailedCount,
			})
		}
	}

	log.Printf("✅ [%s] Batch %s done: %d ok, %d failed", opID, mode, summary.SuccessCount, summary.FailedCount)
	return summary
}

// runOne executes the operation for a single account, converting panics and
// errors into a Result so the batch never aborts.
func (e *Executor) runOne(ctx context.Context, account *store.Account, mode Mode) (result Result) {
	result = Result{AccountID: account.ID, Email: account.Email}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Status = store.StatusError
			result.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	work := *account
	if mode == ModeRefresh {
		newCred, err := e.orch.RefreshByMethod(ctx, work.Credentials)
		if err != nil {
			return e.failure(result, err)
		}
		work.Credentials = *newCred
	}

	check, err := e.orch.CheckAccountStatus(ctx, &work)
	if err != nil {
		return e.failure(result, err)
	}

	if mode == ModeRefresh && check.NewCredentials == nil {
		// Carry the refreshed credential forward for persistence.
		check.NewCredentials = &work.Credentials
	}
	result.Success = true
	result.Status = store.StatusActive
	result.Check = check
	return result
}

// failure classifies the error the way the UI expects: 423/suspended means
// the account errored out, 401 means it needs a refresh, anything else keeps
// the raw message.
func (e *Executor) failure(result Result, err error) Result {
	result.Success = false
	result.Error = err.Error()
	switch kiroapi.ClassifyError(err) {
	case kiroapi.FailureSuspended:
		result.Status = store.StatusError
	case kiroapi.FailureAuthExpired:
		result.Status = store.StatusExpired
	default:
		result.Status = store.StatusError
	}
	return result
}
