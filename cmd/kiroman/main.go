package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/api"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/audit"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth/idc"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth/session"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth/social"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/batch"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/config"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/eventbus"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/kiroapi"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/reconcile"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/refresh"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/ssocache"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("KIROMAN_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	httpClient, err := cfg.HTTPClient()
	if err != nil {
		log.Fatalf("Failed to build HTTP client: %v", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open account store: %v", err)
	}

	auditPath := cfg.AuditDBPath
	if auditPath == "" {
		auditPath = filepath.Join(cfg.DataDir, "audit.db")
	}
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		log.Fatalf("Failed to open audit db: %v", err)
	}

	idcClient := idc.NewClient(httpClient)
	socialClient := social.NewClient(httpClient, cfg.Region)
	apiClient := kiroapi.NewClient(httpClient)
	orch := refresh.NewOrchestrator(idcClient, socialClient, apiClient)
	rec := reconcile.NewReconciler(st)
	bus := eventbus.New()
	executor := batch.NewExecutor(orch, bus)
	ssoCache, err := ssocache.New("")
	if err != nil {
		log.Fatalf("Failed to resolve sso cache dir: %v", err)
	}

	router := api.NewRouter(api.Deps{
		Store:      st,
		Orch:       orch,
		Reconciler: rec,
		Executor:   executor,
		Bus:        bus,
		IdC:        idcClient,
		Importer:   idc.NewImporter(idcClient),
		Social:     socialClient,
		Session:    &session.Slot{},
		Audit:      auditLog,
		SSOCache:   ssoCache,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{Addr: cfg.Listen, Handler: router}
	group, groupCtx := errgroup.WithContext(rootCtx)

	group.Go(func() error {
		log.Printf("🚀 Kiro account manager listening on http://%s", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.AutoRefresh.Enabled {
		group.Go(func() error {
			runAutoRefresh(groupCtx, st, executor, rec, cfg.AutoRefresh.IntervalMin, cfg.AutoRefresh.Concurrency)
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		// Best-effort flush of the last good snapshot before exit.
		if err := st.Flush(); err != nil {
			log.Printf("⚠️ Final snapshot flush failed: %v", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("👋 Shutdown complete")
}

// runAutoRefresh periodically batch-refreshes accounts whose tokens expire
// within the refresh interval.
func runAutoRefresh(ctx context.Context, st *store.Store, executor *batch.Executor, rec *reconcile.Reconciler, intervalMin, concurrency int) {
	if intervalMin <= 0 {
		intervalMin = 30
	}
	interval := time.Duration(intervalMin) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("🔄 Auto-refresh loop started (interval: %dmin)", intervalMin)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		threshold := time.Now().Add(interval).UnixMilli()
		var due []*store.Account
		for _, a := range st.Accounts() {
			if a.Credentials.ExpiresAt > 0 && a.Credentials.ExpiresAt < threshold {
				due = append(due, a)
			}
		}
		if len(due) == 0 {
			continue
		}

		summary := executor.Run(ctx, due, concurrency, batch.ModeRefresh)
		for _, item := range summary.Results {
			_ = rec.ApplyBatchResult(item.AccountID, item.Status, item.Error, item.Check)
		}
	}
}
