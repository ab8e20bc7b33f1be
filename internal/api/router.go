package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/KilimcininKorOglu/kiro-account-manager/internal/audit"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth/idc"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth/session"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/auth/social"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/batch"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/eventbus"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/reconcile"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/refresh"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/ssocache"
	"github.com/KilimcininKorOglu/kiro-account-manager/internal/store"
)

// Deps bundles everything the router wires into handlers.
type Deps struct {
	Store      *store.Store
	Orch       *refresh.Orchestrator
	Reconciler *reconcile.Reconciler
	Executor   *batch.Executor
	Bus        *eventbus.Bus
	IdC        *idc.Client
	Importer   *idc.Importer
	Social     *social.Client
	Session    *session.Slot
	Audit      *audit.Logger
	SSOCache   *ssocache.Cache
}

// NewRouter assembles the UI-facing API.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/accounts", AccountsHandler(d.Store))
		r.Delete("/accounts/{id}", DeleteAccountHandler(d.Reconciler))
		r.Post("/accounts/{id}/refresh", RefreshAccountHandler(d.Store, d.Orch, d.Reconciler, d.Audit))
		r.Post("/accounts/{id}/check", CheckAccountHandler(d.Store, d.Orch, d.Reconciler, d.Audit))
		r.Post("/accounts/{id}/assign", AssignAccountHandler(d.Store))
		r.Post("/accounts/{id}/activate", ActivateAccountHandler(d.Store, d.SSOCache))

		r.Post("/batch/refresh", BatchHandler(d.Store, d.Executor, d.Reconciler, d.Audit, batch.ModeRefresh))
		r.Post("/batch/check", BatchHandler(d.Store, d.Executor, d.Reconciler, d.Audit, batch.ModeCheck))
		r.Get("/events", EventsHandler(d.Bus))

		r.Post("/import/sso", ImportSSOHandler(d.Importer, d.Orch, d.Reconciler, d.Audit))
		r.Post("/import/cache", ImportCacheHandler(d.SSOCache, d.Orch, d.Reconciler, d.Audit))
		r.Post("/login/device/start", DeviceLoginStartHandler(d.IdC, d.Session))
		r.Post("/login/device/poll", DeviceLoginPollHandler(d.IdC, d.Session, d.Orch, d.Reconciler, d.Audit))
		r.Post("/login/social/start", SocialLoginStartHandler(d.Social, d.Session))
		r.Post("/login/social/exchange", SocialCallbackHandler(d.Social, d.Session, d.Orch, d.Reconciler, d.Audit))

		r.Get("/groups", GroupsHandler(d.Store))
		r.Post("/groups", CreateGroupHandler(d.Store))
		r.Delete("/groups/{id}", DeleteGroupHandler(d.Store))
		r.Get("/tags", TagsHandler(d.Store))
		r.Post("/tags", CreateTagHandler(d.Store))
		r.Delete("/tags/{id}", DeleteTagHandler(d.Store))

		r.Get("/settings", SettingsHandler(d.Store))
		r.Put("/settings", UpdateSettingsHandler(d.Store))

		r.Get("/audit", AuditHandler(d.Audit))
	})

	// Custom URI scheme callbacks land here when the OS hands them to the app.
	r.Get("/callback", SocialCallbackHandler(d.Social, d.Session, d.Orch, d.Reconciler, d.Audit))

	return r
}
