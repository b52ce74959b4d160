package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xero-sync-service/internal/auth"
	"xero-sync-service/internal/config"
	"xero-sync-service/internal/shop"
	"xero-sync-service/internal/store"
	"xero-sync-service/internal/sync"
)

// Syncer is the engine as seen by the HTTP surface.
type Syncer interface {
	Sync(ctx context.Context, entityType shop.EntityType, localID int64) sync.Result
	SyncAll(ctx context.Context, entityType shop.EntityType, opts sync.BulkOptions) (sync.Summary, error)
	OnEntityCreated(ctx context.Context, entityType shop.EntityType, localID int64) sync.Result
	OnEntityUpdated(ctx context.Context, entityType shop.EntityType, localID int64) sync.Result
	HandleRemoteChange(ctx context.Context, change sync.RemoteChange) error
	ResetLinks(ctx context.Context, entityType shop.EntityType) error
	VerifyLink(ctx context.Context, entityType shop.EntityType, localID int64) (sync.LinkCheck, error)
	OnDisconnect(ctx context.Context) error
}

type Session interface {
	AuthorizationURL() (string, string, error)
	VerifyState(state string) error
	ExchangeCode(ctx context.Context, code string) (auth.TokenState, error)
	Disconnect(ctx context.Context) error
	Status() auth.ConnectionStatus
}

type Monitor interface {
	GetStatus() sync.Status
}

// Reference exposes the organisation settings the mapping relies on.
type Reference interface {
	CheckAccounts(ctx context.Context) (sync.AccountCheck, error)
	TaxMappings() map[string]string
	RefreshTaxRates(ctx context.Context) (map[string]string, error)
}

type Handler struct {
	cfg       config.ServerConfig
	syncer    Syncer
	session   Session
	monitor   Monitor
	reference Reference
	ledger    store.Store
}

func NewHandler(cfg config.ServerConfig, syncer Syncer, session Session, monitor Monitor, reference Reference, ledger store.Store) *Handler {
	return &Handler{
		cfg:       cfg,
		syncer:    syncer,
		session:   session,
		monitor:   monitor,
		reference: reference,
		ledger:    ledger,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware(h.cfg.CorsOrigins))

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		// The identity provider redirects the browser here; the state
		// parameter authenticates the call.
		r.Get("/callback", h.Callback)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.cfg.AuthToken))
			r.Get("/connect", h.Connect)
			r.Get("/status", h.AuthStatus)
			r.Post("/disconnect", h.Disconnect)
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.cfg.AuthToken))

		r.Post("/sync/{entity}/{id}", h.SyncEntity)
		r.Post("/sync/{entity}", h.SyncAll)
		r.Post("/events/{entity}/{id}", h.EntityChanged)
		r.Get("/links", h.ListLinks)
		r.Get("/links/{entity}/{id}", h.GetLink)
		r.Post("/links/{entity}/{id}/verify", h.VerifyLink)
		r.Delete("/links/{entity}", h.ResetLinks)
		r.Get("/runs", h.ListRuns)
		r.Post("/remote-events", h.RemoteEvents)
		r.Get("/settings/accounts", h.CheckAccounts)
		r.Get("/settings/tax-rates", h.TaxMappings)
		r.Post("/settings/tax-rates/refresh", h.RefreshTaxRates)
		r.Get("/status", h.Status)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
