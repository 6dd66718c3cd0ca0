// Package httpapi is the HTTP layer: the supplier portal (magic-code
// authenticated) and the admin surface (JWT authenticated).
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"condoflow.io/internal/magiccode"
	"condoflow.io/internal/obs"
	"condoflow.io/internal/workflow"
)

// ReadyProbe checks backing-store readiness. A nil DB always reports ready,
// which is the in-memory case.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the HTTP-layer knobs.
type Config struct {
	Version        string
	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int
	RevokeOnIssue  bool
}

// API routes requests to the workflow and authentication services.
type API struct {
	router     chi.Router
	workflow   *workflow.Service
	codes      *magiccode.Service
	suppliers  magiccode.Store
	admin      *AdminAuth
	readyProbe ReadyProbe
	log        *zap.Logger
	cfg        Config
}

func New(wf *workflow.Service, codes *magiccode.Service, suppliers magiccode.Store, admin *AdminAuth, rp ReadyProbe, cfg Config, log *zap.Logger) *API {
	if log == nil {
		log = obs.Logger()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	a := &API{
		router:     chi.NewRouter(),
		workflow:   wf,
		codes:      codes,
		suppliers:  suppliers,
		admin:      admin,
		readyProbe: rp,
		log:        log,
		cfg:        cfg,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.Use(RequestID)
	r.Use(Logging(a.log))
	r.Use(SecurityHeaders)
	r.Use(MaxBodyBytes(a.cfg.MaxBodyBytes))
	if a.cfg.RateLimitRPS > 0 {
		r.Use(RateLimit(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst))
	}

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.readyz)
	r.Get("/v1/info", a.info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1/portal", func(r chi.Router) {
		r.Post("/session", a.portalSession)
		r.Post("/accept", a.portalAccept)
		r.Post("/decline", a.portalDecline)
		r.Post("/quotations", a.portalSubmitQuotation)
		r.Post("/start", a.portalStart)
		r.Post("/complete", a.portalComplete)
		r.Post("/cancel", a.portalCancel)
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(a.admin.Require)
		r.Post("/suppliers", a.createSupplier)
		r.Post("/suppliers/{id}/codes", a.issueCode)
		r.Post("/assistances", a.createAssistance)
		r.Get("/assistances/{id}", a.getAssistance)
		r.Get("/assistances/{id}/quotations", a.listQuotations)
		r.Get("/assistances/{id}/log", a.listTransitionLog)
		r.Post("/assistances/{id}/quotation-request", a.requestQuotation)
		r.Post("/assistances/{id}/schedule", a.scheduleWork)
		r.Post("/assistances/{id}/validate", a.validateCompletion)
		r.Post("/assistances/{id}/cancel", a.cancelAssistance)
		r.Post("/quotations/{id}/approve", a.approveQuotation)
		r.Post("/quotations/{id}/reject", a.rejectQuotation)
	})
}

// Handler returns the instrumented root handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "condoflow-api",
		"version": a.cfg.Version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "condoflow-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.cfg.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
