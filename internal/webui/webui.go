package webui

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cortexuvula/roomchat/internal/config"
	"github.com/cortexuvula/roomchat/internal/journal"
	"github.com/cortexuvula/roomchat/internal/security"
	"github.com/cortexuvula/roomchat/internal/session"
)

// Source provides the session snapshot.
type Source interface {
	View() session.View
}

// Dependencies holds all injected dependencies for the status listener.
type Dependencies struct {
	Session     Source
	Journal     *journal.Journal
	Health      http.Handler
	Metrics     http.Handler // nil when metrics are disabled
	MetricsPath string
	Version     string
	BuildTime   string
	GitCommit   string
	StartTime   time.Time
	ReloadFunc  func() error
	GetConfig   func() *config.Config
	AuthToken   string                // bearer token for /api/v1; empty disables
	Limiter     *security.RateLimiter // nil disables request budgeting
}

// WebUI serves the watch daemon's status endpoints.
type WebUI struct {
	deps Dependencies
}

// New creates a new WebUI instance.
func New(deps Dependencies) *WebUI {
	if deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}
	return &WebUI{deps: deps}
}

// Router returns the chi router with every endpoint mounted.
func (ui *WebUI) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	if ui.deps.Limiter != nil {
		r.Use(ui.deps.Limiter.Middleware)
	}

	if ui.deps.Health != nil {
		r.Method(http.MethodGet, "/health", ui.deps.Health)
	}
	if ui.deps.Metrics != nil {
		r.Method(http.MethodGet, ui.deps.MetricsPath, ui.deps.Metrics)
	}

	requireToken := security.RequireToken(ui.deps.AuthToken)
	r.With(requireToken).Get("/transcript", ui.handleTranscript)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireToken)
		r.Get("/status", ui.handleStatus)
		r.Get("/state", ui.handleState)
		r.Get("/events", ui.handleEvents)
		r.Get("/config", ui.handleConfig)
		r.Post("/reload", ui.handleReload)
	})
	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src http: https:; style-src 'self' 'unsafe-inline'")
		next.ServeHTTP(w, r)
	})
}
