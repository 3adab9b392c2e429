package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/goclaw/pumpcycle/config"
	"github.com/goclaw/pumpcycle/pkg/api/handlers"
	"github.com/goclaw/pumpcycle/pkg/api/middleware"
	"github.com/goclaw/pumpcycle/pkg/logger"

	_ "github.com/goclaw/pumpcycle/docs/swagger" // Import generated docs
)

// Handlers holds all HTTP handlers. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	Cycle     *handlers.CycleHandler
	Signal    *handlers.SignalHandler
	Config    *handlers.ConfigHandler
	Health    *handlers.HealthHandler
	WebSocket *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder

	// MetricsHandler, when set, is also served at /metrics on the API port.
	MetricsHandler http.Handler
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	tracing := middleware.DefaultTracingOptions()
	tracing.Line = cfg.App.Line
	r.Use(middleware.Tracing(tracing))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	r.Use(middleware.CORS(&cfg.Server.CORS))

	// Long-lived websocket connections bypass the request timeout.
	if h.WebSocket != nil {
		r.Get("/ws/events", h.WebSocket.ServeHTTP)
	}
	if h.MetricsHandler != nil {
		r.Handle("/metrics", h.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.HTTP.RequestTimeout))
		RegisterRoutes(r, &cfg.Server.RateLimit, h)
	})

	return r
}

// RegisterRoutes registers the API, probe and documentation routes.
func RegisterRoutes(r chi.Router, rl *config.RateLimitConfig, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		if h.Cycle != nil {
			r.Route("/cycles", func(r chi.Router) {
				r.Post("/", h.Cycle.StartCycle)
				r.Get("/", h.Cycle.ListCycles)
				r.Get("/current", h.Cycle.CurrentCycle)
				r.Post("/current/cancel", h.Cycle.CancelCycle)
				r.Get("/{id}", h.Cycle.GetCycle)
			})
		}

		if h.Signal != nil {
			r.Route("/signals", func(r chi.Router) {
				r.Get("/", h.Signal.GetSignals)
				r.With(middleware.RateLimit(rl)).Put("/inputs/{name}", h.Signal.SetInput)
			})
		}

		if h.Config != nil {
			r.Get("/config/cycle", h.Config.GetCycleConfig)
		}
	})

	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
		r.Get("/status", h.Health.Status)
	}

	r.Get("/swagger/*", httpSwagger.WrapHandler)
}
