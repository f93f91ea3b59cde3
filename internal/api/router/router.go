package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lucasdeangeli4scale/disparaai/internal/http/handlers"
	httpmiddleware "github.com/lucasdeangeli4scale/disparaai/internal/http/middleware"
	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Health         *handlers.HealthHandler
	EvolutionHook  *handlers.EvolutionWebhookHandler
	Admin          *handlers.AdminHandler
	MetricsHandler http.Handler

	// WebhookToken, when set, must accompany every webhook call.
	WebhookToken     string
	WebhookRateLimit float64
	WebhookBurst     int

	AdminAuthSecret string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.Health)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.EvolutionHook != nil {
			public.Route("/webhook", func(hook chi.Router) {
				if cfg.WebhookRateLimit > 0 {
					hook.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookBurst))
				}
				hook.Use(httpmiddleware.WebhookToken(cfg.WebhookToken))
				hook.Post("/evolution", cfg.EvolutionHook.Handle)
			})
		}
	})

	if cfg.Admin != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Use(middleware.Compress(5))
			admin.Get("/sessions/{userID}", cfg.Admin.GetSession)
			admin.Delete("/sessions/{userID}", cfg.Admin.DeleteSession)
			admin.Get("/campaigns/{campaignID}", cfg.Admin.GetCampaign)
		})
	}

	return r
}
