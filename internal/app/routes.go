package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/playintel/market-analyst/internal/handler"
	"github.com/playintel/market-analyst/internal/middleware"
)

// NewRouter mounts the HTTP surface over the app.
func NewRouter(a *App) http.Handler {
	cfg := a.Config

	var nats handler.ConnChecker
	if a.NATS != nil {
		nats = a.NATS
	}
	healthHandler := handler.NewHealthHandler(a.Store, nats)
	chatHandler := handler.NewChatHandler(a.Chat, a.Logger)
	infoHandler := handler.NewInfoHandler(a.Stats, a.Logger)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(a.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/stats", infoHandler.Stats)
		r.Get("/sample-questions", infoHandler.SampleQuestions)

		r.Group(func(r chi.Router) {
			if cfg.JWTSecret != "" {
				r.Use(middleware.Auth(cfg.JWTSecret))
				r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
			}

			r.Post("/chat", chatHandler.Chat)
			r.Post("/query-usage", chatHandler.QueryUsage)
			r.Get("/history/{session_id}", chatHandler.History)
		})
	})

	return r
}
