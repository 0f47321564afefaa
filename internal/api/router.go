// Package api provides the REST API for managing export schedules.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/metrics"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	// AllowedOrigins is the list of allowed CORS origins. Empty means all origins allowed.
	AllowedOrigins []string
	// AuthConfig holds authentication configuration.
	AuthConfig AuthConfig
	// RateLimiter is the rate limiter instance (optional).
	RateLimiter *RateLimiter
	// Metrics serves /metrics and records request metrics (optional).
	Metrics *metrics.Metrics
	// RequestTimeout bounds handler execution. Zero means 60s.
	RequestTimeout time.Duration
}

// NewRouter creates a new API router.
func NewRouter(handler *Handler, logger zerolog.Logger, config RouterConfig) *chi.Mux {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(NewMetricsMiddleware(config.Metrics))
	r.Use(NewTracingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Use(NewCORSMiddleware(config.AllowedOrigins))

	// Unauthenticated endpoints
	r.Get("/health", handler.HealthCheck)
	r.Handle("/metrics", config.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(NewAuthMiddleware(handler, config.AuthConfig))

		// Buckets are keyed by API key, so limit only authenticated callers
		if config.RateLimiter != nil {
			r.Use(NewRateLimitMiddleware(handler, config.RateLimiter))
		}

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", handler.ListSchedules)
			r.Post("/", handler.CreateSchedule)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handler.GetSchedule)
				r.Put("/", handler.UpdateSchedule)
				r.Delete("/", handler.DeleteSchedule)

				r.Post("/pause", handler.PauseSchedule)
				r.Post("/resume", handler.ResumeSchedule)
				r.Post("/complete", handler.CompleteSchedule)
				r.Get("/preview", handler.PreviewSchedule)
			})
		})
	})

	return r
}

// NewCORSMiddleware creates a CORS middleware with configurable origins.
func NewCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if len(allowedOrigins) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				for _, allowed := range allowedOrigins {
					if origin == allowed || allowed == "*" {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						w.Header().Add("Vary", "Origin")
						break
					}
				}
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
