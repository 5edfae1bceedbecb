package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-memories/pkg/memories"
)

// RouterConfig configures NewRouter
type RouterConfig struct {
	Service memories.Service
	Logger  *slog.Logger

	// JWTSecret enables HS256 bearer authentication on /api/v1 when set
	JWTSecret string

	// Registry enables /metrics and request metrics when set
	Registry *prometheus.Registry

	// RequestTimeout bounds each API request; 0 disables it
	RequestTimeout time.Duration
}

// NewRouter builds the HTTP server handler
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("service is required")
	}
	logger := loggerOrDefault(cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoveryMiddleware(logger))

	if cfg.Registry != nil {
		metrics, err := NewHTTPMetrics("memories", cfg.Registry)
		if err != nil {
			return nil, fmt.Errorf("failed to register http metrics: %w", err)
		}
		r.Use(MetricsMiddleware(metrics))
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, http.StatusText(http.StatusOK))
	})

	handler := NewHandler(cfg.Service, logger)
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		if cfg.JWTSecret != "" {
			for _, m := range AuthMiddleware(NewTokenAuth(cfg.JWTSecret)) {
				r.Use(m)
			}
		}
		r.Mount("/", handler.Routes())
	})

	return r, nil
}
