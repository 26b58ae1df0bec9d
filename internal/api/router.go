package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:*", "https://localhost:*"}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", h.CreateJob)
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{jobID}", h.GetJob)
		r.Get("/stats", h.GetStats)

		r.Get("/triage", h.ListTriage)
		r.Post("/triage/{entryID}/resolve", h.ResolveTriage)
	})

	return r
}
