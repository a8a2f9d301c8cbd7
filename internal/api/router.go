package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/robert-malhotra/s1-insar/internal/metrics"
)

// NewRouter mounts the job API. allowedOrigins feeds the CORS policy; an
// empty list allows any origin.
func NewRouter(h *Handlers, logger *slog.Logger, allowedOrigins []string) chi.Router {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDResponse)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(Recovery(logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.Compress(5))
	r.Use(ContentTypeJSON)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length"},
		ExposedHeaders:   []string{"Location", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/", h.LandingPage)

	r.Route("/jobs", func(r chi.Router) {
		r.With(LimitBody(maxBodyBytes)).Post("/", h.CreateJob)
		r.Get("/", h.ListJobs)
		r.Get("/{jobId}", h.GetJob)
		r.Get("/{jobId}/item", h.GetJobItem)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "endpoint not found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
	})

	return r
}
