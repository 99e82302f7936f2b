package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gurumnyang/dccon-exporter/internal/http/handlers"
	"github.com/gurumnyang/dccon-exporter/internal/infra"
	"github.com/gurumnyang/dccon-exporter/internal/middleware"
)

// rateLimitWindow is the fixed window the submission limit counts against.
const rateLimitWindow = time.Minute

// NewRouter assembles the API surface. Job submission carries a per-client
// rate limit; reads stay unthrottled so polling remains cheap.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(logger),
		chimw.Recoverer,
		middleware.CORS(cfg.CORSAllowedOrigins),
	)

	r.Get("/healthz", app.Health)
	r.Get("/api/stats", app.Stats)

	createLimit := middleware.RateLimit(cfg.RateLimitPerMin, rateLimitWindow)
	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", app.JobsList)
		r.With(createLimit).Post("/", app.JobsCreate)
		r.Get("/{job_id}", app.JobsGet)
		r.Get("/{job_id}/download", app.JobsDownload)
	})

	return r
}
