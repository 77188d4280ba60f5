package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yoeldevsoft25/lacaja-sync/api/controllers"
	"github.com/yoeldevsoft25/lacaja-sync/api/middleware"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/config"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/logger"
)

type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	Ingest       controllers.IngestService
	Queries      controllers.SyncQueries
	DB           controllers.Pinger
	Redis        controllers.Pinger
	PromGatherer prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": params.DB,
			"redis":    params.Redis,
		}))
	})

	if params.PromGatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.PromGatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Post("/events", controllers.SubmitBatch(params.Ingest, logg))
		r.Get("/dead-letters", controllers.ListDeadLetters(params.Queries, logg))
		r.Get("/cursors", controllers.ListCursors(params.Queries, logg))
	})

	return r
}
