package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yoeldevsoft25/lacaja-sync/api/routes"
	"github.com/yoeldevsoft25/lacaja-sync/internal/customers"
	"github.com/yoeldevsoft25/lacaja-sync/internal/debts"
	"github.com/yoeldevsoft25/lacaja-sync/internal/ingest"
	"github.com/yoeldevsoft25/lacaja-sync/internal/projector"
	"github.com/yoeldevsoft25/lacaja-sync/internal/rates"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/config"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/db"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/logger"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/metrics"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/migrate"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	rateValidator, err := rates.NewValidator(dbClient.DB(), cfg.Rates.BandPct)
	if err != nil {
		logg.Error(context.Background(), "failed to create rate validator", err)
		os.Exit(1)
	}

	proj, err := projector.New(projector.Params{
		Registry:      events.DefaultRegistry(),
		Customers:     customers.NewRepository(dbClient.DB()),
		Debts:         debts.NewRepository(dbClient.DB()),
		RateValidator: rateValidator,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create projector", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()

	guard, err := ingest.NewGuard(ingest.GuardParams{
		DB:        dbClient,
		Dedup:     redisClient,
		Projector: proj,
		Logger:    logg,
		Metrics:   metrics.NewIngestMetrics(registry),
		DedupTTL:  cfg.Ingest.DedupTTL,
		MaxBatch:  cfg.Ingest.MaxBatch,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ingest guard", err)
		os.Exit(1)
	}

	queries, err := ingest.NewQueries(dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create sync queries", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting sync api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			Ingest:       guard,
			Queries:      queries,
			DB:           dbClient,
			Redis:        redisClient,
			PromGatherer: registry,
		}),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(drainCtx); err != nil {
			logg.Error(ctx, "error draining http server", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}
