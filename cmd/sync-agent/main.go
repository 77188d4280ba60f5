package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/yoeldevsoft25/lacaja-sync/internal/device"
	"github.com/yoeldevsoft25/lacaja-sync/internal/dispatch"
	"github.com/yoeldevsoft25/lacaja-sync/internal/eventlog"
	"github.com/yoeldevsoft25/lacaja-sync/internal/localview"
	"github.com/yoeldevsoft25/lacaja-sync/internal/rates"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/config"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/db"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/logger"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/metrics"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sync-agent"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "sync-agent",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	var storeID uuid.UUID
	if cfg.Agent.StoreID != "" {
		storeID, err = uuid.Parse(cfg.Agent.StoreID)
		if err != nil {
			logg.Error(context.Background(), "invalid store id in config", err)
			os.Exit(1)
		}
	}

	dbClient, err := db.OpenAgentDB(context.Background(), cfg.Agent.DBPath, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to open agent database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing agent database", err)
		}
	}()

	if err := eventlog.Migrate(dbClient.DB()); err != nil {
		logg.Error(context.Background(), "failed to migrate agent schema", err)
		os.Exit(1)
	}

	identity, err := device.NewStore(dbClient.DB()).LoadOrCreate(context.Background(), storeID)
	if err != nil {
		logg.Error(context.Background(), "failed to load device identity", err)
		os.Exit(1)
	}

	ctx := logg.WithFields(context.Background(), map[string]any{
		"store_id":  identity.StoreID.String(),
		"device_id": identity.DeviceID.String(),
	})
	logg.Info(ctx, "device identity ready")

	log, err := eventlog.New(dbClient.DB(), identity)
	if err != nil {
		logg.Error(ctx, "failed to open event log", err)
		os.Exit(1)
	}

	registry := events.DefaultRegistry()
	resolver := rates.NewResolver(cfg.Rates.MaxSnapshotAge)

	view, err := localview.New(registry, logNotifier{logg: logg})
	if err != nil {
		logg.Error(ctx, "failed to create local view", err)
		os.Exit(1)
	}
	if err := restoreView(ctx, log, view); err != nil {
		logg.Error(ctx, "failed to restore local view", err)
		os.Exit(1)
	}

	transport, err := dispatch.NewHTTPTransport(dispatch.HTTPTransportParams{
		BaseURL:        cfg.Agent.ServerURL,
		Identity:       identity,
		JWT:            cfg.JWT,
		RequestTimeout: cfg.Dispatch.RequestTimeout,
	})
	if err != nil {
		logg.Error(ctx, "failed to create transport", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	dispatchMetrics := metrics.NewDispatchMetrics(promRegistry)

	dispatcher, err := dispatch.NewService(dispatch.ServiceParams{
		Logger:       logg,
		Log:          log,
		Transport:    transport,
		View:         view,
		Metrics:      dispatchMetrics,
		StoreID:      identity.StoreID,
		BatchSize:    cfg.Dispatch.BatchSize,
		MaxAttempts:  cfg.Dispatch.MaxAttempts,
		PollInterval: cfg.Dispatch.PollInterval,
		BackoffBase:  cfg.Dispatch.BackoffBase,
		BackoffCap:   cfg.Dispatch.BackoffCap,
	})
	if err != nil {
		logg.Error(ctx, "failed to create dispatcher", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Agent.MetricsMux != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: cfg.Agent.MetricsMux, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(ctx, "metrics server stopped unexpectedly", err)
			}
		}()
		go func() {
			<-runCtx.Done()
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(drainCtx)
		}()
	}

	localAPI := newLocalAPI(logg, log, resolver, view, identity)
	localServer := &http.Server{Addr: "127.0.0.1:" + cfg.App.Port, Handler: localAPI.routes()}
	go func() {
		logg.Info(logg.WithField(ctx, "addr", localServer.Addr), "local agent api listening")
		if err := localServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "local api stopped unexpectedly", err)
		}
	}()
	go func() {
		<-runCtx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = localServer.Shutdown(drainCtx)
	}()

	logg.Info(ctx, "starting dispatcher")
	err = dispatcher.Run(runCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "dispatcher stopped unexpectedly", err)
		os.Exit(1)
	}

	// Best-effort final flush so a clean shutdown leaves as little queued as
	// possible. Failures are logged, never fatal.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var flushErr error
	if _, err := dispatcher.Flush(flushCtx); err != nil {
		flushErr = multierr.Append(flushErr, err)
	}
	if pending, err := log.PendingCount(flushCtx); err != nil {
		flushErr = multierr.Append(flushErr, err)
	} else if pending > 0 {
		logg.Warn(logg.WithField(ctx, "pending", pending), "shutting down with queued events, they persist for next run")
	}
	if flushErr != nil {
		logg.Error(ctx, "final flush incomplete", flushErr)
	}
	logg.Info(ctx, "sync agent stopped")
}

// restoreView replays queued events so speculative UI state survives a
// restart.
func restoreView(ctx context.Context, log *eventlog.Log, view *localview.View) error {
	if _, err := log.Recover(ctx); err != nil {
		return err
	}
	entries, err := log.PeekBatch(ctx, 10000)
	if err != nil {
		return err
	}
	queued := make([]events.Event, 0, len(entries))
	for _, entry := range entries {
		queued = append(queued, entry.Event)
	}
	view.Restore(queued)
	return nil
}

type logNotifier struct {
	logg *logger.Logger
}

func (n logNotifier) EventRejected(ctx context.Context, eventID uuid.UUID, reason, message string) {
	logCtx := n.logg.WithFields(ctx, map[string]any{
		"event_id": eventID.String(),
		"reason":   reason,
	})
	n.logg.Warn(logCtx, "event rejected: "+message)
}
