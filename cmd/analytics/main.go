// Command analytics starts the usage analytics service.
//
// The service consumes usage events from Kafka, folds them into in-memory
// aggregates (query volume, latency percentiles, top corpora and terms,
// zero-result terms), and serves the result at GET /api/v1/analytics.
// Aggregates are snapshotted to PostgreSQL periodically so running totals
// survive restarts.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/corpusware/termstat/internal/analytics"
	analyticsstore "github.com/corpusware/termstat/internal/analytics/store"
	"github.com/corpusware/termstat/pkg/config"
	"github.com/corpusware/termstat/pkg/health"
	"github.com/corpusware/termstat/pkg/kafka"
	"github.com/corpusware/termstat/pkg/logger"
	"github.com/corpusware/termstat/pkg/metrics"
	"github.com/corpusware/termstat/pkg/middleware"
	"github.com/corpusware/termstat/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	m := metrics.New()
	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgres")
	astore := analyticsstore.New(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator(cfg.Analytics.TopN)
	prev, err := astore.LatestSnapshot(ctx)
	if err != nil {
		slog.Warn("could not load previous snapshot, starting fresh", "error", err)
	} else {
		agg.Seed(prev)
	}

	eventsConsumer := kafka.NewConsumer(cfg.Kafka,
		cfg.Kafka.Topics.AnalyticsEvents, "termstat-analytics",
		analytics.HandleEvent(agg))
	go func() {
		if err := eventsConsumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics consumer started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

	astore.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)

	h := analytics.NewHandler(agg, astore)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/history", h.History)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if metricsShutdown != nil {
			if err := metricsShutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	if err := astore.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
		slog.Error("final snapshot failed", "error", err)
	}
	cancel()

	slog.Info("analytics service stopped")
}
