// Command analyzer starts the corpus statistics analyzer.
//
// The service consumes document events from Kafka, maintains an in-memory
// term count table per corpus, and recomputes tf-idf statistics on an
// interval (or early, once enough new documents accumulate). Results are
// persisted to PostgreSQL; completion and cache-invalidation events are
// published to Kafka. Live corpus state is served to the stats service over
// an internal RPC listener.
//
// Usage:
//
//	go run ./cmd/analyzer [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/corpusware/termstat/internal/analytics"
	"github.com/corpusware/termstat/internal/analyzer"
	"github.com/corpusware/termstat/internal/analyzer/consumer"
	"github.com/corpusware/termstat/internal/analyzer/store"
	"github.com/corpusware/termstat/pkg/config"
	"github.com/corpusware/termstat/pkg/kafka"
	"github.com/corpusware/termstat/pkg/logger"
	"github.com/corpusware/termstat/pkg/metrics"
	"github.com/corpusware/termstat/pkg/postgres"
	"github.com/corpusware/termstat/pkg/rpc"
	"github.com/corpusware/termstat/pkg/tracing"
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
	slog.Info("starting analyzer service",
		"recompute_interval", cfg.Analyzer.RecomputeInterval,
		"recompute_threshold", cfg.Analyzer.RecomputeThreshold,
	)

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
	st := store.New(db)

	statsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.StatsComplete)
	defer statsProducer.Close()
	invalidateProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate)
	defer invalidateProducer.Close()
	eventsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer eventsProducer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := analytics.NewCollector(eventsProducer, m,
		cfg.Analytics.BufferSize, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
	collector.Start(ctx)
	defer collector.Close()

	tracer := tracing.New(cfg.Tracing.Enabled, cfg.Tracing.SampleRate)
	registry := analyzer.NewRegistry(st, statsProducer, invalidateProducer, collector, m, tracer, cfg.Analyzer)

	if cfg.Analyzer.RehydrateOnStart {
		if err := registry.Rehydrate(ctx); err != nil {
			slog.Error("rehydration failed", "error", err)
			os.Exit(1)
		}
		if err := registry.RecomputeAll(ctx); err != nil {
			slog.Error("startup recompute failed", "error", err)
			os.Exit(1)
		}
	}

	rpcServer := rpc.NewServer()
	analyzer.RegisterRPC(rpcServer, registry, m)
	if _, err := rpcServer.Listen(cfg.RPC.Addr); err != nil {
		slog.Error("rpc listen failed", "addr", cfg.RPC.Addr, "error", err)
		os.Exit(1)
	}
	go func() {
		if err := rpcServer.Serve(); err != nil {
			slog.Error("rpc server error", "error", err)
		}
	}()
	defer rpcServer.Stop()

	registry.StartRecomputeLoop(ctx)

	handler := consumer.HandleMessage(registry, st, cfg.Analyzer.RecomputeThreshold, m)
	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Documents, "termstat-analyzer", handler)
	analyzeConsumer := consumer.New(kafkaConsumer)

	slog.Info("analyzer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.Documents,
		"rpc_addr", cfg.RPC.Addr,
	)

	if err := analyzeConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("recomputing dirty corpora before shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	if err := registry.RecomputeDirty(shutdownCtx); err != nil {
		slog.Error("final recompute failed", "error", err)
	}
	if metricsShutdown != nil {
		if err := metricsShutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}
	cancel()

	slog.Info("analyzer service stopped")
}
