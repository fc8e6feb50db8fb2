// Command statsapi starts the term statistics query service.
//
// The service reads persisted tf-idf statistics from PostgreSQL, caches
// responses in Redis, and answers corpus, document, term, and ranking
// queries over HTTP. A Kafka consumer flushes cached entries whenever the
// analyzer announces a recompute, and an internal RPC client attaches live
// analyzer state to corpus summaries on request.
//
// Usage:
//
//	go run ./cmd/statsapi [-config configs/development.yaml]
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
	statscache "github.com/corpusware/termstat/internal/statsapi/cache"
	"github.com/corpusware/termstat/internal/statsapi/handler"
	"github.com/corpusware/termstat/internal/statsapi/store"
	"github.com/corpusware/termstat/pkg/config"
	"github.com/corpusware/termstat/pkg/health"
	"github.com/corpusware/termstat/pkg/kafka"
	"github.com/corpusware/termstat/pkg/logger"
	"github.com/corpusware/termstat/pkg/metrics"
	"github.com/corpusware/termstat/pkg/middleware"
	"github.com/corpusware/termstat/pkg/postgres"
	pkgredis "github.com/corpusware/termstat/pkg/redis"
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
	slog.Info("starting stats service", "port", cfg.Server.Port)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is optional: without it every query goes to Postgres, which is
	// slower but correct.
	var responseCache *statscache.Cache
	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, response caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		responseCache = statscache.New(redisClient, cfg.Redis, m)
		slog.Info("response cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)

		invalidateConsumer := kafka.NewConsumer(cfg.Kafka,
			cfg.Kafka.Topics.CacheInvalidate, "termstat-statsapi",
			statscache.HandleInvalidate(responseCache))
		go func() {
			if err := invalidateConsumer.Start(ctx); err != nil {
				slog.Error("cache invalidation consumer error", "error", err)
			}
		}()
		slog.Info("cache invalidation consumer started", "topic", cfg.Kafka.Topics.CacheInvalidate)
	}

	// The RPC link to the analyzer is also optional: summaries degrade to
	// persisted data only.
	var analyzerRPC *rpc.Client
	analyzerRPC, err = rpc.Dial(cfg.RPC.Addr, cfg.RPC.Timeout)
	if err != nil {
		slog.Warn("analyzer rpc unavailable, live state disabled", "addr", cfg.RPC.Addr, "error", err)
		analyzerRPC = nil
	} else {
		defer analyzerRPC.Close()
		slog.Info("analyzer rpc connected", "addr", cfg.RPC.Addr)
	}

	eventsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer eventsProducer.Close()
	collector := analytics.NewCollector(eventsProducer, m,
		cfg.Analytics.BufferSize, cfg.Analytics.BatchSize, cfg.Analytics.FlushInterval)
	collector.Start(ctx)
	defer collector.Close()

	tracer := tracing.New(cfg.Tracing.Enabled, cfg.Tracing.SampleRate)
	h := handler.New(st, responseCache, analyzerRPC, collector, m, tracer, cfg.Stats)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/corpora", h.ListCorpora)
	mux.HandleFunc("GET /api/v1/corpora/{corpus}/stats", h.Summary)
	mux.HandleFunc("GET /api/v1/corpora/{corpus}/documents/{document}/terms", h.DocumentTerms)
	mux.HandleFunc("GET /api/v1/corpora/{corpus}/terms/{term}", h.TermStats)
	mux.HandleFunc("GET /api/v1/corpora/{corpus}/rankings", h.Rankings)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
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

	slog.Info("stats service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("stats service stopped")
}
