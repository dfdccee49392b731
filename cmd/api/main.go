// Package main is the entry point for the chart engine API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/waveline/internal/aggregate"
	"github.com/onnwee/waveline/internal/api"
	"github.com/onnwee/waveline/internal/catalog"
	"github.com/onnwee/waveline/internal/chart"
	"github.com/onnwee/waveline/internal/chartcache"
	"github.com/onnwee/waveline/internal/config"
	"github.com/onnwee/waveline/internal/health"
	"github.com/onnwee/waveline/internal/jobs"
	"github.com/onnwee/waveline/internal/middleware"
	"github.com/onnwee/waveline/internal/playlog"
	"github.com/onnwee/waveline/internal/refresh"
	"github.com/onnwee/waveline/internal/retention"
	"github.com/onnwee/waveline/internal/scoring"
	"github.com/onnwee/waveline/internal/signing"
	"github.com/onnwee/waveline/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Waveline Chart Engine API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "waveline-charts",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: !cfg.IsProduction(),
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to parse redis URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Metrics registry and per-package collectors.
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	aggMetrics := aggregate.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	for _, err := range []error{
		httpMetrics.Register(registry),
		aggMetrics.Register(registry),
		jobMetrics.Register(registry),
	} {
		if err != nil {
			logger.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
	}

	// Repositories and collaborators.
	events := playlog.NewPostgresRepository(db, logger)
	stats := aggregate.NewPostgresStatsRepository(db, logger)

	// TODO: swap for the catalog service gRPC client once its API ships;
	// until then charts run against a locally seeded in-memory catalog.
	tracks := catalog.NewInMemoryProvider()

	var signer signing.Signer
	if cfg.SigningConfigured() {
		s3signer, err := signing.NewS3Signer(signing.Config{
			BucketName:      cfg.SigningBucket,
			AccessKeyID:     cfg.SigningAccessKeyID,
			SecretAccessKey: cfg.SigningSecretAccessKey,
			Endpoint:        cfg.SigningEndpoint,
		})
		if err != nil {
			logger.Error("failed to initialize URL signer", "error", err)
			os.Exit(1)
		}
		signer = s3signer
	} else {
		logger.Info("URL signing not configured, charts will serve without cover URLs")
	}

	// Scoring weights from the calibration file, merged with defaults.
	weights, err := scoring.LoadCalibration(cfg.CalibrationPath)
	if err != nil {
		logger.Warn("scoring calibration load failed, running on defaults", "error", err)
	}

	aggregator := aggregate.NewAggregator(events, stats, tracks, aggregate.AggregatorConfig{
		Logger:  logger,
		Metrics: aggMetrics,
	})
	calculator := scoring.NewCalculator(stats, tracks, scoring.CalculatorConfig{
		Weights:      weights,
		CandidateCap: cfg.CandidateCap,
		Logger:       logger,
	})
	store := chartcache.NewRedisStore(redisClient, cfg.ChartTTL, logger)

	refresher := refresh.NewService(aggregator, calculator, store, refresh.Config{
		Regions: cfg.Regions,
		Assembler: chart.AssemblerConfig{
			ServingLimit:   cfg.ServingLimit,
			TrendThreshold: cfg.TrendThreshold,
		},
		Logger: logger,
	})

	charts := chartcache.NewService(store, tracks, chartcache.ServiceConfig{
		DefaultLimit: cfg.ServingLimit,
		Signer:       signer,
		Backlog:      events,
		Logger:       logger,
	})

	// Background jobs.
	scheduler := refresh.NewScheduler(refresher, refresh.SchedulerConfig{
		AggregationInterval:  cfg.AggregationInterval,
		ChartRefreshInterval: cfg.ChartRefreshInterval,
		Logger:               logger,
		JobMetrics:           jobMetrics,
	})
	purger := retention.NewService([]retention.Target{
		{Name: "play_events", Retention: cfg.EventRetention, Purge: events.DeleteOlderThan},
		{Name: "daily_track_stats", Retention: cfg.StatsRetention, Purge: stats.DeleteOlderThan},
	}, retention.Config{
		Logger:     logger,
		JobMetrics: jobMetrics,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	defer scheduler.Stop()
	purger.Start(ctx)
	defer purger.Stop()

	// HTTP surface.
	chartHandlers := api.NewChartHandlers(charts)
	adminHandlers := api.NewAdminHandlers(refresher, charts)
	healthHandlers := api.NewHealthHandlers(
		health.NewDBChecker(db),
		health.NewRedisChecker(redisClient),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/charts/", chartHandlers.HandleCharts)
	mux.HandleFunc("/admin/charts/refresh", adminHandlers.Refresh)
	mux.HandleFunc("/admin/charts/clear", adminHandlers.Clear)
	mux.HandleFunc("/admin/charts/inspect", adminHandlers.Inspect)
	mux.HandleFunc("/admin/aggregation/run", adminHandlers.RunAggregation)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			api.WriteError(w, r.Context(), http.StatusNotFound, api.ErrCodeNotFound,
				"The requested resource was not found")
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"service": "waveline-charts"})
	})

	// Middleware chain: RequestID -> Tracing -> Logging -> Metrics.
	var handler http.Handler = mux
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	if tracer.IsEnabled() {
		handler = middleware.Tracing("waveline-charts")(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
