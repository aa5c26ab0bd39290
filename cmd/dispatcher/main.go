package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saaga0h/roomwatch/internal/api"
	"github.com/saaga0h/roomwatch/internal/dispatcher"
	"github.com/saaga0h/roomwatch/internal/metrics"
	"github.com/saaga0h/roomwatch/internal/roomstate"
	"github.com/saaga0h/roomwatch/internal/source"
	"github.com/saaga0h/roomwatch/internal/transport"
	"github.com/saaga0h/roomwatch/pkg/config"
	"github.com/saaga0h/roomwatch/pkg/health"
	"github.com/saaga0h/roomwatch/pkg/postgres"
)

func main() {
	// Load configuration with hierarchy: defaults → file → env → flags
	cfg, err := config.Load("dispatcher", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting batch ingestion dispatcher",
		"service_name", cfg.ServiceName,
		"submit_mode", cfg.SubmitMode,
		"postgres_host", cfg.PostgresHost,
		"source_schema", cfg.SourceSchema,
		"poll_interval", cfg.PollInterval,
		"min_interval_per_room", cfg.MinIntervalPerRoom,
		"batch_limit", cfg.BatchLimit,
		"log_level", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	pgClient := postgres.NewClient(cfg, logger)
	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	err = pgClient.Connect(connectCtx)
	connectCancel()
	if err != nil {
		logger.Error("Postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer pgClient.Disconnect()

	src := source.NewPostgresSource(pgClient, cfg.SourceSchema, logger)
	for _, coll := range cfg.CreateCollections {
		if err := src.EnsureCollection(ctx, coll); err != nil {
			logger.Error("Failed to create collection", "collection", coll, "error", err)
			os.Exit(1)
		}
	}
	m := metrics.New(nil)

	var (
		submitter dispatcher.Submitter
		apiServer *http.Server
		stopLocal context.CancelFunc
	)
	switch cfg.SubmitMode {
	case "local":
		// The state machine runs in this process; its API is served for inspection
		store := roomstate.NewStore()
		processor := roomstate.NewProcessor(store, cfg.MinInterval, logger, roomstate.WithListener(m))
		sweeper := roomstate.NewSweeper(store, cfg.MaxInterval, cfg.SweepInterval, roomstate.RealClock(), logger, m)

		var localCtx context.Context
		localCtx, stopLocal = context.WithCancel(context.Background())
		go sweeper.Run(localCtx)

		server := api.NewServer(store, processor, nil, nil, logger, api.WithValidationObserver(m))
		apiServer = startServer("API", cfg.APIPort, server.Handler(nil), logger)
		submitter = transport.NewLocalSubmitter(processor)

	default:
		httpSubmitter := transport.NewHTTPSubmitter(&http.Client{}, cfg.PipelineURL, cfg.HealthURL, logger)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := httpSubmitter.Ping(pingCtx)
		pingCancel()
		if err != nil {
			logger.Error("Backend pre-flight check failed", "error", err)
			os.Exit(1)
		}
		submitter = httpSubmitter
	}

	checker := health.NewChecker(logger, health.WithPostgres(pgClient))
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HandlerFunc())
	mux.HandleFunc("/health/detailed", checker.DetailedHandlerFunc())
	mux.Handle("/metrics", m.Handler())
	healthServer := startServer("health check", cfg.HealthPort, mux, logger)

	d := dispatcher.New(src, submitter, dispatcher.Config{
		PollInterval:        cfg.PollInterval,
		MinIntervalPerRoom:  cfg.MinIntervalPerRoom,
		BatchLimit:          cfg.BatchLimit,
		SubmitTimeout:       cfg.SubmitTimeout,
		ExcludedCollections: cfg.ExcludedCollections,
		SourceID:            cfg.SourceID,
	}, logger, dispatcher.WithObserver(m))

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(ctx) }()

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received (SIGTERM/SIGINT)")
		cancel()
		// Let the in-flight record finish
		if err := <-runDone; err != nil {
			logger.Error("Dispatcher error", "error", err)
		}
	case err := <-runDone:
		if err != nil {
			logger.Error("Dispatcher failed", "error", err)
		}
	}

	logger.Info("Initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down API server", "error", err)
		}
	}
	if stopLocal != nil {
		stopLocal()
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down health server", "error", err)
	}

	logger.Info("Dispatcher shutdown complete")
}

func startServer(name string, port int, handler http.Handler, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting "+name+" server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "server", name, "error", err)
		}
	}()

	return server
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
