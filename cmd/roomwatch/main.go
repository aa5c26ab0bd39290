package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saaga0h/roomwatch/internal/api"
	"github.com/saaga0h/roomwatch/internal/ingest"
	"github.com/saaga0h/roomwatch/internal/metrics"
	"github.com/saaga0h/roomwatch/internal/roomstate"
	"github.com/saaga0h/roomwatch/pkg/config"
	"github.com/saaga0h/roomwatch/pkg/health"
	"github.com/saaga0h/roomwatch/pkg/mqtt"
	"github.com/saaga0h/roomwatch/pkg/redis"
)

func main() {
	// Load configuration with hierarchy: defaults → file → env → flags
	cfg, err := config.Load("roomwatch", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting room occupancy state service",
		"service_name", cfg.ServiceName,
		"api_port", cfg.APIPort,
		"min_interval", cfg.MinInterval,
		"max_interval", cfg.MaxInterval,
		"mqtt_enabled", cfg.MQTTEnabled,
		"redis_enabled", cfg.RedisEnabled,
		"log_level", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	store := roomstate.NewStore()
	m := metrics.New(store.CountTrackedRooms)
	listeners := []roomstate.Listener{m}
	healthOpts := []health.Option{health.WithRoomCounter(store)}

	var redisClient redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(cfg, logger)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx)
		pingCancel()
		if err != nil {
			logger.Error("Redis unavailable", "error", err)
			os.Exit(1)
		}

		mirror := ingest.NewRedisMirror(redisClient, cfg.RedisStateTTL, logger)
		restored, err := mirror.Restore(ctx, store)
		if err != nil {
			logger.Warn("Failed to restore room state from Redis", "error", err)
		} else {
			logger.Info("Restored room state from Redis", "rooms", restored)
		}
		listeners = append(listeners, mirror)
		healthOpts = append(healthOpts, health.WithRedis(redisClient))
	}

	var mqttClient mqtt.Client
	if cfg.MQTTEnabled {
		mqttClient = mqtt.NewClient(cfg, logger)
		listeners = append(listeners, ingest.NewStatusPublisher(mqttClient, logger))
		healthOpts = append(healthOpts, health.WithMQTT(mqttClient))
	}

	processor := roomstate.NewProcessor(store, cfg.MinInterval, logger, roomstate.WithListener(listeners...))
	sweeper := roomstate.NewSweeper(store, cfg.MaxInterval, cfg.SweepInterval, roomstate.RealClock(), logger, listeners...)

	checker := health.NewChecker(logger, healthOpts...)
	healthServer := startHealthServer(cfg.HealthPort, checker, logger)

	var accessLog io.Writer
	if cfg.LogLevel == "debug" {
		accessLog = os.Stdout
	}
	server := api.NewServer(store, processor, checker.HandlerFunc(), m.Handler(), logger,
		api.WithMiddleware(m.Middleware),
		api.WithValidationObserver(m))
	apiServer := startAPIServer(cfg.APIPort, server.Handler(accessLog), logger)

	go sweeper.Run(ctx)

	agentErr := make(chan error, 1)
	var agent *ingest.Agent
	if mqttClient != nil {
		agent = ingest.NewAgent(mqttClient, processor, logger)
		go func() {
			if err := agent.Start(ctx); err != nil {
				agentErr <- err
			}
		}()
	}

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received (SIGTERM/SIGINT)")
	case err := <-agentErr:
		logger.Error("MQTT ingress failed", "error", err)
	}

	logger.Info("Initiating graceful shutdown")
	cancel()

	if agent != nil {
		if err := agent.Stop(); err != nil {
			logger.Error("Error stopping MQTT ingress", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", "error", err)
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down health server", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Error closing Redis connection", "error", err)
		}
	}

	logger.Info("Room occupancy state service shutdown complete", "tracked_rooms", store.CountTrackedRooms())
}

func startAPIServer(port int, handler http.Handler, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting API server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	return server
}

func startHealthServer(port int, checker *health.Checker, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HandlerFunc())
	mux.HandleFunc("/health/detailed", checker.DetailedHandlerFunc())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		logger.Info("Starting health check server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server error", "error", err)
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
