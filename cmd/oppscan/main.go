package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"oppscan/internal/api"
	"oppscan/internal/classifier"
	"oppscan/internal/config"
	"oppscan/internal/fetcher"
	"oppscan/internal/monitoring"
	"oppscan/internal/orchestrator"
	"oppscan/internal/progress"
	"oppscan/internal/ratelimit"
	"oppscan/internal/runner"
	"oppscan/internal/searchapi"
	"oppscan/internal/storage"
	"oppscan/internal/writer"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load config", zap.Error(err))
	}

	// Initialize Storage Layer
	pgStore, err := storage.NewPostgresStore(cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pgStore.Close()
	redisStore := storage.NewRedisStore(cfg.RedisAddr)

	// Monitoring and shared rate budget
	metrics := monitoring.NewMetrics()
	limiter := ratelimit.NewRedis(redisStore.Client(), logger)

	// Core pipeline
	fetch := fetcher.New(cfg, logger)
	classify := classifier.New(cfg, metrics, logger)
	write := writer.New(pgStore, logger)
	progressChannel := progress.NewChannel(pgStore, logger)

	jobRunner := runner.New(fetch, classify, write, limiter, progressChannel, redisStore,
		runner.Policy{
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RetryBackoff(),
			RateLimit:  cfg.RateLimit,
			RateWindow: cfg.RateWindow(),
			ScrapeTTL:  cfg.DeduplicationTTL(),
		}, metrics, logger)

	batches := orchestrator.New(jobRunner, progressChannel, pgStore, cfg.ScrapeWorkers, metrics, logger)
	search := searchapi.NewService(searchapi.NewClient(cfg), classify, write, pgStore, metrics, logger)

	// API Server
	server := api.NewServer(cfg, batches, search, progressChannel, limiter, pgStore, redisStore, logger)

	// Graceful Shutdown
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()

	logger.Info("server started", zap.String("port", cfg.ServerPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exiting")
}
