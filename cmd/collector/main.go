// Command collector fetches hourly forecasts for every configured location
// and appends them to the CSV store. With COLLECT_INTERVAL unset it performs
// one run and exits; otherwise it runs on that interval and serves health,
// status, and metrics endpoints until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/forecast-collector/internal/adapter/csvstore"
	httpadapter "github.com/couchcryptid/forecast-collector/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/forecast-collector/internal/adapter/kafka"
	"github.com/couchcryptid/forecast-collector/internal/adapter/locations"
	"github.com/couchcryptid/forecast-collector/internal/adapter/openmeteo"
	"github.com/couchcryptid/forecast-collector/internal/config"
	"github.com/couchcryptid/forecast-collector/internal/cron"
	"github.com/couchcryptid/forecast-collector/internal/domain"
	"github.com/couchcryptid/forecast-collector/internal/observability"
	"github.com/couchcryptid/forecast-collector/internal/pipeline"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	policy := domain.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}
	if err := policy.Validate(); err != nil {
		logger.Error("invalid retry policy", "error", err)
		os.Exit(1)
	}
	if !policy.Bounded() {
		logger.Warn("retries are unbounded; a permanently failing location stalls the run")
	}

	client := openmeteo.NewClient(openmeteo.Options{
		BaseURL:                 cfg.BaseURL,
		Variables:               cfg.Variables,
		ForecastDays:            cfg.ForecastDays,
		Timeout:                 cfg.RequestTimeout,
		Policy:                  policy,
		BreakerFailureThreshold: cfg.BreakerFailureThreshold,
		BreakerOpenTimeout:      cfg.BreakerOpenTimeout,
	}, logger, metrics)

	source := locations.NewFile(cfg.LocationsFile, logger)
	scheduler := pipeline.NewRequestScheduler(client, cfg.RequestDelay, nil, logger, metrics)
	store := csvstore.New(cfg.StorePath, csvstore.Mode(cfg.StoreMode), logger, metrics)

	// Optional Kafka sink (enabled via KAFKA_BROKERS).
	var (
		publisher pipeline.BatchPublisher
		writer    *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled() {
		writer = kafkaadapter.NewWriter(cfg, logger, metrics)
		publisher = writer
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	collector := pipeline.New(source, scheduler, store, publisher, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	var code int
	if cfg.Scheduled() {
		if err := serve(ctx, cfg, collector, logger); err != nil {
			logger.Error("scheduled mode failed", "error", err)
			code = 1
		}
	} else {
		code = runOnce(ctx, collector, logger)
	}
	stop()

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	os.Exit(code)
}

// runOnce performs a single collection run and maps its result to an exit
// code. An empty result is not a failure.
func runOnce(ctx context.Context, c *pipeline.Collector, logger *slog.Logger) int {
	_, err := c.Run(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrEmptyResult):
		logger.Info("nothing to store", "reason", err)
		return 0
	default:
		return 1
	}
}

// serve runs the collector on its interval alongside the ops HTTP server
// until ctx is cancelled. It returns an error if the scheduler cannot start.
func serve(ctx context.Context, cfg *config.Config, c *pipeline.Collector, logger *slog.Logger) error {
	srv := httpadapter.NewServer(cfg.HTTPAddr, c, c, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runner := cron.NewRunner(cfg.CollectInterval, func(ctx context.Context) error {
		_, err := c.Run(ctx)
		return err
	}, logger)
	if err := runner.Start(ctx); err != nil {
		shutdownServer(srv, cfg.ShutdownTimeout, logger)
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	runner.Stop()
	shutdownServer(srv, cfg.ShutdownTimeout, logger)

	logger.Info("shutdown complete")
	return nil
}

func shutdownServer(srv *httpadapter.Server, timeout time.Duration, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}
