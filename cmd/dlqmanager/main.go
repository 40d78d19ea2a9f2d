package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/runhub/internal/config"
	"example.com/runhub/internal/logging"
	"example.com/runhub/internal/outbox"
	httptransport "example.com/runhub/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfg.PostgresURL == "" {
		logging.Fatal().Msg("dlq manager requires POSTGRES_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("connect to postgres")
	}
	defer pool.Close()

	manager := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay)

	metricsDone := make(chan struct{})
	go func() {
		defer close(metricsDone)
		if err := httptransport.Serve(ctx, "dlq-metrics", httptransport.NewMetricsServer(cfg.MetricsAddress), 10*time.Second); err != nil {
			logging.Error().Err(err).Msg("metrics server error")
		}
	}()

	logger := logging.With("dlq-manager")
	logger.Info().
		Dur("interval", cfg.DLQPollInterval).
		Int("max_retries", cfg.DLQMaxRetries).
		Msg("dlq manager started")

	ticker := time.NewTicker(cfg.DLQPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("dlq manager received shutdown signal")
			<-metricsDone
			return
		case <-ticker.C:
			processed, err := manager.RunOnce(ctx, cfg.DLQBatchSize)
			if err != nil {
				logger.Error().Err(err).Msg("dlq pass failed")
			} else if processed > 0 {
				logger.Info().Int("processed", processed).Msg("dlq pass finished")
			}
		}
	}
}
