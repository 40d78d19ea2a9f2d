package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/runhub/internal/config"
	"example.com/runhub/internal/consumer"
	"example.com/runhub/internal/logging"
	httptransport "example.com/runhub/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfg.PostgresURL == "" {
		logging.Fatal().Msg("consumer requires POSTGRES_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("connect to postgres")
	}
	defer pool.Close()

	handler := consumer.NewEventLogHandler(pool)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httptransport.Serve(ctx, "consumer-metrics", httptransport.NewMetricsServer(cfg.MetricsAddress), 10*time.Second); err != nil {
			logging.Error().Err(err).Msg("metrics server error")
		}
	}()

	for _, topic := range cfg.ConsumerTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})
		logger := logging.With("consumer").With().Str("topic", topic).Logger()
		proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(logger))

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close()

			logger.Info().Str("group", cfg.ConsumerGroupID).Msg("consumer started")
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("consumer stopped with error")
			}
		}()
	}

	<-ctx.Done()
	logging.Info().Msg("consumer shutdown requested")
	wg.Wait()
}
