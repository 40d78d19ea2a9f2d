package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/runhub/internal/activitysync"
	"example.com/runhub/internal/api"
	"example.com/runhub/internal/auth"
	"example.com/runhub/internal/badges"
	"example.com/runhub/internal/config"
	"example.com/runhub/internal/domain"
	"example.com/runhub/internal/logging"
	"example.com/runhub/internal/outbox"
	"example.com/runhub/internal/persistence/memory"
	persistence "example.com/runhub/internal/persistence/postgres"
	"example.com/runhub/internal/ratelimit"
	"example.com/runhub/internal/strava"
	httptransport "example.com/runhub/internal/transport/http"
)

const shutdownGrace = 15 * time.Second

// store is satisfied by both the Postgres repository and the in-memory store.
type store interface {
	activitysync.Store
	domain.AthleteRepository
	domain.ActivityRepository
	badges.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo store
	var dispatcher *outbox.Dispatcher
	if cfg.PostgresURL == "" {
		logging.Warn().Msg("POSTGRES_URL empty, using in-memory store; data and events are not persisted")
		repo = memory.NewStore()
	} else {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logging.Fatal().Err(err).Msg("connect to postgres")
		}
		defer pool.Close()
		repo = persistence.NewRepository(pool)

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	}

	upstream := &http.Client{Timeout: cfg.Strava.Timeout}
	oauth := strava.NewOAuth(strava.OAuthConfig{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		RedirectURL:  cfg.Strava.RedirectURI,
		HTTPClient:   upstream,
	})
	client := strava.NewClient(strava.ClientConfig{
		BaseURL:           cfg.Strava.BaseURL,
		Timeout:           cfg.Strava.Timeout,
		RequestsPerSecond: cfg.Strava.RequestsPerSecond,
		HTTPClient:        upstream,
	})

	evaluator := badges.NewEvaluator(repo)
	importer := activitysync.NewImporter(repo, client, evaluator)
	reconciler := activitysync.NewReconciler(repo, client, importer, evaluator)
	syncService := activitysync.NewService(repo, oauth, importer, reconciler)

	authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, TTL: cfg.JWTTTL}
	handler := api.NewHandler(
		domain.NewService(repo, repo),
		syncService,
		oauth,
		evaluator,
		ratelimit.NewKeyedLimiter(cfg.Refresh.Limit, cfg.Refresh.Window),
		api.Config{Auth: authCfg, FrontendURL: cfg.FrontendURL},
	)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins:    []string{cfg.FrontendURL},
		Auth:              auth.NewMiddleware(authCfg, nil),
		RequestsPerMinute: cfg.HTTPRateLimit,
		Extra:             map[string]http.Handler{"/metrics": promhttp.Handler()},
	})

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), router)

	if err := httptransport.Serve(ctx, "runhub-api", server, shutdownGrace); err != nil {
		logging.Error().Err(err).Msg("api server stopped")
	}

	stop()
	if dispatcher != nil {
		dispatcher.Wait()
	}
	logging.Info().Msg("runhub api stopped")
}
