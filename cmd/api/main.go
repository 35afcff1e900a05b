package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dcastellanos/ordergate-backend/api/controllers"
	"github.com/dcastellanos/ordergate-backend/api/routes"
	"github.com/dcastellanos/ordergate-backend/internal/conflict"
	"github.com/dcastellanos/ordergate-backend/internal/deadletter"
	"github.com/dcastellanos/ordergate-backend/internal/ingestion"
	"github.com/dcastellanos/ordergate-backend/internal/ledger"
	"github.com/dcastellanos/ordergate-backend/internal/orders"
	"github.com/dcastellanos/ordergate-backend/pkg/config"
	"github.com/dcastellanos/ordergate-backend/pkg/db"
	"github.com/dcastellanos/ordergate-backend/pkg/lock"
	"github.com/dcastellanos/ordergate-backend/pkg/logger"
	"github.com/dcastellanos/ordergate-backend/pkg/metrics"
	"github.com/dcastellanos/ordergate-backend/pkg/migrate"
	"github.com/dcastellanos/ordergate-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	ingestMetrics := metrics.NewIngestMetrics(registry)

	ordersRepo := orders.NewRepository(dbClient.DB())
	ordersSvc, err := orders.NewService(ordersRepo, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	resolver, err := conflict.NewResolver(ordersRepo, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create conflict resolver", err)
		os.Exit(1)
	}

	locks, err := lock.NewManager(redisClient, cfg.Ingest.LockTTL, cfg.Ingest.ConsumerName)
	if err != nil {
		logg.Error(context.Background(), "failed to create lock manager", err)
		os.Exit(1)
	}

	marks, err := ledger.NewMarks(redisClient, cfg.Ingest.LedgerTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency marks", err)
		os.Exit(1)
	}

	// Replays run through the same pipeline the ingest worker uses.
	pipeline, err := ingestion.NewPipeline(ledgerSvc, locks, ordersRepo, resolver, dbClient, logg, ingestMetrics, marks)
	if err != nil {
		logg.Error(context.Background(), "failed to create ingestion pipeline", err)
		os.Exit(1)
	}

	deadLetterSvc, err := deadletter.NewService(deadletter.NewRepository(dbClient.DB()), ledgerSvc, pipeline, logg, ingestMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create dead letter service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:      cfg,
			Logger:      logg,
			Orders:      ordersSvc,
			DeadLetters: deadLetterSvc,
			Readiness: map[string]controllers.Pinger{
				"database": dbClient,
				"redis":    redisClient,
			},
			Metrics: registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
