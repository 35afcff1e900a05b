package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

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
	"github.com/dcastellanos/ordergate-backend/pkg/pubsub"
	"github.com/dcastellanos/ordergate-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "ingest-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "ingest-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	err = migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer redisClient.Close()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer pubsubClient.Close()

	registry := prometheus.NewRegistry()
	ingestMetrics := metrics.NewIngestMetrics(registry)

	ordersRepo := orders.NewRepository(dbClient.DB())

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	requireResource(ctx, logg, "ledger service", err)

	resolver, err := conflict.NewResolver(ordersRepo, dbClient)
	requireResource(ctx, logg, "conflict resolver", err)

	locks, err := lock.NewManager(redisClient, cfg.Ingest.LockTTL, cfg.Ingest.ConsumerName)
	requireResource(ctx, logg, "lock manager", err)

	marks, err := ledger.NewMarks(redisClient, cfg.Ingest.LedgerTTL)
	requireResource(ctx, logg, "idempotency marks", err)

	pipeline, err := ingestion.NewPipeline(ledgerSvc, locks, ordersRepo, resolver, dbClient, logg, ingestMetrics, marks)
	requireResource(ctx, logg, "ingestion pipeline", err)

	sink, err := deadletter.NewService(deadletter.NewRepository(dbClient.DB()), ledgerSvc, pipeline, logg, ingestMetrics)
	requireResource(ctx, logg, "dead letter sink", err)

	consumer, err := ingestion.NewConsumer(
		pubsubClient.IngestSubscription(),
		pipeline,
		sink,
		cfg.Ingest.MaxAttempts,
		logg,
	)
	requireResource(ctx, logg, "ingest consumer", err)

	drain, err := deadletter.NewConsumer(pubsubClient.DeadLetterSubscription(), sink, logg)
	requireResource(ctx, logg, "dead letter drain", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":          cfg.App.Env,
		"subscription": cfg.PubSub.IngestSubscription,
		"max_attempts": cfg.Ingest.MaxAttempts,
	})
	logg.Info(runCtx, "ingest worker ready")

	errCh := make(chan error, 2)
	go func() {
		errCh <- consumer.Run(runCtx)
	}()
	go func() {
		errCh <- drain.Run(runCtx)
	}()

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "ingest worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
