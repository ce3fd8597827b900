package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/payoutpipeline/payout-pipeline/internal/balancecache"
	"github.com/payoutpipeline/payout-pipeline/internal/broker"
	"github.com/payoutpipeline/payout-pipeline/internal/config"
	"github.com/payoutpipeline/payout-pipeline/internal/db"
	"github.com/payoutpipeline/payout-pipeline/internal/eventbridge"
	"github.com/payoutpipeline/payout-pipeline/internal/lock"
	"github.com/payoutpipeline/payout-pipeline/internal/logging"
	"github.com/payoutpipeline/payout-pipeline/internal/reaper"
	"github.com/payoutpipeline/payout-pipeline/internal/redisclient"
	"github.com/payoutpipeline/payout-pipeline/internal/settlement"
	"github.com/payoutpipeline/payout-pipeline/internal/store"
	"github.com/payoutpipeline/payout-pipeline/internal/ws"
)

// Grounded on Glebsky-balance-app/go-service/main.go: signal.NotifyContext
// for shutdown, one goroutine per long-running loop, defer Close on every
// external connection, and a consumer whose Start blocks the main
// goroutine until ctx is cancelled.
func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Env)

	rdb, err := redisclient.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	defer rdb.Close()

	gormDB, err := db.New(cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	publisher, err := broker.NewAMQPPublisher(cfg.RabbitMQURL, log, true)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to rabbitmq")
	}
	defer publisher.Close()

	locks := lock.New(rdb)
	cache := balancecache.New(rdb)
	txStore := store.NewPostgresTransactionStore(gormDB, log)
	userStore := store.NewPostgresUserStore(gormDB, log)
	auditStore := store.NewPostgresAuditStore(gormDB, log)

	hub := ws.NewHub(log)
	bridge := eventbridge.New(rdb, hub, log)

	worker := settlement.NewWorker(
		locks, cache, txStore, userStore, auditStore, bridge, log,
		cfg.LockTTL(), cfg.LockExtendFraction,
	)

	consumer, err := broker.NewConsumer(
		cfg.RabbitMQURL, cfg.WorkerConcurrency, cfg.MaxRetryAttempts, cfg.RetryDelay(), log, publisher, worker.Process,
	)
	if err != nil {
		log.WithError(err).Fatal("failed to start consumer")
	}
	defer consumer.Close()

	reap := reaper.New(txStore, auditStore, log, cfg.StaleProcessingAge, cfg.ReaperInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go reap.Run(ctx)

	log.WithField("concurrency", cfg.WorkerConcurrency).Info("worker consuming settlement queue")
	if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("consumer stopped unexpectedly")
	}

	log.Info("worker shutdown complete")
}
