package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/payoutpipeline/payout-pipeline/internal/authn"
	"github.com/payoutpipeline/payout-pipeline/internal/balancecache"
	"github.com/payoutpipeline/payout-pipeline/internal/broker"
	"github.com/payoutpipeline/payout-pipeline/internal/config"
	"github.com/payoutpipeline/payout-pipeline/internal/db"
	"github.com/payoutpipeline/payout-pipeline/internal/eventbridge"
	"github.com/payoutpipeline/payout-pipeline/internal/gateway"
	"github.com/payoutpipeline/payout-pipeline/internal/lock"
	"github.com/payoutpipeline/payout-pipeline/internal/logging"
	"github.com/payoutpipeline/payout-pipeline/internal/ratelimit"
	"github.com/payoutpipeline/payout-pipeline/internal/redisclient"
	"github.com/payoutpipeline/payout-pipeline/internal/store"
	"github.com/payoutpipeline/payout-pipeline/internal/ws"
)

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

	svc := gateway.NewService(
		locks, cache, txStore, userStore, auditStore, publisher, bridge, log,
		cfg.LockTTL(), cfg.LockRetryDelay(), cfg.LockRetryCount,
		cfg.MinPayoutAmountCents, cfg.MaxPayoutAmountCents,
	)
	verifier := authn.NewVerifier(cfg.JWTSecret)
	handler := gateway.NewHandler(svc, txStore, userStore, cache, verifier, cfg.JWTTokenTTL)

	globalLimiter := ratelimit.New(rdb, "rl")
	userLimiter := ratelimit.New(rdb, "rl:user")

	router := gateway.NewRouter(cfg, handler, hub, verifier, globalLimiter, userLimiter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("event bridge subscriber stopped unexpectedly")
		}
	}()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.WithField("port", cfg.Port).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("gateway server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("gateway shutdown did not complete cleanly")
	}

	log.Info("gateway shutdown complete")
}
