package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"payment-service/config"
	"payment-service/internal/handler"
	"payment-service/internal/locker"
	"payment-service/internal/orchestrator"
	"payment-service/internal/poller"
	"payment-service/internal/provider"
	"payment-service/internal/provider/mtn"
	"payment-service/internal/provider/telco"
	"payment-service/internal/repository"
	"payment-service/internal/router"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.Database.URL())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	if err := repository.Migrate(ctx, db); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	store := repository.NewPostgresStore(db)

	var locks locker.SessionLocker
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping failed", zap.Error(err))
		}
		locks = locker.NewRedisLocker(redisClient, "payments:reconcile")
	} else {
		logger.Warn("redis disabled, using in-process session lock")
		locks = locker.NewLocalLocker()
	}

	gatewayCfg := telco.Config{
		BaseURL: cfg.TelcoGateway.BaseURL,
		APIKey:  cfg.TelcoGateway.APIKey,
	}
	providers := provider.NewRegistry(
		mtn.New(mtn.Config{
			Environment:     cfg.MTN.Environment,
			BaseURL:         cfg.MTN.BaseURL,
			SubscriptionKey: cfg.MTN.SubscriptionKey,
			APIUser:         cfg.MTN.APIUser,
			APIKey:          cfg.MTN.APIKey,
			CallbackHost:    cfg.MTN.CallbackHost,
		}),
		telco.NewVodafone(gatewayCfg),
		telco.NewAirtel(gatewayCfg),
		telco.NewTelecel(gatewayCfg),
	)

	orch := orchestrator.New(store, providers, orchestrator.Config{
		MaxInitiateAttempts: cfg.Orchestrator.MaxInitiateAttempts,
		MaxVerifyAttempts:   cfg.Orchestrator.MaxVerifyAttempts,
		BackoffBase:         cfg.Orchestrator.BackoffBase,
		BackoffCap:          cfg.Orchestrator.BackoffCap,
		InitiateTimeout:     cfg.Orchestrator.InitiateTimeout,
		StatusTimeout:       cfg.Orchestrator.StatusTimeout,
		PendingExpiry:       cfg.Orchestrator.PendingExpiry,
	}, logger)

	// Re-drive sessions left mid-flight by a previous run before accepting
	// new traffic.
	if err := orch.Recover(ctx); err != nil {
		logger.Error("startup recovery incomplete", zap.Error(err))
	}

	p := poller.New(store, orch, locks, poller.Config{
		Interval: cfg.Poller.Interval,
		Grace:    cfg.Poller.Grace,
		LockTTL:  cfg.Poller.LockTTL,
	}, logger)
	go p.Run(ctx)

	paymentHandler := handler.NewPaymentHandler(orch, logger)
	r := router.SetupRoutes(paymentHandler, cfg.Auth.JWTSecret, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("payment service starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down payment service")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("payment service stopped")
}
