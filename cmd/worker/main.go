// Package main runs the background job worker (notification delivery, analytics recompute, claim expiry).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/couponhub/backend/config"
	"github.com/couponhub/backend/internal/analytics"
	"github.com/couponhub/backend/internal/claims"
	"github.com/couponhub/backend/internal/notifications"
	"github.com/couponhub/backend/internal/vouchers"
	"github.com/couponhub/backend/internal/worker"
	"github.com/couponhub/backend/pkg/database"
	"github.com/couponhub/backend/pkg/queue"
	"github.com/couponhub/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	claimRepo := claims.NewRepository(pool)
	claimSvc := claims.NewService(claimRepo, vouchers.NewRepository(pool), nil, nil, nil, logger)

	runner := worker.NewRunner(jobQueue, logger)
	runner.Handle(queue.JobTypeNotification, notifications.NewProcessor(
		notifications.NewRepository(pool),
		claimRepo,
		notifications.NewLogSender(logger),
		logger,
	))
	runner.Handle(queue.JobTypeAnalyticsRecompute, analytics.NewProcessor(analytics.NewRepository(pool), logger))

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runner.Run(workerCtx)
	// Overdue claims are also expired lazily on read; the sweep only keeps listings current.
	go worker.RunExpirySweep(workerCtx, claimSvc, cfg.Worker.ExpirySweepInterval, logger)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
