// Package main runs the reconciliation worker: queued jobs from webhooks and admins, plus the scheduled batch.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-events/backend/config"
	"github.com/aura-events/backend/internal/realtime"
	"github.com/aura-events/backend/internal/reconcile"
	"github.com/aura-events/backend/internal/registrations"
	"github.com/aura-events/backend/internal/worker"
	"github.com/aura-events/backend/pkg/database"
	"github.com/aura-events/backend/pkg/queue"
	"github.com/aura-events/backend/pkg/redis"
	"github.com/aura-events/backend/pkg/storage"
	"github.com/aura-events/backend/pkg/validate"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Status changes made here reach WebSocket clients connected to any server instance.
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, nil)

	lifecycle := registrations.NewService(registrations.NewRepository(pool), hub, validate.New(), registrations.Config{
		StaleAfter:     cfg.Registration.StaleAfter,
		ProtocolPrefix: cfg.Registration.ProtocolPrefix,
	}, logger)
	matcher := reconcile.NewMatcher(reconcile.NewPgStore(pool), lifecycle, reconcile.Options{
		MatchWindow:   cfg.Reconcile.MatchWindow,
		AmountEpsilon: &cfg.Reconcile.AmountEpsilon,
	}, logger)

	jobCfg := reconcile.JobConfig{Locker: rdb.Locker(), LockTTL: cfg.Reconcile.LockTTL}
	if cfg.Reconcile.ArchiveReport && cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ReportsBucket:        cfg.AWS.ReportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled, reports will not be archived", zap.Error(err))
		} else {
			jobCfg.Archiver = s3Client
		}
	}
	batch := reconcile.NewJob(matcher, jobCfg, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewReconcileProcessor(matcher, batch, jobQueue, logger)
	scheduler := worker.NewScheduler(cfg.Reconcile.Schedule, batch, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("scheduler", zap.Error(err), zap.String("schedule", cfg.Reconcile.Schedule))
	}
	logger.Info("worker started")

	metricsSrv := &http.Server{Addr: ":" + cfg.Worker.MetricsPort, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	select {
	case <-scheduler.Stop().Done():
	case <-stopCtx.Done():
		logger.Warn("scheduled batch still running at shutdown")
	}
	_ = metricsSrv.Shutdown(stopCtx)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
