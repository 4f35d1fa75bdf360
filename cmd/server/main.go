// Package main runs the event registration HTTP server with WebSocket status streams and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-events/backend/config"
	"github.com/aura-events/backend/internal/auth"
	"github.com/aura-events/backend/internal/checkout"
	"github.com/aura-events/backend/internal/coupons"
	"github.com/aura-events/backend/internal/gateways"
	"github.com/aura-events/backend/internal/middleware"
	"github.com/aura-events/backend/internal/payments"
	"github.com/aura-events/backend/internal/realtime"
	"github.com/aura-events/backend/internal/reconcile"
	"github.com/aura-events/backend/internal/registrations"
	"github.com/aura-events/backend/pkg/database"
	"github.com/aura-events/backend/pkg/queue"
	"github.com/aura-events/backend/pkg/redis"
	"github.com/aura-events/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client := newReportStore(ctx, cfg, logger)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	validator := validate.New()
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Registration lifecycle
	registrationRepo := registrations.NewRepository(pool)
	lifecycle := registrations.NewService(registrationRepo, hub, validator, registrations.Config{
		StaleAfter:     cfg.Registration.StaleAfter,
		ProtocolPrefix: cfg.Registration.ProtocolPrefix,
	}, logger)
	registrationHandler := registrations.NewHandler(lifecycle)

	// Coupons
	couponService := coupons.NewService(coupons.NewRepository(pool), validator)
	couponHandler := coupons.NewHandler(couponService, lifecycle)

	// Gateways
	gatewayRegistry := gateways.NewRegistry(gateways.NewRepository(pool), validator, logger)
	gatewayHandler := gateways.NewHandler(gatewayRegistry)

	// Checkout
	checkoutHandler := checkout.NewHandler(lifecycle, gatewayRegistry, validator, logger)

	// Payments intake
	paymentHandler := payments.NewHandler(payments.NewRepository(pool), jobQueue, validator, cfg.Webhook.Secret, logger)

	// Reconciliation
	matcher := reconcile.NewMatcher(reconcile.NewPgStore(pool), lifecycle, reconcile.Options{
		MatchWindow:   cfg.Reconcile.MatchWindow,
		AmountEpsilon: &cfg.Reconcile.AmountEpsilon,
	}, logger)
	jobCfg := reconcile.JobConfig{Locker: rdb.Locker(), LockTTL: cfg.Reconcile.LockTTL}
	var presigner reconcile.Presigner
	if s3Client != nil {
		jobCfg.Archiver = s3Client
		presigner = s3Client
	}
	reconcileHandler := reconcile.NewHandler(matcher, reconcile.NewJob(matcher, jobCfg, logger), jobQueue, presigner, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins, payments.HeaderWebhookSecret))
	router.Use(middleware.Logger(logger))

	// Health and metrics
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public gateway selection (no credentials in the response)
	router.GET("/gateways/select", gatewayHandler.Select)

	// Payment provider webhooks (shared secret header, no JWT)
	router.POST("/webhooks/payments/:provider", paymentHandler.Webhook)

	// Registration status stream (token in query; no Authorization header required)
	router.GET("/ws/registrations/:id", realtime.ServeWs(hub, jwtService, lifecycle, logger))

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/checkout", checkoutHandler.Checkout)

		api.GET("/events/:id/tiers", registrationHandler.ListTiers)
		api.POST("/events/:id/coupons/price", couponHandler.Price)

		api.POST("/registrations", registrationHandler.Create)
		api.GET("/registrations/:id", registrationHandler.Get)
		api.POST("/registrations/:id/coupon", registrationHandler.ApplyCoupon)
		api.POST("/registrations/:id/cancel", registrationHandler.Cancel)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	{
		admin.POST("/events/:id/tiers", registrationHandler.CreateTier)
		admin.POST("/events/:id/coupons", couponHandler.Create)
		admin.GET("/events/:id/coupons", couponHandler.List)

		admin.POST("/registrations/:id/confirm", registrationHandler.Confirm)
		admin.POST("/registrations/:id/reject", registrationHandler.Reject)

		admin.POST("/gateways", gatewayHandler.Create)
		admin.GET("/gateways", gatewayHandler.List)
		admin.PATCH("/gateways/:id/active", gatewayHandler.SetActive)

		admin.GET("/transactions/unlinked", paymentHandler.ListUnlinked)
		admin.POST("/reconcile", reconcileHandler.RunAll)
		admin.POST("/reconcile/transactions/:id", reconcileHandler.RunOne)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newReportStore returns the S3 report archive, or nil when archiving is off or AWS is not configured.
func newReportStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) *storage.S3 {
	if !cfg.Reconcile.ArchiveReport || cfg.AWS.Region == "" {
		return nil
	}
	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ReportsBucket:        cfg.AWS.ReportsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Warn("s3 disabled", zap.Error(err))
		return nil
	}
	return s3Client
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
