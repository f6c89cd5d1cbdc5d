// Package main runs the voucher platform HTTP server with WebSocket and graceful shutdown.
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

	"github.com/couponhub/backend/config"
	"github.com/couponhub/backend/internal/analytics"
	"github.com/couponhub/backend/internal/attribution"
	"github.com/couponhub/backend/internal/auth"
	"github.com/couponhub/backend/internal/claims"
	"github.com/couponhub/backend/internal/device"
	"github.com/couponhub/backend/internal/events"
	"github.com/couponhub/backend/internal/middleware"
	"github.com/couponhub/backend/internal/models"
	"github.com/couponhub/backend/internal/notifications"
	"github.com/couponhub/backend/internal/qrimage"
	"github.com/couponhub/backend/internal/qrtoken"
	"github.com/couponhub/backend/internal/realtime"
	"github.com/couponhub/backend/internal/redemption"
	"github.com/couponhub/backend/internal/tracing"
	"github.com/couponhub/backend/internal/vouchers"
	"github.com/couponhub/backend/pkg/database"
	"github.com/couponhub/backend/pkg/queue"
	"github.com/couponhub/backend/pkg/redis"
	"github.com/couponhub/backend/pkg/response"
	"github.com/couponhub/backend/pkg/storage"
)

const (
	qrImageSize      = 512
	contextTokenTTL  = 24 * time.Hour
	referralCacheTTL = 10 * time.Minute
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	response.Debug = cfg.App.Debug

	shutdownTracing, err := tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint, logger)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: time.Hour,
	}, logger)
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

	var assets vouchers.AssetStore
	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			AssetsBucket:         cfg.AWS.AssetsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			assets = s3Client
		}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if brokers := cfg.Kafka.BrokerList(); len(brokers) > 0 {
		kp, err := events.NewKafkaPublisher(brokers, cfg.Kafka.TopicPrefix, logger)
		if err != nil {
			logger.Fatal("kafka", zap.Error(err))
		}
		publisher = kp
	}
	defer publisher.Close()

	var signerOpts []qrtoken.Option
	if cfg.QR.LegacyDigest {
		signerOpts = append(signerOpts, qrtoken.WithLegacyDigest())
	}
	signer, err := qrtoken.NewSigner(cfg.QR.Secret, signerOpts...)
	if err != nil {
		logger.Fatal("qr signer", zap.Error(err))
	}
	refs, err := redemption.NewSnowflakeReferences(cfg.App.NodeID)
	if err != nil {
		logger.Fatal("reference generator", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	dispatcher := notifications.NewDispatcher(jobQueue, publisher, hub, logger)
	rollup := analytics.NewRollup(pool)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Vouchers
	voucherRepo := vouchers.NewRepository(pool)
	voucherSvc := vouchers.NewService(voucherRepo, qrimage.NewPNGEncoder(qrImageSize), assets, logger)
	voucherHandler := vouchers.NewHandler(voucherSvc)

	// Claims
	claimRepo := claims.NewRepository(pool)
	claimSvc := claims.NewService(claimRepo, voucherRepo, signer, rollup, dispatcher, logger)
	claimHandler := claims.NewHandler(claimSvc)

	// Attribution
	tracker := attribution.NewTracker(
		attribution.NewRepository(pool),
		attribution.NewContextTokens(cfg.Attribution.Secret, contextTokenTTL),
		attribution.Deps{
			Cache:     attribution.NewRedisCodeCache(rdb, referralCacheTTL),
			Vouchers:  voucherRepo,
			Claimer:   claimSvc,
			Devices:   device.NewResolver(device.HeaderGeo{}),
			Rollup:    rollup,
			Publisher: publisher,
		},
		logger,
	)
	attributionHandler := attribution.NewHandler(tracker, cfg.App.PublicURL)

	// Redemption
	coordinator := redemption.NewCoordinator(redemption.NewPgStore(pool), refs, signer, dispatcher, logger)
	redemptionHandler := redemption.NewHandler(coordinator, redemption.NewTransactionRepository(pool))

	analyticsHandler := analytics.NewHandler(analytics.NewRepository(pool), jobQueue, logger)
	notificationHandler := notifications.NewHandler(notifications.NewRepository(pool), jobQueue, logger)

	wsValidate := func(token string) (realtime.Identity, error) {
		tc, err := jwtService.Validate(token)
		if err != nil {
			return realtime.Identity{}, err
		}
		id := realtime.Identity{UserID: tc.UserID}
		if tc.BusinessID != nil {
			id.BusinessID = *tc.BusinessID
		}
		return id, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public: voucher landing page, claims and referral links
	limiter := middleware.NewIPRateLimiter(cfg.Rate.PerSecond, cfg.Rate.Burst)
	public := router.Group("")
	public.Use(middleware.RateLimit(limiter))
	{
		public.GET("/public/vouchers/:code", voucherHandler.PublicGet)
		public.POST("/public/vouchers/:code/claim", claimHandler.PublicClaim)
		public.GET("/attribution/click/:code", attributionHandler.Click)
		public.POST("/attribution/click/:code", attributionHandler.Click)
		public.POST("/attribution/submit", attributionHandler.Submit)
	}

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/users", middleware.RequireRole(string(models.RoleAdmin)), authHandler.List)

		biz := api.Group("")
		biz.Use(middleware.RequireBusiness())

		biz.POST("/vouchers", voucherHandler.Create)
		biz.GET("/vouchers", voucherHandler.List)
		biz.GET("/vouchers/:id", voucherHandler.Get)
		biz.PATCH("/vouchers/:id/toggle", voucherHandler.Toggle)

		biz.GET("/claims", claimHandler.List)
		biz.GET("/claims/:id", claimHandler.Get)

		biz.POST("/campaigns", attributionHandler.CreateCampaign)
		biz.GET("/campaigns", attributionHandler.ListCampaigns)
		biz.GET("/campaigns/:id", attributionHandler.GetCampaign)

		biz.POST("/redemption/scan", redemptionHandler.Scan)
		biz.POST("/redemption/redeem", redemptionHandler.Redeem)
		biz.GET("/transactions", redemptionHandler.Transactions)

		biz.GET("/analytics/summary", analyticsHandler.Summary)
		biz.POST("/analytics/recompute", analyticsHandler.Recompute)

		biz.GET("/notifications", notificationHandler.List)
		biz.POST("/notifications/:id/resend", notificationHandler.Resend)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, wsValidate))

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
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
