package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vcscsvcscs/regimen/internal/adherence"
	"github.com/vcscsvcscs/regimen/internal/audit"
	"github.com/vcscsvcscs/regimen/internal/azure"
	"github.com/vcscsvcscs/regimen/internal/cache"
	"github.com/vcscsvcscs/regimen/internal/config"
	"github.com/vcscsvcscs/regimen/internal/conflict"
	"github.com/vcscsvcscs/regimen/internal/handler"
	"github.com/vcscsvcscs/regimen/internal/middleware"
	"github.com/vcscsvcscs/regimen/internal/pdf"
	"github.com/vcscsvcscs/regimen/internal/reminder"
	"github.com/vcscsvcscs/regimen/internal/repository"
	"github.com/vcscsvcscs/regimen/internal/schedule"
	"github.com/vcscsvcscs/regimen/internal/security"
	"github.com/vcscsvcscs/regimen/internal/service"
	"github.com/vcscsvcscs/regimen/pkg/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded successfully",
		zap.String("environment", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	encryptor, err := security.NewEncryptorFromBase64(cfg.Security.EncryptionKey)
	if err != nil {
		logger.Fatal("Failed to initialize notes encryption", zap.Error(err))
	}

	// Storage: PostgreSQL when configured, in-memory otherwise
	var (
		pool          *pgxpool.Pool
		schedules     service.ScheduleStore
		doseLogs      service.DoseLogStore
		storagePinger handler.Pinger
	)
	if cfg.Database.URL != "" {
		pool, err = newPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("Successfully connected to database")

		if err := repository.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}

		var cipher repository.NotesCipher
		if encryptor != nil {
			cipher = encryptor
		}
		schedules = repository.NewScheduleRepository(pool, logger)
		doseLogs = repository.NewDoseLogRepository(pool, cipher, logger)
		storagePinger = pool
	} else {
		logger.Warn("DATABASE_URL not set, schedules are kept in memory")
		schedules = repository.NewMemoryScheduleRepository()
		doseLogs = repository.NewMemoryDoseLogRepository()
	}

	// Adherence cache
	var (
		statCache   service.StatCache
		cachePinger handler.Pinger
	)
	if cfg.Redis.Addr != "" {
		redisClient := cache.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer redisClient.Close()
		adherenceCache := cache.NewAdherenceCache(redisClient, cfg.Redis.TTL, logger)
		statCache = adherenceCache
		cachePinger = adherenceCache
		logger.Info("Adherence cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	// Report archive
	var archive service.ReportArchive
	if cfg.Azure.Storage.Enabled() {
		blobClient, err := azure.NewBlobStorageClient(
			cfg.Azure.Storage.AccountName,
			cfg.Azure.Storage.AccountKey,
			cfg.Azure.Storage.ReportContainer,
			logger,
		)
		if err != nil {
			logger.Fatal("Failed to initialize report blob storage client", zap.Error(err))
		}
		archive = blobClient
	}

	// Engine
	detector := conflict.NewDetector(cfg.Engine.ConflictConfig())
	calculator := schedule.NewCalculator(cfg.Engine.MaxLookaheadDays)
	aggregator := adherence.NewAggregator(cfg.Engine.AdherenceConfig())

	// Services
	auditLogger := audit.NewLogger(pool, logger)
	scheduleService := service.NewScheduleService(schedules, detector, calculator, auditLogger, logger)
	adherenceService := service.NewAdherenceService(schedules, doseLogs, aggregator, statCache, auditLogger, logger)
	reportService := service.NewReportService(adherenceService, pdf.NewPDFGenerator(logger), archive, auditLogger, logger)

	// Reminder sweeper
	if cfg.Reminder.Spec != "" {
		sweeper := reminder.NewSweeper(scheduleService, reminder.NewLogNotifier(logger), logger)
		if err := sweeper.Start(ctx, cfg.Reminder.Spec); err != nil {
			logger.Fatal("Failed to start reminder sweeper", zap.Error(err))
		}
		defer sweeper.Stop()
	}

	// Handlers
	server := handler.NewServer(
		handler.NewHealthHandler(storagePinger, cachePinger, logger),
		handler.NewScheduleHandler(scheduleService, logger),
		handler.NewAdherenceHandler(adherenceService, logger),
		handler.NewReportHandler(reportService, logger),
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add recovery middleware (must be first)
	r.Use(middleware.RecoveryMiddleware(logger))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", middleware.UserIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Request-ID", "X-Report-ID", "X-Report-Location"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.ActorMiddleware())
	if cfg.Server.RateLimit > 0 {
		r.Use(middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, logger).Middleware())
	}
	r.Use(middleware.RequestLoggingMiddleware(logger, cfg.Server.SlowRequestThreshold))
	r.Use(middleware.ErrorLoggingMiddleware(logger))

	api.RegisterHandlers(r, server)

	// Start server with graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	if cfg.Logging.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		zapCfg.Level = level
	}
	switch cfg.Logging.Format {
	case "json":
		zapCfg.Encoding = "json"
		zapCfg.EncoderConfig = zap.NewProductionEncoderConfig()
	case "console":
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	return zapCfg.Build()
}

func newPool(ctx context.Context, db config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(db.URL)
	if err != nil {
		return nil, err
	}
	if db.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(db.MaxOpenConns)
	}
	if db.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = db.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
