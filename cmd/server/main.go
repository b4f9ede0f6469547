// Package main runs the playback engine HTTP server with WebSocket control and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kalplaoffice/kalpla-platform-sub004/config"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/analytics"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/auth"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/credentials"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/lessons"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/middleware"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/playback"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/progress"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/sessionlog"
	"github.com/Kalplaoffice/kalpla-platform-sub004/pkg/database"
	"github.com/Kalplaoffice/kalpla-platform-sub004/pkg/queue"
	"github.com/Kalplaoffice/kalpla-platform-sub004/pkg/redis"
	"github.com/Kalplaoffice/kalpla-platform-sub004/pkg/response"
	"github.com/Kalplaoffice/kalpla-platform-sub004/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Cfg := storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ContentBucket:        cfg.AWS.ContentBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}
	s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret)

	lessonRepo := lessons.NewRepository(pool)
	lessonHandler := lessons.NewHandler(lessonRepo)

	progressRepo := progress.NewRepository(pool)
	progressHandler := progress.NewHandler(progressRepo)

	sessionLogRepo := sessionlog.NewRepository(pool)
	eventRepo := analytics.NewRepository(pool)
	analyticsHandler := analytics.NewHandler(eventRepo, progressRepo, sessionLogRepo, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	issuer := credentials.NewS3Issuer(s3Client, cfg.Playback.CredentialTimeout, logger)

	manager := playback.NewManager(issuer, progressRepo, sessionLogRepo, analytics.NewQueueSink(jobQueue), playback.ManagerConfig{
		Refresher: credentials.RefresherConfig{
			Interval:     cfg.Playback.RefreshInterval,
			Margin:       cfg.Playback.RefreshMargin,
			FetchTimeout: cfg.Playback.CredentialTimeout,
		},
		Tracker: progress.TrackerConfig{
			Interval:          cfg.Playback.ProgressInterval,
			CompletionPercent: cfg.Playback.CompletionPercent,
		},
		Pipeline: analytics.PipelineConfig{
			FlushInterval: cfg.Analytics.FlushInterval,
			FlushSize:     cfg.Analytics.FlushSize,
			BufferCap:     cfg.Analytics.BufferCap,
			CloseTimeout:  cfg.Analytics.CloseTimeout,
		},
		GuestMaxQuality: cfg.Playback.GuestMaxQuality,
	}, logger)
	playbackHandler := playback.NewHandler(manager, lessonRepo, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "active_sessions": manager.ActiveCount()})
	})

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/lessons/:id", lessonHandler.GetByID)
		api.GET("/courses/:id/lessons", lessonHandler.ListByCourse)

		api.POST("/lessons/:id/playback", playbackHandler.Start)
		api.GET("/playback/:id", playbackHandler.Snapshot)
		api.POST("/playback/:id/intent", playbackHandler.Intent)
		api.DELETE("/playback/:id", playbackHandler.Close)

		api.GET("/lessons/:id/progress", progressHandler.GetMine)
		api.GET("/lessons/:id/analytics", middleware.RequireRole(auth.RoleAdmin, auth.RoleMentor), analyticsHandler.LessonSummary)
		api.GET("/playback/:id/events", middleware.RequireRole(auth.RoleAdmin, auth.RoleMentor), analyticsHandler.SessionEvents)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws/playback", playback.ServeWs(manager, jwtService, logger))

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
	manager.CloseAll(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
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
