// Package main runs the collaboration backend: REST API, websocket relay,
// and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inklive/collab/config"
	"github.com/inklive/collab/internal/auth"
	"github.com/inklive/collab/internal/middleware"
	"github.com/inklive/collab/internal/recordings"
	"github.com/inklive/collab/internal/relay"
	"github.com/inklive/collab/internal/sessions"
	"github.com/inklive/collab/internal/transcripts"
	"github.com/inklive/collab/pkg/database"
	"github.com/inklive/collab/pkg/queue"
	"github.com/inklive/collab/pkg/redis"
	"github.com/inklive/collab/pkg/response"
	"github.com/inklive/collab/pkg/spool"
	"github.com/inklive/collab/pkg/storage"
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

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		RecordingsBucket:     cfg.AWS.RecordingsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	sp, err := spool.New(cfg.API.SpoolDir)
	if err != nil {
		logger.Fatal("spool", zap.Error(err))
	}

	tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobs := queue.NewQueue(rdb.Client, logger)

	// Relay
	pubsub := relay.NewRedisPubSub(rdb.Client, logger)
	hub := relay.NewHub(logger, pubsub, pubsub, time.Duration(cfg.Relay.HeartbeatTimeoutSec)*time.Second)
	hub.Run()
	defer hub.Stop()

	// Sessions
	sessionRepo := sessions.NewRepository(pool)
	sessionHandler := sessions.NewHandler(sessionRepo, tokens, cfg.API.PublicBaseURL, logger)
	hub.OnFirstJoin = func(sessionID uuid.UUID) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sessionRepo.MarkLive(ctx, sessionID); err != nil {
				logger.Warn("mark session live failed", zap.String("session_id", sessionID.String()), zap.Error(err))
			}
		}()
	}

	// Recordings
	recordingRepo := recordings.NewRepository(pool)
	assembler := recordings.NewAssembler(30*time.Minute, logger)
	recordingHandler := recordings.NewHandler(recordingRepo, assembler, sp, jobs, s3Client, logger)

	// Transcripts
	transcriptRepo := transcripts.NewRepository(pool)
	transcriptHandler := transcripts.NewHandler(transcriptRepo, sp, jobs, logger)

	validate := relay.TokenValidator(func(token string) (string, uuid.UUID, error) {
		claims, err := tokens.Validate(token)
		if err != nil {
			return "", uuid.Nil, err
		}
		return claims.ParticipantID, claims.SessionID, nil
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		dlq, err := jobs.DLQLen(c.Request.Context())
		if err != nil {
			response.OK(c, gin.H{"status": "degraded"})
			return
		}
		response.OK(c, gin.H{"status": "ok", "dlq_depth": dlq})
	})

	// Session lifecycle
	router.POST("/sessions", sessionHandler.Create)
	router.GET("/sessions/:id", sessionHandler.GetByID)
	router.POST("/complete-session", middleware.JoinToken(tokens), sessionHandler.Complete)

	// Recording ingest (join token required)
	uploads := router.Group("", middleware.JoinToken(tokens), middleware.SessionScope())
	{
		uploads.POST("/recordings/:id", recordingHandler.Upload)
		uploads.POST("/recordings/:id/chunk", recordingHandler.Chunk)
		uploads.POST("/recordings/:id/finalize", recordingHandler.Finalize)
		uploads.GET("/recordings/:id", recordingHandler.ListBySession)
		uploads.GET("/recording-url/:rid", recordingHandler.PlayURL)
		uploads.POST("/update-transcript/:id", transcriptHandler.Update)
		uploads.GET("/transcripts/:id", transcriptHandler.Get)
	}

	// Channel upgrade (token in query)
	router.GET("/ws", relay.ServeWs(hub, logger, validate))

	// Abandoned chunked uploads
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				assembler.Sweep()
			}
		}
	}()

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

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
