// Package main runs the background worker: recording stores to S3 and
// transcript slice recognition.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inklive/collab/config"
	"github.com/inklive/collab/internal/recordings"
	"github.com/inklive/collab/internal/transcripts"
	"github.com/inklive/collab/internal/worker"
	"github.com/inklive/collab/pkg/database"
	"github.com/inklive/collab/pkg/queue"
	"github.com/inklive/collab/pkg/redis"
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

	jobs := queue.NewQueue(rdb.Client, logger)
	recognizer := transcripts.NewHTTPRecognizer(cfg.API.SpeechEndpoint, logger)
	processor := worker.NewProcessor(
		recordings.NewRepository(pool),
		transcripts.NewRepository(pool),
		recognizer,
		s3Client,
		sp,
		jobs,
		logger,
	)

	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	logger.Info("worker started")
	processor.Run(runCtx)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
