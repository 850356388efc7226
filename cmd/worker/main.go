package main

import (
	"fmt"
	"log"
	"log/slog"

	"github.com/hibiken/asynq"

	"studyhub/internal/config"
	"studyhub/internal/logging"
	"studyhub/internal/metrics"
	"studyhub/internal/storage"
	"studyhub/internal/tasks"
	"studyhub/internal/worker"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.InitLogger(cfg.API.LogLevel)

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      workerLogger{logger},
	})

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeBlobCleanup, worker.NewCleanupTaskHandler(storageClient, logger))

	logger.Info("worker service started",
		slog.String("redis_addr", redisOpt.Addr),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}

// workerLogger 把 asynq 内部日志转到 slog。
type workerLogger struct{ l *slog.Logger }

func (w workerLogger) Debug(args ...interface{}) { w.l.Debug(fmt.Sprint(args...)) }
func (w workerLogger) Info(args ...interface{})  { w.l.Info(fmt.Sprint(args...)) }
func (w workerLogger) Warn(args ...interface{})  { w.l.Warn(fmt.Sprint(args...)) }
func (w workerLogger) Error(args ...interface{}) { w.l.Error(fmt.Sprint(args...)) }
func (w workerLogger) Fatal(args ...interface{}) {
	w.l.Error(fmt.Sprint(args...))
	log.Fatal(args...)
}
