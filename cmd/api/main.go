package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"studyhub/internal/account"
	"studyhub/internal/admin"
	"studyhub/internal/api"
	"studyhub/internal/auth"
	"studyhub/internal/catalog"
	"studyhub/internal/config"
	"studyhub/internal/database"
	"studyhub/internal/logging"
	"studyhub/internal/notify"
	"studyhub/internal/ordering"
	"studyhub/internal/storage"
	"studyhub/internal/store"
	"studyhub/internal/tasks"
	"studyhub/internal/uploader"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.InitLogger(cfg.API.LogLevel)
	logger.Info("api bootstrapped",
		slog.String("db_host", cfg.Database.Host),
		slog.Int("db_port", cfg.Database.Port),
		slog.String("db_name", cfg.Database.Name),
		slog.String("db_sslmode", cfg.Database.SSLMode),
	)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	logger.Info("database ready")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))

	tokens, err := auth.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.BcryptCost)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	st := store.NewGormStore(db)
	cleanup := tasks.NewAsynqEnqueuer(asynqClient)
	publisher := notify.NewRedisPublisher(redisClient)
	orders := ordering.NewOrderService(st, publisher, cleanup, logger)
	accounts := account.NewAccountService(st, tokens, cleanup, logger)

	router := api.NewRouter(cfg, logger)
	api.RegisterRoutes(router, api.Deps{
		Services: api.Services{
			Accounts:  accounts,
			Sheets:    catalog.NewSheetService(st, orders, publisher, cleanup, logger),
			Orders:    orders,
			Uploaders: uploader.NewUploaderService(st, publisher, logger),
			Admin:     admin.NewAdminService(st),
		},
		Config:  cfg,
		Tokens:  tokens,
		Redis:   redisClient,
		Storage: storageClient,
		Scanner: api.NewScanner(cfg.Upload.ClamdAddr),
		Cleanup: cleanup,
		Logger:  logger,
	})

	address := fmt.Sprintf(":%d", cfg.API.Port)
	logger.Info("api listening", slog.String("address", address))
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}
