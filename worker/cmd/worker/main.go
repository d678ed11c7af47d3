package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"geoProcessor/storage"
	"geoProcessor/worker/cache"
	"geoProcessor/worker/config"
	"geoProcessor/worker/kafka"
	"geoProcessor/worker/pool"
	"geoProcessor/worker/repository"
	"geoProcessor/worker/scheduler"
	"geoProcessor/worker/service"
	"geoProcessor/worker/transform"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("Worker service starting",
		zap.Int("worker_count", cfg.WorkerCount),
		zap.Int("max_concurrent_jobs", cfg.MaxConcurrentJobs),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	blobs, err := storage.NewMinioStore(ctx,
		cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioSecure)
	if err != nil {
		logger.Fatal("Failed to connect to minio", zap.Error(err))
	}

	brokers := strings.Split(cfg.KafkaBrokers, ",")

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.Fatal("Failed to create kafka producer", zap.Error(err))
	}
	defer producer.Close()

	consumer, err := kafka.NewConsumer(brokers, cfg.KafkaGroupID)
	if err != nil {
		logger.Fatal("Failed to create kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	repo := repository.NewPostgresRepo(db)
	statusCache := cache.NewStatusCache(redisClient)
	registry := scheduler.NewCancelRegistry()
	executor := transform.NewGDALExecutor(blobs, logger, cfg.WorkDir)

	processor := service.NewProcessor(
		repo, statusCache, producer, executor, blobs, registry,
		logger, cfg.KafkaTopic, cfg.MaxConcurrentJobs, cfg.HeartbeatInterval,
	)

	sweeper := scheduler.NewSweeper(
		repo, statusCache, producer, registry,
		logger, cfg.KafkaTopic, cfg.SweepInterval, cfg.HeartbeatGrace,
	)
	go sweeper.Run(ctx)

	workerPool := pool.NewWorkerPool(cfg.WorkerCount)

	handler := func(ctx context.Context, msg *kafka.JobMessage) error {
		workerPool.Submit(ctx, msg, processor.Process)
		return nil
	}

	logger.Info("Consuming", zap.String("topic", cfg.KafkaTopic), zap.String("group", cfg.KafkaGroupID))
	for {
		if err := consumer.Consume(ctx, cfg.KafkaTopic, handler); err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("Consumer error", zap.Error(err))
		}
		if ctx.Err() != nil {
			break
		}
	}

	logger.Info("Shutting down, draining workers")
	workerPool.Wait()
	logger.Info("Worker service stopped")
}
