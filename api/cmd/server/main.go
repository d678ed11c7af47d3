package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"geoProcessor/api/cache"
	"geoProcessor/api/config"
	"geoProcessor/api/database"
	"geoProcessor/api/handlers"
	"geoProcessor/api/kafka"
	"geoProcessor/api/middleware"
	"geoProcessor/api/repository"
	"geoProcessor/api/service"
	"geoProcessor/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("API service starting",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
	)

	ctx := context.Background()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisCache, err := database.ConnectCache(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer redisCache.Close()

	blobs, err := storage.NewMinioStore(ctx,
		cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioSecure)
	if err != nil {
		logger.Fatal("Failed to connect to minio", zap.Error(err))
	}

	producer, err := kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
	if err != nil {
		logger.Fatal("Failed to create kafka producer", zap.Error(err))
	}
	defer producer.Close()

	repo := repository.NewPostgresRepo(db)
	statusCache := cache.NewStatusCache(redisCache)
	jobService := service.NewJobService(repo, statusCache, producer, blobs, logger, cfg.KafkaTopic, cfg.MaxJobDuration)

	jobHandler := handlers.NewJobHandler(jobService, logger)
	uploadHandler := handlers.NewUploadHandler(blobs, logger, cfg.MaxFileSize)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", jobHandler.Submit)
	mux.HandleFunc("GET /jobs", jobHandler.List)
	mux.HandleFunc("GET /jobs/{id}", jobHandler.Get)
	mux.HandleFunc("DELETE /jobs/{id}", jobHandler.Cancel)
	mux.HandleFunc("POST /jobs/cleanup", jobHandler.Cleanup)
	mux.HandleFunc("GET /download/{id}", jobHandler.Download)
	mux.HandleFunc("POST /upload", uploadHandler.Upload)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Recovery(logger)(handler)
	handler = middleware.TraceID(handler)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server started", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
}
