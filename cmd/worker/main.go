// Package main is the entry point for the broadcast queue worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/broadcast"
	"github.com/sabnode/messaging-engine/internal/config"
	"github.com/sabnode/messaging-engine/internal/repository"
	"github.com/sabnode/messaging-engine/internal/wa"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			_ = syncErr
		}
	}()

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close Redis connection", zap.Error(err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	repo := repository.NewRepository(db)
	waClient := wa.NewClient(&cfg.WhatsApp, logger)

	queue, err := broadcast.NewQueue(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal("Failed to initialize broadcast queue", zap.Error(err))
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Error("Failed to close broadcast queue", zap.Error(err))
		}
	}()

	dispatcher := broadcast.NewDispatcher(waClient, repo.Broadcasts(), repo.BroadcastContacts(), &cfg.Broadcast, logger)
	dispatcher.SetResultCache(redisClient)
	worker := broadcast.NewWorker(queue, dispatcher, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		logger.Info("Shutting down worker...")
		cancel()
	}()

	if err := worker.Run(ctx); err != nil {
		logger.Fatal("Worker exited with error", zap.Error(err))
	}

	logger.Info("Worker exited")
}
