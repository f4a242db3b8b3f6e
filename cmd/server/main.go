package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/api"
	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/api/handlers"
	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/cache"
	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/config"
	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/liquidation"
	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/logging"
	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/observability"
	"github.com/virtexvirtuoso/Virtuoso-sub028/internal/oidivergence"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if err := observability.InitSentry(cfg.Sentry, cfg.Environment); err != nil {
		logger.WithError(err).Warn("Failed to initialize Sentry")
	}
	defer observability.Flush()

	liquidationScorer, err := liquidation.NewScorer(cfg.LiquidationDecay, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid liquidation decay configuration")
	}

	divergenceScorer, err := oidivergence.NewScorer(cfg.OIDivergence, logger)
	if err != nil {
		logger.WithError(err).Fatal("Invalid OI divergence configuration")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	scoreCache := cache.NewRedisScoreCache(
		redisClient,
		time.Duration(cfg.Redis.SnapshotTTLMinutes)*time.Minute,
		logger,
	)

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	scoreHandler := handlers.NewScoreHandler(liquidationScorer, divergenceScorer, scoreCache, logger)
	api.SetupRoutes(router, scoreHandler, redisClient)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
