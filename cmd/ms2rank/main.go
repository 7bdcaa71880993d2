package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ms2rank"
	"github.com/kailas-cloud/ms2rank/internal/config"
	logpkg "github.com/kailas-cloud/ms2rank/internal/logger"
	"github.com/kailas-cloud/ms2rank/internal/metrics"
	chiTransport "github.com/kailas-cloud/ms2rank/internal/transport/chi"
	"github.com/kailas-cloud/ms2rank/internal/version"
)

func main() {
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ms2rank API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("preselection_space", cfg.Library.PreselectionSpace),
		zap.String("rescoring_space", cfg.Library.RescoringSpace),
	)

	metrics.RegisterPipelineMetrics()
	httpMetrics, err := metrics.NewHTTP(nil)
	if err != nil {
		logger.Fatal("Failed to register HTTP metrics", zap.Error(err))
	}

	ctx := context.Background()
	lib, err := ms2rank.Open(ctx, ms2rank.WithConfig(cfg), ms2rank.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to open library", zap.Error(err))
	}
	defer func() {
		if err := lib.Close(); err != nil {
			logger.Error("Error closing library", zap.Error(err))
		}
	}()
	logger.Info("Library loaded", zap.Int("library_size", lib.Size()))

	server := chiTransport.NewServer(lib, chiTransport.Limits{
		MaxQueries:   cfg.HTTP.MaxQueries,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}, logger)
	handler := chiTransport.NewRouter(server, cfg.Auth.APIKeys, httpMetrics, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
