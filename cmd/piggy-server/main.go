package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"piggysaving/internal/cli"
	"piggysaving/internal/log"
	"piggysaving/internal/server"
	"piggysaving/internal/storage"
)

func main() {
	cli.LoadEnvFile()

	boot := cli.SetupLogger("info", log.ComponentServer, nil)
	cfg := cli.MustLoadConfig(boot)
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentServer, nil)

	if cfg.UsingRemote {
		logger.Error("piggy-server serves the local store; unset USING_REMOTE")
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	srv := server.NewServer(":"+cfg.Port, repo, logger)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	logger.Info("Starting piggy server", "port", cfg.Port, "db_path", cfg.SQLiteDBPath, log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
