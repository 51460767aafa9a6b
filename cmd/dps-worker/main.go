package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"finledger/internal/config"
	"finledger/internal/dps"
	applog "finledger/internal/log"
	"finledger/internal/storage"
	"finledger/internal/transfer"
)

// The dps worker commits scheduled contributions for every enabled
// recurring-deposit plan. It shares the SQLite database with the server.
func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: applog.ComponentDPS})
	applog.SetDefault(logger)

	logger.Info("Starting dps-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	processor := dps.NewProcessor(repo, transfer.New(repo))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("DPS processor configured",
		"interval", cfg.DPSInterval, "sqlite_db", cfg.SQLiteDBPath)

	// Run once on startup so a restart never delays due contributions by a
	// full interval.
	if count, err := processor.ProcessDue(ctx, time.Now()); err != nil {
		logger.Error("Initial processing failed", "error", err)
	} else {
		logger.Info("Initial processing complete", "contributions", count)
	}

	ticker := time.NewTicker(cfg.DPSInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("DPS worker shutdown complete")
			return
		case now := <-ticker.C:
			count, err := processor.ProcessDue(ctx, now)
			if err != nil {
				logger.Error("Periodic processing failed", "error", err)
				continue
			}
			logger.Info("Periodic processing complete",
				"contributions", count,
				"next_check", now.Add(cfg.DPSInterval).Format("15:04:05"))
		}
	}
}
