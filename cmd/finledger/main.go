package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"finledger/internal/allocation"
	"finledger/internal/amqp"
	"finledger/internal/config"
	"finledger/internal/core"
	"finledger/internal/dps"
	"finledger/internal/gateway"
	"finledger/internal/gateway/memory"
	apphttp "finledger/internal/http"
	applog "finledger/internal/log"
	"finledger/internal/rates"
	"finledger/internal/services"
	"finledger/internal/storage"
	"finledger/internal/transfer"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: applog.ComponentApp})
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	var gw gateway.Gateway
	switch cfg.DataBackend {
	case "sqlite":
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer repo.Close()
		gw = repo
		logger.Info("Initialized sqlite backend", "path", cfg.SQLiteDBPath)
	default:
		gw = memory.New()
		logger.Info("Initialized memory backend")
	}

	// AMQP is optional: without it the engine still commits, it just skips
	// transfer events and allocation retry queuing.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	allocCfg, err := allocationConfig(cfg)
	if err != nil {
		logger.Error("Invalid allocation configuration", "error", err)
		os.Exit(1)
	}

	svc := services.NewFinanceService(gw, allocCfg, amqpClient)
	dpsMgr := dps.NewManager(gw, transfer.New(gw))
	provider := rateProvider(cfg)

	srv := apphttp.NewServer(":"+cfg.Port, svc, dpsMgr, provider)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting finledger server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}

// allocationConfig translates env strings into the engine's typed config.
// The fixed amount is interpreted at two minor-unit digits; accounts in
// zero- or three-exponent currencies should use percent mode instead.
func allocationConfig(cfg *config.Config) (allocation.Config, error) {
	out := allocation.Config{
		Enabled:    cfg.AllocationEnabled,
		Mode:       core.AllocationMode(cfg.AllocationMode),
		Categories: cfg.AllocationCategories,
	}
	if !out.Enabled {
		return out, nil
	}
	switch out.Mode {
	case core.ModeFixed:
		d, err := decimal.NewFromString(cfg.AllocationFixed)
		if err != nil {
			return out, fmt.Errorf("allocation fixed amount: %w", err)
		}
		amount, err := core.FromDecimal(d, "USD")
		if err != nil {
			return out, fmt.Errorf("allocation fixed amount: %w", err)
		}
		out.FixedAmount = amount
	case core.ModePercent:
		d, err := decimal.NewFromString(cfg.AllocationPercent)
		if err != nil {
			return out, fmt.Errorf("allocation percent: %w", err)
		}
		out.Percent = d
	}
	return out, nil
}

// rateProvider builds the rate resolution chain: the remote API when
// configured, falling back to the static table, all behind the TTL cache.
func rateProvider(cfg *config.Config) rates.Provider {
	var inner rates.Provider = rates.NewStatic()
	if cfg.RateAPIURL != "" {
		inner = rates.NewFallback(rates.NewHTTPProvider(cfg.RateAPIURL, cfg.RateTimeout), inner)
	}
	return rates.NewCached(inner, 100, cfg.RateCacheTTL)
}
