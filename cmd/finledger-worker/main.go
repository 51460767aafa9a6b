package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"finledger/internal/allocation"
	"finledger/internal/amqp"
	"finledger/internal/config"
	"finledger/internal/core"
	"finledger/internal/gateway"
	applog "finledger/internal/log"
	"finledger/internal/rates"
	"finledger/internal/services"
	"finledger/internal/storage"
)

// The worker drains the allocation retry queue and keeps the exchange-rate
// cache warm. It shares the SQLite database with the server; the memory
// backend has nothing to retry against, so the worker always runs on SQLite.
func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: applog.ComponentWorker})
	applog.SetDefault(logger)

	logger.Info("Starting finledger-worker")

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

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	allocCfg, err := allocationConfig(cfg)
	if err != nil {
		logger.Error("Invalid allocation configuration", "error", err)
		os.Exit(1)
	}
	svc := services.NewFinanceService(repo, allocCfg, nil)

	var cached *rates.Cached
	if cfg.RateAPIURL != "" {
		cached = rates.NewCached(rates.NewHTTPProvider(cfg.RateAPIURL, cfg.RateTimeout), 100, cfg.RateCacheTTL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return amqpClient.ConsumeAllocationRetry(ctx, func(msg *amqp.AllocationRetryMessage) error {
			logger.Info("Retrying allocation", "transaction_id", msg.TransactionID)
			return svc.RetryAllocation(ctx, msg.TransactionID)
		})
	})

	if cached != nil {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.RateRefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					pairs, err := activePairs(ctx, repo)
					if err != nil {
						logger.Error("Failed to collect currency pairs", "error", err)
						continue
					}
					refreshed := cached.Refresh(ctx, pairs)
					logger.Info("Refreshed exchange rates", "pairs", len(pairs), "refreshed", refreshed)
				}
			}
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}

// allocationConfig translates env strings into the engine's typed config.
// It must match the server's interpretation so retried derivations agree
// with the originals.
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

// activePairs derives the currency pairs worth caching from the accounts on
// file: every ordered pair of two distinct currencies in use.
func activePairs(ctx context.Context, gw gateway.AccountStore) ([][2]core.Currency, error) {
	accounts, err := gw.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[core.Currency]bool)
	var currencies []core.Currency
	for _, a := range accounts {
		if !seen[a.Currency] {
			seen[a.Currency] = true
			currencies = append(currencies, a.Currency)
		}
	}
	var pairs [][2]core.Currency
	for _, from := range currencies {
		for _, to := range currencies {
			if from != to {
				pairs = append(pairs, [2]core.Currency{from, to})
			}
		}
	}
	return pairs, nil
}
