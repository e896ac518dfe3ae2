package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/docuflow/invoice-pipeline/internal/common"
	"github.com/docuflow/invoice-pipeline/internal/repository"
)

// dbhealth connects to the configured database and pings it once.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := common.LoadConfig()
	if cfg.Database.DSN == "" {
		logger.Error("DB_URL env var is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Database.Driver {
	case "sqlite":
		db, err := repository.OpenSQLite(ctx, cfg.Database.DSN, logger)
		if err != nil {
			logger.Error("sqlite open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Error("sqlite ping failed", "error", err)
			os.Exit(1)
		}
	default:
		pool, err := repository.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error("pool create failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := repository.HealthCheck(ctx, pool, cfg.Database.DialTimeout, logger); err != nil {
			logger.Error("ping failed", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("database health OK", "driver", cfg.Database.Driver)
}
