package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"touchline/internal/config"
	"touchline/internal/db"
	"touchline/internal/provision"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, db.Settings{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.StartupMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
	}

	nc, js, err := provision.ConnectQueue(ctx, cfg.NATSUrl, logger)
	if err != nil {
		logger.Error("queue connect failed", "err", err)
		os.Exit(1)
	}
	defer nc.Drain()

	provisioner := provision.NewProvisioner(pool, logger)
	consumer := provision.NewConsumer(js, provisioner, logger)

	logger.Info("touchline worker started")
	if err := consumer.Run(ctx); err != nil {
		logger.Error("consumer failed", "err", err)
		os.Exit(1)
	}
	logger.Info("worker shutdown")
}
