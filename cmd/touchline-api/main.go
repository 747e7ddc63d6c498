package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"touchline/internal/api"
	"touchline/internal/auth"
	"touchline/internal/config"
	"touchline/internal/db"
	"touchline/internal/market"
	"touchline/internal/provision"
	"touchline/internal/users"

	"github.com/jonboulle/clockwork"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
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

	userSvc := users.NewService(pool, logger, provision.NewPublisher(js))
	authSvc := auth.NewService(userSvc, logger, cfg.JWTSecret, cfg.TokenTTL)
	marketSvc := market.NewService(pool, logger, cfg.LockTimeout, clockwork.NewRealClock())

	server := api.New(cfg, logger, authSvc, marketSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("touchline api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
