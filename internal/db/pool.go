package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Settings sizes the connection pool. Zero values fall back to defaults
// tuned for the transfer workload: purchase transactions hold both team row
// locks until commit, so a modest pool keeps lock queues short instead of
// stacking blocked transactions.
type Settings struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

const (
	defaultMaxConns        = 8
	defaultMinConns        = 1
	defaultMaxConnLifetime = 45 * time.Minute
	defaultMaxConnIdleTime = 5 * time.Minute
)

func (s Settings) withDefaults() Settings {
	if s.MaxConns <= 0 {
		s.MaxConns = defaultMaxConns
	}
	if s.MinConns <= 0 {
		s.MinConns = defaultMinConns
	}
	if s.MinConns > s.MaxConns {
		s.MinConns = s.MaxConns
	}
	if s.MaxConnLifetime <= 0 {
		s.MaxConnLifetime = defaultMaxConnLifetime
	}
	if s.MaxConnIdleTime <= 0 {
		s.MaxConnIdleTime = defaultMaxConnIdleTime
	}
	return s
}

func Connect(ctx context.Context, settings Settings) (*pgxpool.Pool, error) {
	settings = settings.withDefaults()

	cfg, err := pgxpool.ParseConfig(settings.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = settings.MaxConns
	cfg.MinConns = settings.MinConns
	cfg.MaxConnLifetime = settings.MaxConnLifetime
	cfg.MaxConnIdleTime = settings.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}
