package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type APIConfig struct {
	Addr           string
	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	NATSUrl        string
	JWTSecret      string
	TokenTTL       time.Duration
	LockTimeout    time.Duration
	StartupMigrate bool
}

type WorkerConfig struct {
	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	NATSUrl        string
	StartupMigrate bool
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	_ = godotenv.Load()

	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("TOUCHLINE_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:           addr,
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:     envInt32Default("TOUCHLINE_DB_MAX_CONNS", 16),
		DBMinConns:     envInt32Default("TOUCHLINE_DB_MIN_CONNS", 2),
		NATSUrl:        envDefault("NATS_URL", "nats://localhost:4222"),
		JWTSecret:      strings.TrimSpace(os.Getenv("TOUCHLINE_JWT_SECRET")),
		TokenTTL:       envDurationDefault("TOUCHLINE_TOKEN_TTL", 24*time.Hour),
		LockTimeout:    envDurationDefault("TOUCHLINE_LOCK_TIMEOUT", 3*time.Second),
		StartupMigrate: envBoolDefault("TOUCHLINE_STARTUP_MIGRATE", true),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("TOUCHLINE_JWT_SECRET is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	_ = godotenv.Load()

	cfg := WorkerConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		// The worker only runs provisioning inserts; it needs far fewer
		// connections than the API.
		DBMaxConns:     envInt32Default("TOUCHLINE_DB_MAX_CONNS", 4),
		DBMinConns:     envInt32Default("TOUCHLINE_DB_MIN_CONNS", 1),
		NATSUrl:        envDefault("NATS_URL", "nats://localhost:4222"),
		StartupMigrate: envBoolDefault("TOUCHLINE_STARTUP_MIGRATE", true),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("TL_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt32Default(key string, fallback int32) int32 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil || n <= 0 {
		return fallback
	}
	return int32(n)
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
