// Package config loads and validates the hub's environment-driven
// configuration, collecting every missing/invalid variable into one
// combined error instead of failing on the first.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/collabhub/backend/internal/logging"
)

// Config is the hub's full runtime configuration; durations are parsed
// from seconds.
type Config struct {
	ListenPort  string
	StoreURL    string
	RedisURL    string // optional; empty disables cross-instance fan-out
	JWTSecret   string // optional; empty disables connect-token validation
	CORSOrigin  string
	Development bool

	SnapshotInterval  time.Duration
	SnapshotKeep      int
	IdleDestroyGrace  time.Duration
	OutboundQueue     int
	ApplyQueue        int
	MaxFrameBytes     int
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	ShutdownDrain     time.Duration
}

// Load reads a .env file if present (ignored if absent), then builds and
// validates a Config from the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []string
	req := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			errs = append(errs, fmt.Sprintf("%s is required", key))
		}
		return v
	}

	cfg := &Config{
		ListenPort:  getEnvOrDefault("LISTEN_PORT", "8080"),
		StoreURL:    req("STORE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		CORSOrigin:  getEnvOrDefault("CORS_ORIGIN", "*"),
		Development: getEnvOrDefault("APP_ENV", "development") != "production",
	}

	cfg.SnapshotInterval = getEnvSeconds("SNAPSHOT_INTERVAL", 30, &errs)
	cfg.SnapshotKeep = getEnvInt("SNAPSHOT_KEEP", 10, &errs)
	cfg.IdleDestroyGrace = getEnvSeconds("IDLE_DESTROY_GRACE", 60, &errs)
	cfg.OutboundQueue = getEnvInt("OUTBOUND_QUEUE", 256, &errs)
	cfg.ApplyQueue = getEnvInt("APPLY_QUEUE", 1024, &errs)
	cfg.MaxFrameBytes = getEnvInt("MAX_FRAME_BYTES", 1<<20, &errs)
	cfg.HeartbeatInterval = getEnvSeconds("HEARTBEAT_INTERVAL", 30, &errs)
	cfg.IdleTimeout = getEnvSeconds("IDLE_TIMEOUT", 90, &errs)
	cfg.ShutdownDrain = getEnvSeconds("SHUTDOWN_DRAIN", 5, &errs)

	if len(errs) > 0 {
		return nil, errors.New("config: " + strings.Join(errs, "; "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer: %v", key, err))
		return def
	}
	return n
}

func getEnvSeconds(key string, defSeconds int, errs *[]string) time.Duration {
	return time.Duration(getEnvInt(key, defSeconds, errs)) * time.Second
}

func redactSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

func logValidatedConfig(cfg *Config) {
	logging.L().Sugar().Infow("config loaded",
		"listen_port", cfg.ListenPort,
		"store_url", redactSecret(cfg.StoreURL),
		"redis_url", redactSecret(cfg.RedisURL),
		"jwt_secret_set", cfg.JWTSecret != "",
		"cors_origin", cfg.CORSOrigin,
		"snapshot_interval", cfg.SnapshotInterval,
		"snapshot_keep", cfg.SnapshotKeep,
		"idle_destroy_grace", cfg.IdleDestroyGrace,
		"outbound_queue", cfg.OutboundQueue,
		"apply_queue", cfg.ApplyQueue,
		"max_frame_bytes", cfg.MaxFrameBytes,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_drain", cfg.ShutdownDrain,
	)
}
