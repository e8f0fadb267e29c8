package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort          string
	DatabaseURL         string
	RedisURL            string
	ManifestPath        string
	OperatorTokenSecret string

	SyncInterval        time.Duration
	MaxBatchRows        int
	StreamFlushRows     int
	StreamFlushInterval time.Duration
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	ResyncSafeBehind    time.Duration
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		ManifestPath:        getEnv("MANIFEST_PATH", "tables.yaml"),
		OperatorTokenSecret: os.Getenv("OPERATOR_TOKEN_SECRET"),
	}

	var err error
	if cfg.SyncInterval, err = getDuration("SYNC_INTERVAL", "5m"); err != nil {
		return nil, err
	}
	if cfg.MaxBatchRows, err = getInt("MAX_BATCH_ROWS", 500); err != nil {
		return nil, err
	}
	if cfg.StreamFlushRows, err = getInt("STREAM_FLUSH_ROWS", 200); err != nil {
		return nil, err
	}
	if cfg.StreamFlushInterval, err = getDuration("STREAM_FLUSH_INTERVAL", "2s"); err != nil {
		return nil, err
	}
	if cfg.RetryMaxAttempts, err = getInt("RETRY_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = getDuration("RETRY_BASE_DELAY", "500ms"); err != nil {
		return nil, err
	}
	if cfg.ResyncSafeBehind, err = getDuration("RESYNC_SAFE_BEHIND", "24h"); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.MaxBatchRows <= 0 {
		return nil, errors.New("MAX_BATCH_ROWS must be positive")
	}
	if cfg.StreamFlushRows <= 0 {
		return nil, errors.New("STREAM_FLUSH_ROWS must be positive")
	}
	if cfg.RetryMaxAttempts <= 0 {
		return nil, errors.New("RETRY_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return n, nil
}
