package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DataDir               string
	ExportDir             string
	FFmpegBin             string
	Workers               int
	PollInterval          time.Duration
	ReapInterval          time.Duration
	ReapGrace             time.Duration
	DefaultMaxRetries     int
	DefaultTimeoutSeconds int
	BackoffBase           time.Duration
	BackoffMax            time.Duration
}

func Load() (*Config, error) {
	workers, err := strconv.Atoi(getEnv("WORKERS", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid WORKERS: %w", err)
	}

	pollInterval, err := time.ParseDuration(getEnv("POLL_INTERVAL", "500ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
	}

	reapInterval, err := time.ParseDuration(getEnv("REAP_INTERVAL", "1m"))
	if err != nil {
		return nil, fmt.Errorf("invalid REAP_INTERVAL: %w", err)
	}

	// Must exceed the largest render timeout in use, otherwise the reaper
	// requeues jobs that are still legitimately rendering.
	reapGrace, err := time.ParseDuration(getEnv("REAP_GRACE", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid REAP_GRACE: %w", err)
	}

	defaultMaxRetries, err := strconv.Atoi(getEnv("DEFAULT_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_MAX_RETRIES: %w", err)
	}

	defaultTimeoutSeconds, err := strconv.Atoi(getEnv("DEFAULT_TIMEOUT_SECONDS", "600"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TIMEOUT_SECONDS: %w", err)
	}

	backoffBase, err := time.ParseDuration(getEnv("BACKOFF_BASE", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid BACKOFF_BASE: %w", err)
	}

	backoffMax, err := time.ParseDuration(getEnv("BACKOFF_MAX", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid BACKOFF_MAX: %w", err)
	}

	return &Config{
		DataDir:               getEnv("DATA_DIR", "/data"),
		ExportDir:             getEnv("EXPORT_DIR", "/data/exports"),
		FFmpegBin:             getEnv("FFMPEG_BIN", "ffmpeg"),
		Workers:               workers,
		PollInterval:          pollInterval,
		ReapInterval:          reapInterval,
		ReapGrace:             reapGrace,
		DefaultMaxRetries:     defaultMaxRetries,
		DefaultTimeoutSeconds: defaultTimeoutSeconds,
		BackoffBase:           backoffBase,
		BackoffMax:            backoffMax,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
