// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL   string
	MigrationsDir string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string

	// Auth
	JWTSecret string

	// Uploads
	MaxUploadSize int64

	// Quotas
	DefaultAllottedBytes int64
	ReconcileInterval    time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:           envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:          envOr("METRICS_ADDR", ":9090"),
		LogLevel:             envOr("LOG_LEVEL", "info"),
		LogFormat:            envOr("LOG_FORMAT", "json"),
		DatabaseURL:          envOr("DATABASE_URL", ""),
		MigrationsDir:        envOr("MIGRATIONS_DIR", "migrations"),
		S3Endpoint:           envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:             envOr("S3_BUCKET", "stackdrive"),
		S3AccessKey:          envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:          envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:             envOr("S3_REGION", "us-east-1"),
		JWTSecret:            envOr("JWT_SECRET", ""),
		MaxUploadSize:        envInt64("MAX_UPLOAD_SIZE", 100*1024*1024), // 100MB default
		DefaultAllottedBytes: envInt64("DEFAULT_ALLOTTED_BYTES", 2*1024*1024*1024),
		ReconcileInterval:    envDuration("RECONCILE_INTERVAL", 10*time.Minute),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
