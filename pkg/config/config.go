// Package config loads ouajourad's runtime configuration from environment
// variables, failing fast when a required value is missing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-sourced setting the daemon needs.
type Config struct {
	DatabaseURL    string
	APIKey         string // empty disables auth
	MaxBodyMB      int
	BrokerURL      string
	ResultBackend  string
	ListenAddr     string
	CachePath      string
	CacheTTL       time.Duration
	GoogleMapsKey  string // empty disables reverse-geocode enrichment
	LogLevel       string
	JobConcurrency int64
}

// Default returns the baseline configuration before environment overrides
// are applied.
func Default() Config {
	return Config{
		MaxBodyMB:      40,
		ListenAddr:     ":8080",
		CachePath:      "./data/cluster_cache.db",
		CacheTTL:       5 * time.Minute,
		LogLevel:       "info",
		JobConcurrency: 10,
	}
}

// Load builds a Config from environment variables, starting from Default.
// It returns an error if DATABASE_URL is absent, per the
// ConfigurationMissing error kind: this is fatal at startup.
func Load() (Config, error) {
	cfg := Default()

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}

	cfg.APIKey = os.Getenv("API_KEY")
	cfg.BrokerURL = os.Getenv("BROKER_URL")
	cfg.ResultBackend = os.Getenv("RESULT_BACKEND")
	cfg.GoogleMapsKey = os.Getenv("GOOGLE_MAPS_API_KEY")

	if v := os.Getenv("MAX_BODY_MB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: MAX_BODY_MB: %w", err)
		}
		cfg.MaxBodyMB = n
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: CACHE_TTL_SECONDS: %w", err)
		}
		cfg.CacheTTL = time.Duration(n) * time.Second
	}
	if v := os.Getenv("JOB_CONCURRENCY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: JOB_CONCURRENCY: %w", err)
		}
		cfg.JobConcurrency = n
	}

	return cfg, nil
}

// MaxBodyBytes is MaxBodyMB converted to bytes for http.MaxBytesReader.
func (c Config) MaxBodyBytes() int64 {
	return int64(c.MaxBodyMB) * 1024 * 1024
}
