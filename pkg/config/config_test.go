package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "API_KEY", "BROKER_URL", "RESULT_BACKEND", "GOOGLE_MAPS_API_KEY",
		"MAX_BODY_MB", "LISTEN_ADDR", "CACHE_PATH", "LOG_LEVEL", "CACHE_TTL_SECONDS", "JOB_CONCURRENCY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "file:test.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr, got %v", cfg.ListenAddr)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("expected default cache ttl, got %v", cfg.CacheTTL)
	}
	if cfg.JobConcurrency != 10 {
		t.Errorf("expected default job concurrency, got %v", cfg.JobConcurrency)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "file:test.db")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("MAX_BODY_MB", "80")
	t.Setenv("CACHE_TTL_SECONDS", "120")
	t.Setenv("JOB_CONCURRENCY", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("expected overridden listen addr, got %v", cfg.ListenAddr)
	}
	if cfg.MaxBodyMB != 80 {
		t.Errorf("expected overridden max body mb, got %v", cfg.MaxBodyMB)
	}
	if cfg.CacheTTL != 120*time.Second {
		t.Errorf("expected overridden cache ttl, got %v", cfg.CacheTTL)
	}
	if cfg.JobConcurrency != 4 {
		t.Errorf("expected overridden job concurrency, got %v", cfg.JobConcurrency)
	}
}

func TestLoadInvalidMaxBodyMBReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "file:test.db")
	t.Setenv("MAX_BODY_MB", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid MAX_BODY_MB")
	}
}

func TestMaxBodyBytesConversion(t *testing.T) {
	cfg := Config{MaxBodyMB: 40}
	if got := cfg.MaxBodyBytes(); got != 40*1024*1024 {
		t.Errorf("expected 40MB in bytes, got %d", got)
	}
}
