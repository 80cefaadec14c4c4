// Package config loads service configuration from an optional YAML file with
// environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration shared by the API server and the queue worker.
type Config struct {
	HTTPAddr          string
	PostgresURL       string
	RedisURL          string
	ProviderBaseURL   string
	ProviderAPIKey    string
	ScratchDir        string
	MaxVideoSize      int64
	InlineLimit       int64
	WorkerConcurrency int
	ResultTTL         time.Duration
}

// fileConfig is the YAML shape; zero values mean "not set".
type fileConfig struct {
	HTTPAddr        string `yaml:"http_addr"`
	PostgresURL     string `yaml:"postgres_url"`
	RedisURL        string `yaml:"redis_url"`
	ProviderBaseURL string `yaml:"provider_base_url"`
	ScratchDir      string `yaml:"scratch_dir"`
	MaxVideoSize    int64  `yaml:"max_video_size"`
	InlineLimit     int64  `yaml:"inline_limit"`
	WorkerCount     int    `yaml:"worker_count"`
	ResultTTLHours  int    `yaml:"result_ttl_hours"`
}

const (
	defaultHTTPAddr        = ":8080"
	defaultPostgresURL     = "postgresql://localhost:5432/milestone_analyzer?sslmode=disable"
	defaultRedisURL        = "redis://localhost:6379"
	defaultProviderBaseURL = "https://generativelanguage.googleapis.com"
	defaultScratchDir      = "/tmp/milestone-analyzer"
	defaultMaxVideoSize    = 2 * 1024 * 1024 * 1024
	defaultWorkerCount     = 3
	defaultResultTTL       = 24 * time.Hour
)

// Load builds the effective configuration. When CONFIG_FILE is set, the YAML
// file is read first; environment variables override file values.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:          defaultHTTPAddr,
		PostgresURL:       defaultPostgresURL,
		RedisURL:          defaultRedisURL,
		ProviderBaseURL:   defaultProviderBaseURL,
		ScratchDir:        defaultScratchDir,
		MaxVideoSize:      defaultMaxVideoSize,
		WorkerConcurrency: defaultWorkerCount,
		ResultTTL:         defaultResultTTL,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.PostgresURL = getEnv("POSTGRES_URL", cfg.PostgresURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.ProviderBaseURL = getEnv("PROVIDER_BASE_URL", cfg.ProviderBaseURL)
	cfg.ProviderAPIKey = getEnv("GOOGLE_API_KEY", cfg.ProviderAPIKey)
	cfg.ScratchDir = getEnv("SCRATCH_DIR", cfg.ScratchDir)
	cfg.MaxVideoSize = getEnvInt64("MAX_VIDEO_SIZE", cfg.MaxVideoSize)
	cfg.InlineLimit = getEnvInt64("INLINE_LIMIT", cfg.InlineLimit)
	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", cfg.WorkerConcurrency)

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.HTTPAddr != "" {
		c.HTTPAddr = fc.HTTPAddr
	}
	if fc.PostgresURL != "" {
		c.PostgresURL = fc.PostgresURL
	}
	if fc.RedisURL != "" {
		c.RedisURL = fc.RedisURL
	}
	if fc.ProviderBaseURL != "" {
		c.ProviderBaseURL = fc.ProviderBaseURL
	}
	if fc.ScratchDir != "" {
		c.ScratchDir = fc.ScratchDir
	}
	if fc.MaxVideoSize > 0 {
		c.MaxVideoSize = fc.MaxVideoSize
	}
	if fc.InlineLimit > 0 {
		c.InlineLimit = fc.InlineLimit
	}
	if fc.WorkerCount > 0 {
		c.WorkerConcurrency = fc.WorkerCount
	}
	if fc.ResultTTLHours > 0 {
		c.ResultTTL = time.Duration(fc.ResultTTLHours) * time.Hour
	}
	return nil
}

// getEnv gets an environment variable with a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 gets an int64 environment variable with a default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		var intValue int64
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}
