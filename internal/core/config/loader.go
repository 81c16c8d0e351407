package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	jobs := &cfg.Jobs
	if jobs.Concurrency == 0 {
		jobs.Concurrency = 3
	}
	if jobs.LargeConcurrency == 0 {
		jobs.LargeConcurrency = 5
	}
	if jobs.LargeThreshold == 0 {
		jobs.LargeThreshold = 100
	}
	if jobs.MinChunk == 0 {
		jobs.MinChunk = 10
	}
	if jobs.MaxChunk == 0 {
		jobs.MaxChunk = 50
	}
	if jobs.RetentionPeriod == 0 {
		jobs.RetentionPeriod = 7 * 24 * time.Hour
	}
	if jobs.MetadataStrategy == "" {
		jobs.MetadataStrategy = "exponential_backoff"
	}
	if jobs.DownloadStrategy == "" {
		jobs.DownloadStrategy = "adaptive"
	}
	if jobs.StorageStrategy == "" {
		jobs.StorageStrategy = "circuit_breaker"
	}

	retry := &jobs.Retry
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = 5
	}
	if retry.BaseDelay == 0 {
		retry.BaseDelay = 1 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 60 * time.Second
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2.0
	}
	if retry.JitterFraction == 0 {
		retry.JitterFraction = 0.2
	}
	if retry.FailureThreshold == 0 {
		retry.FailureThreshold = 5
	}
	if retry.ResetTimeout == 0 {
		retry.ResetTimeout = 30 * time.Second
	}
	if retry.WindowSize == 0 {
		retry.WindowSize = 50
	}
	if retry.MinSamples == 0 {
		retry.MinSamples = 5
	}
	if retry.SuccessFloor == 0 {
		retry.SuccessFloor = 0.1
	}

	if cfg.Services.Metadata.Timeout == 0 {
		cfg.Services.Metadata.Timeout = 30 * time.Second
	}
	if cfg.Services.Storage.Timeout == 0 {
		cfg.Services.Storage.Timeout = 30 * time.Second
	}
	// A download attempt covers the whole transfer, not a round trip.
	if cfg.Services.Download.Timeout == 0 {
		cfg.Services.Download.Timeout = 30 * time.Minute
	}
}
