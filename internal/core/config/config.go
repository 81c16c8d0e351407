package config

import (
	"time"

	"github.com/dvtran/ytarchive/internal/infra/redis"
	"github.com/dvtran/ytarchive/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig    `yaml:"server"`
	Jobs     JobsConfig      `yaml:"jobs"`
	Services ServicesConfig  `yaml:"services"`
	Redis    redis.Config    `yaml:"redis"`
	Logging  LoggingConfig   `yaml:"logging"`
	Database postgres.Config `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// JobsConfig holds orchestration and retry tuning.
type JobsConfig struct {
	Concurrency      int           `yaml:"concurrency"`       // workers per chunk
	LargeConcurrency int           `yaml:"large_concurrency"` // workers for large collections
	LargeThreshold   int           `yaml:"large_threshold"`   // items before a collection counts as large
	MinChunk         int           `yaml:"min_chunk"`
	MaxChunk         int           `yaml:"max_chunk"`
	RetentionPeriod  time.Duration `yaml:"retention_period"` // 0 = keep terminal jobs forever
	Retry            RetryConfig   `yaml:"retry"`
	MetadataStrategy string        `yaml:"metadata_strategy"`
	DownloadStrategy string        `yaml:"download_strategy"`
	StorageStrategy  string        `yaml:"storage_strategy"`
}

// RetryConfig holds the retry policy knobs shared by all strategies.
type RetryConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	BackoffFactor    float64       `yaml:"backoff_factor"`
	JitterFraction   float64       `yaml:"jitter_fraction"`
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	WindowSize       int           `yaml:"window_size"`
	MinSamples       int           `yaml:"min_samples"`
	SuccessFloor     float64       `yaml:"success_floor"`
}

// ServicesConfig holds the downstream collaborator endpoints.
type ServicesConfig struct {
	Metadata ServiceConfig `yaml:"metadata"`
	Download ServiceConfig `yaml:"download"`
	Storage  ServiceConfig `yaml:"storage"`
}

// ServiceConfig holds settings for one collaborator service.
type ServiceConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}
