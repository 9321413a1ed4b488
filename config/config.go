// Package config loads saga service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/bjaus/saga"
)

// Environment keys.
const (
	EnvServiceName      = "SAGA_SERVICE_NAME"
	EnvStreamName       = "KINESIS_STREAM_NAME"
	EnvQueueURL         = "SQS_QUEUE_URL"
	EnvRedriveBatchSize = "SAGA_REDRIVE_BATCH_SIZE"
	EnvConcurrency      = "SAGA_CONCURRENCY"
	EnvLogLevel         = "SAGA_LOG_LEVEL"
	EnvLogFormat        = "SAGA_LOG_FORMAT"
	EnvRegion           = "AWS_REGION"
)

// Config is everything a saga service reads from its environment.
type Config struct {
	ServiceName      string `envconfig:"SAGA_SERVICE_NAME" required:"true"`
	StreamName       string `envconfig:"KINESIS_STREAM_NAME" default:"message-bus"`
	QueueURL         string `envconfig:"SQS_QUEUE_URL"`
	RedriveBatchSize int    `envconfig:"SAGA_REDRIVE_BATCH_SIZE" default:"5"`
	Concurrency      int    `envconfig:"SAGA_CONCURRENCY" default:"0"`
	LogLevel         string `envconfig:"SAGA_LOG_LEVEL" default:"info"`
	LogFormat        string `envconfig:"SAGA_LOG_FORMAT" default:"json"`
	Region           string `envconfig:"AWS_REGION"`
}

// Load reads a .env file if there is one, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return errors.New(EnvServiceName + " must not be blank")
	}
	if c.RedriveBatchSize < 1 || c.RedriveBatchSize > saga.MaxQueueBatchSize {
		return fmt.Errorf("%s must be between 1 and %d, got %d", EnvRedriveBatchSize, saga.MaxQueueBatchSize, c.RedriveBatchSize)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%s must not be negative, got %d", EnvConcurrency, c.Concurrency)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("%s must be json or console, got %q", EnvLogFormat, c.LogFormat)
	}
	return nil
}

// RedriveEnabled reports whether failed batches can be moved to a queue.
func (c *Config) RedriveEnabled() bool {
	return c.QueueURL != ""
}
