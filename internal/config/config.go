// Package config provides typed configuration for the memory engine, loaded
// from layered sources (defaults, files, environment variables) with hot
// reload support in development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Environment identifies the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the root configuration for the engine.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment"`

	Storage      Storage      `yaml:"storage" json:"storage"`
	Index        Index        `yaml:"index" json:"index"`
	Extraction   Extraction   `yaml:"extraction" json:"extraction"`
	Conversation Conversation `yaml:"conversation" json:"conversation"`
	Cache        Cache        `yaml:"cache" json:"cache"`
	Logging      Logging      `yaml:"logging" json:"logging"`
	Metrics      Metrics      `yaml:"metrics" json:"metrics"`
	Tracing      Tracing      `yaml:"tracing" json:"tracing"`

	// LoadedFrom records which sources contributed, for startup logging.
	LoadedFrom []string `yaml:"-" json:"-"`
}

// Storage selects and tunes the persistence backend.
type Storage struct {
	// Driver is "memory" or "dynamodb".
	Driver         string        `yaml:"driver" json:"driver"`
	TableName      string        `yaml:"table_name" json:"table_name"`
	Region         string        `yaml:"region" json:"region"`
	Endpoint       string        `yaml:"endpoint" json:"endpoint"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
}

// Index fixes the embedding dimension the vector index accepts.
type Index struct {
	Dim int `yaml:"dim" json:"dim"`
}

// Extraction tunes the background extraction pipeline.
type Extraction struct {
	Workers        int           `yaml:"workers" json:"workers"`
	QueueSize      int           `yaml:"queue_size" json:"queue_size"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" json:"handler_timeout"`
}

// Conversation tunes the facade.
type Conversation struct {
	// SessionPolicy is "single_active" or "always_new".
	SessionPolicy string `yaml:"session_policy" json:"session_policy"`
	HistoryWindow int    `yaml:"history_window" json:"history_window"`
	TopK          int    `yaml:"top_k" json:"top_k"`
}

// Cache tunes the profile cache.
type Cache struct {
	ProfileTTL  time.Duration `yaml:"profile_ttl" json:"profile_ttl"`
	ProfileSize int64         `yaml:"profile_size" json:"profile_size"`
}

// Logging configures zap.
type Logging struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Metrics configures Prometheus collection.
type Metrics struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// Tracing configures OpenTelemetry export.
type Tracing struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate"`
}

// Validate checks the assembled configuration for values no component can
// work with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "dynamodb":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "dynamodb" && c.Storage.TableName == "" {
		return fmt.Errorf("storage.table_name is required for the dynamodb driver")
	}
	if c.Index.Dim <= 0 {
		return fmt.Errorf("index.dim must be positive, got %d", c.Index.Dim)
	}
	switch c.Conversation.SessionPolicy {
	case "single_active", "always_new":
	default:
		return fmt.Errorf("unknown session policy %q", c.Conversation.SessionPolicy)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// IsDevelopment reports whether hot reload and other dev affordances are on.
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

func getEnvironment() Environment {
	switch strings.ToLower(os.Getenv("ENGRAM_ENV")) {
	case "production", "prod":
		return Production
	case "staging":
		return Staging
	default:
		return Development
	}
}
