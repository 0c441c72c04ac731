package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader assembles configuration from layered sources. Priority, lowest to
// highest: defaults, base file, environment-specific file, environment
// variables.
type Loader struct {
	basePath    string
	environment Environment
	sources     []string
	fileLoaders map[string]FileLoader
}

// FileLoader parses one configuration file format.
type FileLoader interface {
	Load(reader io.Reader, target interface{}) error
	Extension() string
}

// NewLoader creates a loader rooted at basePath.
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}
	l := &Loader{
		basePath:    basePath,
		environment: env,
		fileLoaders: make(map[string]FileLoader),
	}
	l.RegisterLoader(&YAMLLoader{})
	l.RegisterLoader(&JSONLoader{})
	return l
}

// RegisterLoader adds support for a file format.
func (l *Loader) RegisterLoader(loader FileLoader) {
	l.fileLoaders[loader.Extension()] = loader
}

// Load assembles and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := l.defaultConfig()
	l.sources = append(l.sources, "defaults")

	if err := l.loadFile("base", cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}

	envFile := strings.ToLower(string(l.environment))
	if err := l.loadFile(envFile, cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s config: %w", envFile, err)
	}

	l.loadEnvironmentVariables(cfg)
	l.sources = append(l.sources, "environment")
	cfg.LoadedFrom = l.sources

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) loadFile(name string, cfg *Config) error {
	for ext, loader := range l.fileLoaders {
		path := filepath.Join(l.basePath, name+"."+ext)

		file, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		defer file.Close()

		if err := loader.Load(file, cfg); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		l.sources = append(l.sources, path)
		return nil
	}
	return os.ErrNotExist
}

// loadEnvironmentVariables overlays ENGRAM_* variables, the highest
// priority source.
func (l *Loader) loadEnvironmentVariables(cfg *Config) {
	if val := os.Getenv("ENGRAM_STORAGE_DRIVER"); val != "" {
		cfg.Storage.Driver = val
	}
	if val := os.Getenv("ENGRAM_TABLE_NAME"); val != "" {
		cfg.Storage.TableName = val
	}
	if val := os.Getenv("AWS_REGION"); val != "" {
		cfg.Storage.Region = val
	}
	if val := os.Getenv("ENGRAM_DYNAMODB_ENDPOINT"); val != "" {
		cfg.Storage.Endpoint = val
	}
	if val := os.Getenv("ENGRAM_INDEX_DIM"); val != "" {
		if dim := parseInt(val); dim > 0 {
			cfg.Index.Dim = dim
		}
	}
	if val := os.Getenv("ENGRAM_SESSION_POLICY"); val != "" {
		cfg.Conversation.SessionPolicy = val
	}
	if val := os.Getenv("ENGRAM_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("ENGRAM_METRICS_ENABLED"); val != "" {
		cfg.Metrics.Enabled = parseBool(val)
	}
	if val := os.Getenv("ENGRAM_TRACING_ENABLED"); val != "" {
		cfg.Tracing.Enabled = parseBool(val)
	}
	if val := os.Getenv("ENGRAM_TRACING_ENDPOINT"); val != "" {
		cfg.Tracing.Endpoint = val
	}
}

func (l *Loader) defaultConfig() *Config {
	return &Config{
		Environment: l.environment,
		Storage: Storage{
			Driver:         "memory",
			TableName:      "engram-" + strings.ToLower(string(l.environment)),
			Region:         "us-east-1",
			MaxRetries:     3,
			RetryBaseDelay: 100 * time.Millisecond,
			Timeout:        10 * time.Second,
		},
		Index: Index{
			Dim: 1536,
		},
		Extraction: Extraction{
			Workers:        4,
			QueueSize:      256,
			HandlerTimeout: 30 * time.Second,
		},
		Conversation: Conversation{
			SessionPolicy: "single_active",
			HistoryWindow: 10,
			TopK:          5,
		},
		Cache: Cache{
			ProfileTTL:  5 * time.Minute,
			ProfileSize: 10000,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "engram",
		},
		Tracing: Tracing{
			Enabled:     false,
			ServiceName: "engram-backend",
			SampleRate:  1.0,
		},
	}
}

// YAMLLoader loads configuration from YAML files.
type YAMLLoader struct{}

func (y *YAMLLoader) Load(reader io.Reader, target interface{}) error {
	return yaml.NewDecoder(reader).Decode(target)
}

func (y *YAMLLoader) Extension() string { return "yaml" }

// JSONLoader loads configuration from JSON files.
type JSONLoader struct{}

func (j *JSONLoader) Load(reader io.Reader, target interface{}) error {
	return json.NewDecoder(reader).Decode(target)
}

func (j *JSONLoader) Extension() string { return "json" }

// Load builds configuration for the current environment from the default
// location, honoring ENGRAM_CONFIG_DIR.
func Load() (*Config, error) {
	basePath := os.Getenv("ENGRAM_CONFIG_DIR")
	return NewLoader(basePath, getEnvironment()).Load()
}

// MustLoad loads configuration and panics on error. For use in main only.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func parseInt(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func parseBool(s string) bool {
	v, _ := strconv.ParseBool(s)
	return v
}
