// Package config loads pocketdb settings from YAML and environment variables
// and opens a database from them.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/asaidimu/go-pocketdb/core/persistence"
	"github.com/asaidimu/go-pocketdb/metrics"
	"github.com/asaidimu/go-pocketdb/sqlite"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Supported backends.
const (
	BackendJSON   = "json"
	BackendCBOR   = "cbor"
	BackendSQLite = "sqlite"
)

// Config holds everything needed to open a database.
type Config struct {
	Root     string        `yaml:"root" validate:"required"`
	Backend  string        `yaml:"backend" validate:"oneof=json cbor sqlite"`
	LogLevel string        `yaml:"logLevel" validate:"oneof=debug info warn error"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// MetricsConfig controls Prometheus collection.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace" validate:"required_if=Enabled true"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Root:     "./data",
		Backend:  BackendJSON,
		LogLevel: "info",
		Metrics:  MetricsConfig{Namespace: "pocketdb"},
	}
}

var validate = validator.New()

// Validate checks the configuration against its struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			msgs := make([]string, 0, len(fieldErrors))
			for _, e := range fieldErrors {
				msgs = append(msgs, formatFieldError(e))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())
	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// Load reads a YAML file over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if val := os.Getenv("POCKETDB_ROOT"); val != "" {
		c.Root = val
	}
	if val := os.Getenv("POCKETDB_BACKEND"); val != "" {
		c.Backend = val
	}
	if val := os.Getenv("POCKETDB_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("POCKETDB_METRICS"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid POCKETDB_METRICS value %q: %w", val, err)
		}
		c.Metrics.Enabled = enabled
	}
	return nil
}

// Logger builds a production logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "timestamp"
	return config.Build()
}

// Open validates cfg and opens a database with the configured backend. Extra
// options are applied after the configured ones. The returned collector is
// nil unless metrics are enabled.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, opts ...persistence.Option) (*persistence.Database, *metrics.Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	options := []persistence.Option{persistence.WithLogger(logger)}
	var backend persistence.Backend

	switch cfg.Backend {
	case BackendCBOR:
		codec, err := persistence.NewCBORCodec()
		if err != nil {
			return nil, nil, err
		}
		options = append(options, persistence.WithCodec(codec))
	case BackendSQLite:
		b, err := sqlite.Open(ctx, cfg.Root, logger)
		if err != nil {
			return nil, nil, err
		}
		backend = b
		options = append(options, persistence.WithBackend(b))
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
		options = append(options, persistence.WithMetrics(collector))
	}

	db, err := persistence.NewDatabase(cfg.Root, append(options, opts...)...)
	if err != nil {
		if backend != nil {
			backend.Close()
		}
		return nil, nil, err
	}
	logger.Info("Opened database",
		zap.String("root", cfg.Root),
		zap.String("backend", cfg.Backend),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)
	return db, collector, nil
}
