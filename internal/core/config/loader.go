package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage/sqlstore"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/idempotency"
)

// Load reads configuration from a YAML or TOML file, chosen by extension.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the file content
	expanded := os.ExpandEnv(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Queue.Downloads == "" {
		c.Queue.Downloads = "downloads"
	}
	if c.Queue.Notifications == "" {
		c.Queue.Notifications = "notifications"
	}
	if c.Queue.StreamMaxLen == 0 {
		c.Queue.StreamMaxLen = 100_000
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = 30 * time.Second
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = time.Hour
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = domain.DefaultMaxRetries
	}
	if c.Retry.ScheduledFloor == 0 {
		c.Retry.ScheduledFloor = 15 * time.Minute
	}
	if c.Retry.ScheduledMaxRetries == 0 {
		c.Retry.ScheduledMaxRetries = 24
	}
	if c.Idempotency.CacheSize == 0 {
		c.Idempotency.CacheSize = 10_000
	}
	if c.Idempotency.Retention == 0 {
		c.Idempotency.Retention = idempotency.DefaultConfig().Retention
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data/media"
	}
	if c.Cleanup.Interval == 0 {
		c.Cleanup.Interval = time.Hour
	}
}

// Validate reports every problem at once.
func (c *AppConfig) Validate() error {
	var errs error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("grpc.port %d out of range", c.GRPC.Port))
	}
	if c.GRPC.Port != 0 && c.GRPC.Port == c.Server.Port {
		errs = multierr.Append(errs, fmt.Errorf("grpc.port must differ from server.port"))
	}
	switch c.Database.Driver {
	case "", sqlstore.DriverPgx, sqlstore.DriverPQ, sqlstore.DriverSQLite:
	default:
		errs = multierr.Append(errs, fmt.Errorf("database.driver %q is not one of pgx, postgres, sqlite", c.Database.Driver))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = multierr.Append(errs, fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format))
	}
	if c.Queue.Downloads == c.Queue.Notifications {
		errs = multierr.Append(errs, fmt.Errorf("queue.downloads and queue.notifications must differ"))
	}
	if c.Queue.Consumer.MaxReceives < 0 {
		errs = multierr.Append(errs, fmt.Errorf("queue.consumer.max_receives must not be negative"))
	}
	if c.Retry.MaxRetries < 1 {
		errs = multierr.Append(errs, fmt.Errorf("retry.max_retries must be at least 1"))
	}
	if c.Retry.ScheduledMaxRetries < c.Retry.MaxRetries {
		errs = multierr.Append(errs, fmt.Errorf("retry.scheduled_max_retries must be at least retry.max_retries"))
	}
	if c.Retry.InitialDelay > c.Retry.MaxDelay {
		errs = multierr.Append(errs, fmt.Errorf("retry.initial_delay exceeds retry.max_delay"))
	}
	if c.Cleanup.Retention < 0 {
		errs = multierr.Append(errs, fmt.Errorf("cleanup.retention must not be negative"))
	}
	return errs
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", level)
	}
}
