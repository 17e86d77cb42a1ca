package config

import (
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/api"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/health"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/fetcher"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/objectstore"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/push"
	redisclient "github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/redis"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage/sqlstore"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/consumer"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/fanout"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/idempotency"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/ingest"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/orchestrator"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       api.Config          `yaml:"server"       toml:"server"`
	GRPC         GRPCConfig          `yaml:"grpc"         toml:"grpc"`
	Health       health.Thresholds   `yaml:"health"       toml:"health"`
	Redis        redisclient.Config  `yaml:"redis"        toml:"redis"`    // empty url = in-process queues and guard
	Database     sqlstore.Config     `yaml:"database"     toml:"database"` // empty url = in-memory storage
	Logging      LoggingConfig       `yaml:"logging"      toml:"logging"`
	Queue        QueueConfig         `yaml:"queue"        toml:"queue"`
	Retry        RetryConfig         `yaml:"retry"        toml:"retry"`
	Idempotency  IdempotencyConfig   `yaml:"idempotency"  toml:"idempotency"`
	Storage      objectstore.Config  `yaml:"storage"      toml:"storage"`
	Fetcher      fetcher.Config      `yaml:"fetcher"      toml:"fetcher"`
	Orchestrator orchestrator.Config `yaml:"orchestrator" toml:"orchestrator"`
	Ingest       ingest.Config       `yaml:"ingest"       toml:"ingest"`
	Push         push.Config         `yaml:"push"         toml:"push"`
	Fanout       fanout.Config       `yaml:"fanout"       toml:"fanout"`
	Cleanup      CleanupConfig       `yaml:"cleanup"      toml:"cleanup"`
}

// GRPCConfig holds the gRPC health server settings.
type GRPCConfig struct {
	Port         int           `yaml:"port"          toml:"port"` // 0 = disabled
	SyncInterval time.Duration `yaml:"sync_interval" toml:"sync_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"  toml:"level"`  // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, text
}

// QueueConfig names the queues and tunes their consumers.
type QueueConfig struct {
	Downloads     string          `yaml:"downloads"      toml:"downloads"`
	Notifications string          `yaml:"notifications"  toml:"notifications"`
	StreamMaxLen  int64           `yaml:"stream_max_len" toml:"stream_max_len"` // Redis event stream cap
	Consumer      consumer.Config `yaml:"consumer"       toml:"consumer"`
}

// RetryConfig holds the classifier and scheduler policy.
type RetryConfig struct {
	InitialDelay        time.Duration `yaml:"initial_delay"         toml:"initial_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"             toml:"max_delay"`
	MaxRetries          int           `yaml:"max_retries"           toml:"max_retries"`
	ScheduledFloor      time.Duration `yaml:"scheduled_floor"       toml:"scheduled_floor"`
	ScheduledMaxRetries int           `yaml:"scheduled_max_retries" toml:"scheduled_max_retries"`
}

// IdempotencyConfig holds guard timings and the in-process cache size.
type IdempotencyConfig struct {
	idempotency.Config `yaml:",inline"`
	CacheSize          int `yaml:"cache_size" toml:"cache_size"`
}

// CleanupConfig holds the retention policy for terminal jobs.
type CleanupConfig struct {
	Retention time.Duration `yaml:"retention" toml:"retention"` // 0 = keep forever
	Interval  time.Duration `yaml:"interval"  toml:"interval"`
}
