package control

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/config"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/queue"
	redisclient "github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/redis"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage/memory"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage/sqlstore"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/emitter"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/idempotency"
)

// Repositories groups the storage backends chosen by configuration.
type Repositories struct {
	Jobs      storage.JobRepository
	Media     storage.MediaRepository
	Interests storage.InterestRepository
	Devices   storage.DeviceRepository

	// DB is nil in memory mode.
	DB *sqlstore.DB
}

// OpenRepositories connects to the configured database, or falls back to
// in-memory storage when no URL is set. Migrations run when migrate is true.
func OpenRepositories(ctx context.Context, cfg sqlstore.Config, migrate bool) (*Repositories, error) {
	if cfg.URL == "" {
		store := memory.NewMemoryStorage()
		slog.Info("Using Memory storage")
		return &Repositories{
			Jobs:      memory.NewJobRepo(store),
			Media:     memory.NewMediaRepo(store),
			Interests: memory.NewInterestRepo(store),
			Devices:   memory.NewDeviceRepo(store),
		}, nil
	}

	db, err := sqlstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if migrate {
		if err := sqlstore.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	slog.Info("Using SQL storage", "driver", db.Driver())
	return &Repositories{
		Jobs:      sqlstore.NewJobRepo(db),
		Media:     sqlstore.NewMediaRepo(db),
		Interests: sqlstore.NewInterestRepo(db),
		Devices:   sqlstore.NewDeviceRepo(db),
		DB:        db,
	}, nil
}

// Close releases the database connection, if any.
func (r *Repositories) Close() error {
	if r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Backends groups the queues, guard store and event stream. With no Redis
// URL everything lives in process, which only suits a single instance.
type Backends struct {
	Downloads     queue.Queue
	Notifications queue.Queue
	Idempotency   idempotency.Store

	// Stream and Redis are nil in process mode.
	Stream emitter.Publisher
	Redis  *redisclient.Client
}

// OpenBackends connects to Redis or builds the in-process equivalents.
func OpenBackends(cfg *config.AppConfig) (*Backends, error) {
	if cfg.Redis.URL == "" {
		slog.Info("Using in-process queues")
		return &Backends{
			Downloads:     queue.NewMemoryQueue(cfg.Queue.Downloads),
			Notifications: queue.NewMemoryQueue(cfg.Queue.Notifications),
			Idempotency:   idempotency.NewMemoryStore(cfg.Idempotency.CacheSize, cfg.Idempotency.Retention),
		}, nil
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		return nil, err
	}
	slog.Info("Using Redis queues", "downloads", cfg.Queue.Downloads, "notifications", cfg.Queue.Notifications)
	return &Backends{
		Downloads:     redisclient.NewQueue(client, cfg.Queue.Downloads),
		Notifications: redisclient.NewQueue(client, cfg.Queue.Notifications),
		Idempotency:   redisclient.NewIdempotencyStore(client),
		Stream:        redisclient.NewStreamPublisher(client, cfg.Queue.StreamMaxLen),
		Redis:         client,
	}, nil
}

// Close releases the Redis connection, if any.
func (b *Backends) Close() error {
	if b.Redis == nil {
		return nil
	}
	return b.Redis.Close()
}

func closeAll(closers ...interface{ Close() error }) error {
	var errs error
	for _, c := range closers {
		errs = multierr.Append(errs, c.Close())
	}
	return errs
}
