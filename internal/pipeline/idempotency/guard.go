// Package idempotency guarantees that a keyed operation with side effects runs at
// most once per retention window, even when the same request arrives concurrently.
//
// The guard fails open: when its store is unreachable the operation runs unguarded
// and the condition is logged and counted. Downstream conditional writes keep the
// duplicate harmless.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/metrics"
)

// ErrInFlight is returned when another caller holds the key past the wait timeout.
var ErrInFlight = errors.New("idempotent operation already in flight")

// Store persists in-flight markers and completed results.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Complete(ctx context.Context, key string, result []byte, retention time.Duration) error
	Release(ctx context.Context, key string) error
}

// Config holds guard timings.
type Config struct {
	LockTTL      time.Duration `yaml:"lock_ttl"      toml:"lock_ttl"`      // in-flight marker lifetime (default: 60s)
	Retention    time.Duration `yaml:"retention"     toml:"retention"`     // completed result lifetime (default: 1h)
	WaitTimeout  time.Duration `yaml:"wait_timeout"  toml:"wait_timeout"`  // how long duplicates wait (default: 5s)
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"` // default: 100ms
}

// DefaultConfig returns default guard timings.
func DefaultConfig() Config {
	return Config{
		LockTTL:      60 * time.Second,
		Retention:    time.Hour,
		WaitTimeout:  5 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

// Guard wraps a Store with the run-once protocol.
type Guard struct {
	store Store
	cfg   Config
	log   *slog.Logger
}

// New creates a guard. Zero config fields fall back to defaults.
func New(store Store, cfg Config) *Guard {
	def := DefaultConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Guard{
		store: store,
		cfg:   cfg,
		log:   slog.Default().With("component", "idempotency"),
	}
}

// Run executes fn at most once for key and returns the stored result to
// later callers. Errors from fn are returned to the caller and not cached.
func Run[T any](ctx context.Context, g *Guard, key string, fn func(context.Context) (T, error)) (T, error) {
	if g == nil || g.store == nil {
		return fn(ctx)
	}

	deadline := time.Now().Add(g.cfg.WaitTimeout)
	for {
		raw, found, err := g.store.Get(ctx, key)
		if err != nil {
			return failOpen(ctx, g, key, "get", err, fn)
		}
		if found {
			var cached T
			if err := json.Unmarshal(raw, &cached); err == nil {
				metrics.IdempotencyResults.WithLabelValues("hit").Inc()
				return cached, nil
			}
			g.log.Warn("Discarding unreadable cached result", "key", key)
		}

		acquired, err := g.store.Acquire(ctx, key, g.cfg.LockTTL)
		if err != nil {
			return failOpen(ctx, g, key, "acquire", err, fn)
		}
		if acquired {
			// a caller that completed between our Get and Acquire has already
			// dropped its marker, so look for its result once more
			if cached, ok := lookup[T](ctx, g, key); ok {
				if err := g.store.Release(context.WithoutCancel(ctx), key); err != nil {
					g.log.Warn("Failed to release idempotency marker", "key", key, "error", err)
				}
				metrics.IdempotencyResults.WithLabelValues("hit").Inc()
				return cached, nil
			}
			return execute(ctx, g, key, fn)
		}

		if time.Now().After(deadline) {
			metrics.IdempotencyResults.WithLabelValues("in_flight").Inc()
			var zero T
			return zero, fmt.Errorf("%w: %s", ErrInFlight, key)
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(g.cfg.PollInterval):
		}
	}
}

// lookup reports a readable stored result for key. Store errors count as a miss;
// the caller already holds the marker and runs fn.
func lookup[T any](ctx context.Context, g *Guard, key string) (T, bool) {
	var cached T
	raw, found, err := g.store.Get(ctx, key)
	if err != nil || !found {
		return cached, false
	}
	if err := json.Unmarshal(raw, &cached); err != nil {
		return cached, false
	}
	return cached, true
}

func execute[T any](ctx context.Context, g *Guard, key string, fn func(context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	if err != nil {
		// release on a detached context so a cancelled caller still frees the key
		if relErr := g.store.Release(context.WithoutCancel(ctx), key); relErr != nil {
			g.log.Warn("Failed to release idempotency marker", "key", key, "error", relErr)
		}
		metrics.IdempotencyResults.WithLabelValues("error").Inc()
		return result, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		g.log.Warn("Failed to encode idempotent result", "key", key, "error", err)
		_ = g.store.Release(context.WithoutCancel(ctx), key)
	} else if err := g.store.Complete(context.WithoutCancel(ctx), key, raw, g.cfg.Retention); err != nil {
		g.log.Warn("Failed to store idempotent result", "key", key, "error", err)
	}
	metrics.IdempotencyResults.WithLabelValues("executed").Inc()
	return result, nil
}

func failOpen[T any](ctx context.Context, g *Guard, key, op string, cause error, fn func(context.Context) (T, error)) (T, error) {
	g.log.Warn("Idempotency store unavailable, running unguarded", "key", key, "op", op, "error", cause)
	metrics.IdempotencyResults.WithLabelValues("fail_open").Inc()
	return fn(ctx)
}
