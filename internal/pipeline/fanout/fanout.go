// Package fanout delivers one notification to every device of a user. A failing
// device never blocks the others, and devices the gateway reports as unregistered
// are removed in the background.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sethvargo/go-retry"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/push"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/metrics"
)

// ErrAllDevicesFailed is returned when a user has devices and none accepted the notification.
var ErrAllDevicesFailed = errors.New("notification failed for all devices")

// Result lists device IDs by delivery outcome.
type Result struct {
	Succeeded []string
	Failed    []string
}

// Config holds fan-out configuration.
type Config struct {
	SendTimeout     time.Duration `yaml:"send_timeout"     toml:"send_timeout"`     // default: 10s
	CacheSize       int           `yaml:"cache_size"       toml:"cache_size"`       // device lists cached per user (default: 1000)
	CacheTTL        time.Duration `yaml:"cache_ttl"        toml:"cache_ttl"`        // default: 30s
	CleanupAttempts uint64        `yaml:"cleanup_attempts" toml:"cleanup_attempts"` // default: 3
	CleanupBackoff  time.Duration `yaml:"cleanup_backoff"  toml:"cleanup_backoff"`  // default: 200ms
}

// DefaultConfig returns default fan-out configuration.
func DefaultConfig() Config {
	return Config{
		SendTimeout:     10 * time.Second,
		CacheSize:       1000,
		CacheTTL:        30 * time.Second,
		CleanupAttempts: 3,
		CleanupBackoff:  200 * time.Millisecond,
	}
}

// Fanout sends envelopes to all devices of a user.
type Fanout struct {
	devices storage.DeviceRepository
	gateway push.Gateway
	cfg     Config
	cache   *expirable.LRU[string, []*domain.Device]
	cleanup sync.WaitGroup
	log     *slog.Logger
}

// New creates a fan-out. Zero config fields fall back to defaults.
func New(devices storage.DeviceRepository, gateway push.Gateway, cfg Config) *Fanout {
	def := DefaultConfig()
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CleanupAttempts == 0 {
		cfg.CleanupAttempts = def.CleanupAttempts
	}
	if cfg.CleanupBackoff <= 0 {
		cfg.CleanupBackoff = def.CleanupBackoff
	}
	return &Fanout{
		devices: devices,
		gateway: gateway,
		cfg:     cfg,
		cache:   expirable.NewLRU[string, []*domain.Device](cfg.CacheSize, nil, cfg.CacheTTL),
		log:     slog.Default().With("component", "fanout"),
	}
}

// NotifyAll builds one envelope per device and sends them concurrently.
// Zero devices is a success with empty lists.
func (f *Fanout) NotifyAll(
	ctx context.Context,
	userID string,
	build func(domain.Device) domain.NotificationEnvelope,
) (Result, error) {
	devices, err := f.listDevices(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		f.log.Debug("User has no devices", "userId", userID)
		return Result{Succeeded: []string{}, Failed: []string{}}, nil
	}

	errs := make([]error, len(devices))
	var wg sync.WaitGroup
	for i, d := range devices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.send(ctx, d, build(*d))
		}()
	}
	wg.Wait()

	result := Result{Succeeded: []string{}, Failed: []string{}}
	for i, d := range devices {
		if errs[i] == nil {
			result.Succeeded = append(result.Succeeded, d.DeviceID)
			continue
		}
		result.Failed = append(result.Failed, d.DeviceID)
		f.log.Warn("Push failed", "userId", userID, "deviceId", d.DeviceID, "error", errs[i])

		if errors.Is(errs[i], push.ErrDeviceUnregistered) {
			f.scheduleCleanup(ctx, userID, d.DeviceID)
		}
	}

	if len(result.Succeeded) == 0 {
		return result, fmt.Errorf("%w: user %s, %d devices", ErrAllDevicesFailed, userID, len(devices))
	}
	return result, nil
}

func (f *Fanout) send(ctx context.Context, d *domain.Device, env domain.NotificationEnvelope) error {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.SendTimeout)
	defer cancel()

	err := f.gateway.Send(ctx, d, env)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Deliveries.WithLabelValues(string(env.Kind), result).Inc()
	return err
}

func (f *Fanout) listDevices(ctx context.Context, userID string) ([]*domain.Device, error) {
	if cached, ok := f.cache.Get(userID); ok {
		return cached, nil
	}
	devices, err := f.devices.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	f.cache.Add(userID, devices)
	return devices, nil
}

// Invalidate drops the cached device list of a user.
func (f *Fanout) Invalidate(userID string) {
	f.cache.Remove(userID)
}

// scheduleCleanup removes an unregistered device without holding up the caller.
// Errors are logged only.
func (f *Fanout) scheduleCleanup(ctx context.Context, userID, deviceID string) {
	f.Invalidate(userID)
	ctx = context.WithoutCancel(ctx)

	f.cleanup.Add(1)
	go func() {
		defer f.cleanup.Done()

		backoff := retry.WithMaxRetries(f.cfg.CleanupAttempts, retry.NewExponential(f.cfg.CleanupBackoff))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := f.devices.Delete(ctx, deviceID); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			metrics.DeviceCleanups.WithLabelValues("error").Inc()
			f.log.Error("Failed to remove unregistered device", "deviceId", deviceID, "error", err)
			return
		}
		metrics.DeviceCleanups.WithLabelValues("ok").Inc()
		f.log.Info("Removed unregistered device", "userId", userID, "deviceId", deviceID)
	}()
}

// Wait blocks until pending cleanups finish or ctx is done.
func (f *Fanout) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.cleanup.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
