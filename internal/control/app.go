package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/api"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/config"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/worker"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/health"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/fetcher"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/objectstore"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/push"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/queue"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/classify"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/consumer"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/emitter"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/fanout"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/idempotency"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/ingest"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/notify"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/orchestrator"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/recovery"
)

// App wires the pipeline together and manages its lifecycle.
type App struct {
	cfg       *config.AppConfig
	repos     *Repositories
	backends  *Backends
	fanout    *fanout.Fanout
	consumers []*consumer.Consumer
	pruner    *worker.Pruner
	monitor   *health.Monitor
	handler   http.Handler
	server    *http.Server
	grpc      *health.GRPCServer
	log       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	fetcher orchestrator.MediaFetcher
	gateway push.Gateway
	alerter orchestrator.Alerter
}

// WithFetcher replaces the yt-dlp fetcher.
func WithFetcher(f orchestrator.MediaFetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithGateway replaces the configured push gateway.
func WithGateway(g push.Gateway) Option {
	return func(o *options) { o.gateway = g }
}

// WithAlerter replaces the log alerter.
func WithAlerter(a orchestrator.Alerter) Option {
	return func(o *options) { o.alerter = a }
}

// NewApp creates the application with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// 1. Storage
	repos, err := OpenRepositories(ctx, cfg.Database, true)
	if err != nil {
		return nil, err
	}

	// 2. Queues, guard store and event stream
	backends, err := OpenBackends(cfg)
	if err != nil {
		_ = repos.Close()
		return nil, err
	}

	store, err := objectstore.New(cfg.Storage)
	if err != nil {
		_ = closeAll(backends, repos)
		return nil, err
	}

	// 3. Retry policy
	backoff := &recovery.ExponentialBackoff{
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		MaxAttempts:  cfg.Retry.MaxRetries,
	}
	classifier := classify.New(classify.Config{
		Strategy:            backoff,
		ScheduledFloor:      cfg.Retry.ScheduledFloor,
		DefaultMaxRetries:   cfg.Retry.MaxRetries,
		ScheduledMaxRetries: cfg.Retry.ScheduledMaxRetries,
	})
	scheduler := recovery.NewScheduler(repos.Jobs, backoff, time.Now)

	// 4. Events and notifications
	publisher := emitter.Multi{emitter.NewLogPublisher()}
	if backends.Stream != nil {
		publisher = append(publisher, backends.Stream)
	}
	publisher = append(publisher, emitter.NewQueueRouter(backends.Downloads))

	gateway := o.gateway
	if gateway == nil {
		gateway = push.New(cfg.Push)
	}
	fan := fanout.New(repos.Devices, gateway, cfg.Fanout)
	dispatcher := notify.NewDispatcher(repos.Interests, backends.Notifications)

	// 5. Pipeline stages
	guard := idempotency.New(backends.Idempotency, cfg.Idempotency.Config)
	ingestor := ingest.New(ingest.Deps{
		Jobs:      repos.Jobs,
		Media:     repos.Media,
		Interests: repos.Interests,
		Publisher: publisher,
		Notifier:  dispatcher,
		Guard:     guard,
	}, cfg.Ingest)

	mediaFetcher := o.fetcher
	if mediaFetcher == nil {
		mediaFetcher = fetcher.New(cfg.Fetcher, store)
	}
	alerter := o.alerter
	if alerter == nil {
		alerter = orchestrator.NewLogAlerter()
	}
	orch := orchestrator.New(orchestrator.Deps{
		Jobs:       repos.Jobs,
		Media:      repos.Media,
		Fetcher:    mediaFetcher,
		Classifier: classifier,
		Scheduler:  scheduler,
		Publisher:  publisher,
		Notifier:   dispatcher,
		Alerter:    alerter,
	}, cfg.Orchestrator)

	// 6. Consumers
	attempt := attemptBudget(cfg.Orchestrator)
	downloadCfg := cfg.Queue.Consumer
	if downloadCfg.Visibility < attempt+time.Minute {
		// a message must stay hidden for as long as one attempt can run
		downloadCfg.Visibility = attempt + time.Minute
	}
	downloads := consumer.New(
		backends.Downloads,
		consumer.Chain(orch.HandleMessage,
			consumer.WithRecover(),
			consumer.WithLogging(slog.Default().With("queue", backends.Downloads.Name())),
			consumer.WithMetrics(backends.Downloads.Name()),
			consumer.WithTimeout(attempt),
		),
		downloadCfg,
		consumer.WithPartitionKey(downloadKey),
	)
	notifications := consumer.New(
		backends.Notifications,
		consumer.Chain(notify.NewHandler(fan).Handle,
			consumer.WithRecover(),
			consumer.WithLogging(slog.Default().With("queue", backends.Notifications.Name())),
			consumer.WithMetrics(backends.Notifications.Name()),
		),
		cfg.Queue.Consumer,
		consumer.WithPartitionKey(recipientKey),
	)

	// 7. Health
	monitor := health.NewMonitor(repos.Jobs, cfg.Health)
	if repos.DB != nil {
		monitor.AddProbe("database", true, repos.DB.Health)
	}
	if backends.Redis != nil {
		monitor.AddProbe("redis", true, backends.Redis.Ping)
	}
	monitor.AddProbe("objectstore", false, func(context.Context) error { return store.Writable() })
	monitor.WatchQueue(backends.Downloads)
	monitor.WatchQueue(backends.Notifications)

	var grpcServer *health.GRPCServer
	if cfg.GRPC.Port != 0 {
		grpcServer = health.NewGRPCServer(monitor, cfg.GRPC.Port, cfg.GRPC.SyncInterval)
	}

	// 8. HTTP
	handler := (&api.Handler{
		Ingest:  ingestor,
		Devices: repos.Devices,
		Media:   repos.Media,
		Jobs:    repos.Jobs,
		Cache:   fan,
		Signer:  api.NewSigner(cfg.Server.WebhookSecret, cfg.Server.SignatureSkew),
		Health:  health.NewServer(monitor).Handler(),
	}).Router()

	return &App{
		cfg:       cfg,
		repos:     repos,
		backends:  backends,
		fanout:    fan,
		consumers: []*consumer.Consumer{downloads, notifications},
		pruner:    worker.NewPruner(cfg.Cleanup.Retention, cfg.Cleanup.Interval, repos.Jobs),
		monitor:   monitor,
		handler:   handler,
		server:    api.NewServer(cfg.Server, handler),
		grpc:      grpcServer,
		log:       slog.Default(),
	}, nil
}

// Handler returns the HTTP handler served by the app.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Repositories returns the storage backends.
func (a *App) Repositories() *Repositories {
	return a.repos
}

// Start starts every component in the background.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// Start HTTP Server
	go func() {
		a.log.Info("HTTP server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("HTTP server failed", "error", err)
		}
	}()

	// Start gRPC Health
	if a.grpc != nil {
		go func() {
			if err := a.grpc.Start(); err != nil {
				a.log.Error("gRPC health server failed", "error", err)
			}
		}()
		go a.grpc.Sync(ctx)
	}

	// Start DB Metrics Collector
	if a.repos.DB != nil {
		a.repos.DB.StartMetricsCollector(ctx)
	}

	// Start Consumers
	for _, c := range a.consumers {
		a.wg.Add(1)
		go func(c *consumer.Consumer) {
			defer a.wg.Done()
			if err := c.Run(ctx); err != nil {
				a.log.Error("Consumer failed", "error", err)
			}
		}(c)
	}

	// Start Pruner
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.pruner.Start(ctx)
	}()

	return nil
}

// Stop drains in-flight work and releases connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping pipeline...")

	var errs error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if a.grpc != nil {
		a.grpc.Stop()
	}

	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("workers did not stop: %w", ctx.Err()))
	}

	if err := a.fanout.Wait(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("device cleanup: %w", err))
	}
	return multierr.Append(errs, closeAll(a.backends, a.repos))
}

func attemptBudget(cfg orchestrator.Config) time.Duration {
	fetch, transfer := cfg.FetchTimeout, cfg.TransferTimeout
	if fetch <= 0 {
		fetch = 2 * time.Minute
	}
	if transfer <= 0 {
		transfer = 30 * time.Minute
	}
	return fetch + transfer
}

func downloadKey(msg queue.Message) string {
	var m domain.DownloadMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		return msg.ID
	}
	return m.ResourceID
}

func recipientKey(msg queue.Message) string {
	var m domain.NotificationMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		return msg.ID
	}
	return m.RecipientID
}
