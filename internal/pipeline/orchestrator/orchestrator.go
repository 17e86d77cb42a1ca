// Package orchestrator runs one download attempt per queue message and moves
// the job through Pending, InProgress, Scheduled, Completed and Failed.
//
// Every step is safe to repeat. A redelivered message for a terminal job does
// nothing, and a crash after the media record became available converges to
// Completed without a second transfer.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/jobstate"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/queue"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/classify"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/consumer"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/emitter"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/metrics"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/recovery"
)

// MediaFetcher reads metadata and stores the media bytes.
type MediaFetcher interface {
	FetchInfo(ctx context.Context, sourceURL string) domain.FetchResult
	Transfer(ctx context.Context, info *domain.MediaInfo) (*domain.StoredObject, error)
}

// Notifier dispatches notifications to users interested in a resource.
type Notifier interface {
	NotifyInterested(ctx context.Context, resourceID string, kind domain.NotificationKind, payload any, correlationID string) error
}

// Alerter raises failures that need a human.
type Alerter interface {
	Alert(ctx context.Context, job *domain.DownloadJob, c domain.Classification, cause error)
}

// Config holds orchestrator timeouts.
type Config struct {
	FetchTimeout    time.Duration `yaml:"fetch_timeout"    toml:"fetch_timeout"`    // default: 2m
	TransferTimeout time.Duration `yaml:"transfer_timeout" toml:"transfer_timeout"` // default: 30m
}

// Orchestrator drives download attempts.
type Orchestrator struct {
	jobs       storage.JobRepository
	media      storage.MediaRepository
	fetcher    MediaFetcher
	classifier *classify.Classifier
	scheduler  recovery.JobScheduler
	publisher  emitter.Publisher
	notifier   Notifier
	alerter    Alerter
	cfg        Config
	now        func() time.Time
	log        *slog.Logger
}

// Deps groups the orchestrator's collaborators.
type Deps struct {
	Jobs       storage.JobRepository
	Media      storage.MediaRepository
	Fetcher    MediaFetcher
	Classifier *classify.Classifier
	Scheduler  recovery.JobScheduler
	Publisher  emitter.Publisher
	Notifier   Notifier
	Alerter    Alerter
	Now        func() time.Time
}

// New creates an orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 2 * time.Minute
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 30 * time.Minute
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = classify.New(classify.DefaultConfig())
	}
	scheduler := deps.Scheduler
	if scheduler == nil {
		scheduler = recovery.NewScheduler(deps.Jobs, nil, now)
	}
	alerter := deps.Alerter
	if alerter == nil {
		alerter = NewLogAlerter()
	}
	return &Orchestrator{
		jobs:       deps.Jobs,
		media:      deps.Media,
		fetcher:    deps.Fetcher,
		classifier: classifier,
		scheduler:  scheduler,
		publisher:  deps.Publisher,
		notifier:   deps.Notifier,
		alerter:    alerter,
		cfg:        cfg,
		now:        now,
		log:        slog.Default().With("component", "orchestrator"),
	}
}

// HandleMessage decodes a download queue message and runs one attempt.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg queue.Message) error {
	var m domain.DownloadMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		return fmt.Errorf("failed to decode download message: %w", err)
	}
	if m.ResourceID == "" {
		return fmt.Errorf("download message %s has no resource id", msg.ID)
	}
	m.Attempt = msg.Attempt
	return o.Process(ctx, m)
}

// Process runs one attempt for the job named by the message.
func (o *Orchestrator) Process(ctx context.Context, m domain.DownloadMessage) error {
	log := o.log.With("resourceId", m.ResourceID, "correlationId", m.CorrelationID)

	// 1. prior state
	job, err := o.jobs.Get(ctx, m.ResourceID)
	switch {
	case errors.Is(err, storage.ErrJobNotFound):
		job = domain.NewPendingJob(m.ResourceID, m.SourceURL, m.CorrelationID, o.now())
	case err != nil:
		return fmt.Errorf("failed to read job: %w", err)
	}
	if job.SourceURL == "" {
		job.SourceURL = m.SourceURL
	}
	if job.CorrelationID == "" {
		job.CorrelationID = m.CorrelationID
	}

	if job.Status.IsTerminal() {
		log.Info("Job already terminal, skipping", "status", job.Status)
		metrics.JobOutcomes.WithLabelValues("replay").Inc()
		return nil
	}
	if job.Status == domain.JobStatusScheduled && job.RetryAfter != nil && o.now().Before(*job.RetryAfter) {
		log.Debug("Redelivered before retry time", "retryAfter", job.RetryAfter)
		return &consumer.RetryLaterError{Until: *job.RetryAfter, Reason: "scheduled retry not due"}
	}
	if err := jobstate.Check(job.Status, domain.JobStatusInProgress); err != nil {
		return err
	}

	// 2. in progress
	if err := o.jobs.Update(ctx, job.ResourceID, domain.JobUpdate{
		Status:        domain.JobStatusInProgress,
		SourceURL:     job.SourceURL,
		CorrelationID: job.CorrelationID,
	}); err != nil {
		if errors.Is(err, storage.ErrJobTerminal) {
			log.Info("Job became terminal concurrently, skipping")
			return nil
		}
		return fmt.Errorf("failed to mark job in progress: %w", err)
	}
	job.Status = domain.JobStatusInProgress

	// a previous attempt may have stored the file before crashing
	if record, err := o.media.Get(ctx, job.ResourceID); err == nil && record.Status == domain.MediaStatusAvailable {
		log.Info("Media already available, completing job")
		return o.complete(ctx, job, record)
	}

	// 3. metadata
	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	result := o.fetcher.FetchInfo(fetchCtx, job.SourceURL)
	cancel()
	if !result.Success {
		hints := classify.Hints{Now: o.now()}
		if result.Info != nil {
			hints.ReleaseAt = result.Info.ReleaseAt
		}
		// 4 / 5
		return o.fail(ctx, job, result.Err, hints)
	}
	info := result.Info
	if info.ResourceID == "" {
		info.ResourceID = job.ResourceID
	}

	// 6. best effort early notification
	if err := o.notify(ctx, job, domain.NotificationMetadataReady, domain.MetadataReadyPayload{
		ResourceID: job.ResourceID,
		Metadata:   info.Metadata,
	}); err != nil {
		log.Warn("Failed to dispatch metadata notification", "error", err)
	}

	// 7. transfer
	transferCtx, cancel := context.WithTimeout(ctx, o.cfg.TransferTimeout)
	obj, err := o.fetcher.Transfer(transferCtx, info)
	cancel()
	if err != nil {
		return o.fail(ctx, job, err, classify.Hints{Now: o.now()})
	}
	metrics.TransferBytes.Add(float64(obj.Size))

	// 8. record, events, job
	record := &domain.MediaRecord{
		ResourceID: job.ResourceID,
		Status:     domain.MediaStatusAvailable,
		Size:       obj.Size,
		Location:   obj.Location,
		SourceURL:  job.SourceURL,
		Metadata:   info.Metadata,
	}
	if err := o.media.MarkAvailable(ctx, record); err != nil {
		return fmt.Errorf("failed to mark media available: %w", err)
	}
	return o.complete(ctx, job, record)
}

// complete emits the completion side effects and then closes the job. The
// terminal write goes last so a crash in between repeats the side effects
// instead of losing them.
func (o *Orchestrator) complete(ctx context.Context, job *domain.DownloadJob, record *domain.MediaRecord) error {
	if err := jobstate.Check(job.Status, domain.JobStatusCompleted); err != nil {
		return err
	}

	if err := o.publisher.Publish(ctx, domain.DownloadCompleted{
		ResourceID:    job.ResourceID,
		CorrelationID: job.CorrelationID,
		Location:      record.Location,
		Size:          record.Size,
		CompletedAt:   o.now(),
	}); err != nil {
		return fmt.Errorf("failed to publish completion: %w", err)
	}

	if err := o.notify(ctx, job, domain.NotificationDownloadReady, domain.DownloadReadyPayload{
		ResourceID: job.ResourceID,
		Location:   record.Location,
		Size:       record.Size,
		Metadata:   record.Metadata,
	}); err != nil {
		return fmt.Errorf("failed to dispatch download notification: %w", err)
	}

	if err := o.jobs.Update(ctx, job.ResourceID, domain.JobUpdate{
		Status:     domain.JobStatusCompleted,
		ClearRetry: true,
	}); err != nil && !errors.Is(err, storage.ErrJobTerminal) {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	metrics.JobOutcomes.WithLabelValues("completed").Inc()
	o.log.Info("Download completed",
		"resourceId", job.ResourceID,
		"correlationId", job.CorrelationID,
		"size", record.Size,
		"location", record.Location,
	)
	return nil
}

// fail classifies the error and either schedules another attempt or closes the job.
func (o *Orchestrator) fail(ctx context.Context, job *domain.DownloadJob, cause error, hints classify.Hints) error {
	log := o.log.With("resourceId", job.ResourceID, "correlationId", job.CorrelationID)
	if cause == nil {
		cause = errors.New("fetch failed without error detail")
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		// shutdown, not a provider failure: leave the job in progress for redelivery
		log.Info("Attempt interrupted, leaving job for redelivery", "error", cause)
		metrics.JobOutcomes.WithLabelValues("interrupted").Inc()
		return fmt.Errorf("attempt interrupted: %w", ctx.Err())
	}

	c := o.classifier.Classify(cause, hints, job.RetryCount)
	metrics.Classifications.WithLabelValues(string(c.Category), fmt.Sprint(c.Retryable)).Inc()

	out, err := o.scheduler.Apply(ctx, job, c, cause)
	if err != nil {
		if errors.Is(err, storage.ErrJobTerminal) {
			log.Info("Job became terminal concurrently, dropping failure")
			return nil
		}
		return err
	}

	if err := o.publisher.Publish(ctx, domain.DownloadFailed{
		ResourceID:    job.ResourceID,
		CorrelationID: job.CorrelationID,
		ErrorCategory: c.Category,
		ErrorMessage:  cause.Error(),
		Retryable:     out.Scheduled(),
		RetryCount:    out.RetryCount,
		FailedAt:      o.now(),
	}); err != nil {
		log.Warn("Failed to publish failure event", "error", err)
	}

	if out.Scheduled() {
		metrics.JobOutcomes.WithLabelValues("scheduled").Inc()
		return &consumer.RetryLaterError{Until: out.RetryAt, Reason: c.Reason}
	}

	metrics.JobOutcomes.WithLabelValues("failed").Inc()
	// the job status is authoritative, so the record update is best effort
	if err := o.media.MarkUnavailable(ctx, job.ResourceID); err != nil {
		log.Warn("Failed to mark media unavailable", "error", err)
	}
	if c.NeedsAlert() {
		o.alerter.Alert(ctx, job, c, cause)
	}
	if err := o.notify(ctx, job, domain.NotificationFailure, domain.FailurePayload{
		ResourceID:    job.ResourceID,
		ErrorCategory: c.Category,
		Message:       c.Reason,
	}); err != nil {
		log.Warn("Failed to dispatch failure notification", "error", err)
	}
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, job *domain.DownloadJob, kind domain.NotificationKind, payload any) error {
	if o.notifier == nil {
		return nil
	}
	return o.notifier.NotifyInterested(ctx, job.ResourceID, kind, payload, job.CorrelationID)
}

// LogAlerter logs alerts at error level and counts them.
type LogAlerter struct {
	log *slog.Logger
}

// NewLogAlerter creates the default alerter.
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{log: slog.Default().With("component", "alerts")}
}

func (a *LogAlerter) Alert(ctx context.Context, job *domain.DownloadJob, c domain.Classification, cause error) {
	metrics.Alerts.WithLabelValues(string(c.Category)).Inc()
	a.log.Error("Download needs attention",
		"resourceId", job.ResourceID,
		"correlationId", job.CorrelationID,
		"sourceUrl", job.SourceURL,
		"category", c.Category,
		"reason", c.Reason,
		"error", cause,
	)
}
