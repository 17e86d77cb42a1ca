// Package ingest turns inbound download webhooks into jobs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/emitter"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/idempotency"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/metrics"
)

// ErrInvalidRequest wraps every input problem the caller can fix.
var ErrInvalidRequest = errors.New("invalid download request")

// Result statuses reported to the webhook caller.
const (
	StatusQueued    = "queued"
	StatusAvailable = "available"
)

// Request is one inbound webhook.
type Request struct {
	URL           string `json:"url"`
	UserID        string `json:"userId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// Result is what the caller gets back, and what duplicates replay.
type Result struct {
	ResourceID    string `json:"resourceId"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlationId"`
}

// Notifier delivers a notification to one user.
type Notifier interface {
	NotifyUser(ctx context.Context, userID string, kind domain.NotificationKind, payload any, correlationID string) error
}

// Config holds ingest policy.
type Config struct {
	// StalePending is how long a Pending job may sit untouched before a new
	// webhook publishes its request again. Zero uses the default (10m).
	StalePending time.Duration `yaml:"stale_pending" toml:"stale_pending"`
}

// Deps are the collaborators of the service.
type Deps struct {
	Jobs      storage.JobRepository
	Media     storage.MediaRepository
	Interests storage.InterestRepository
	Publisher emitter.Publisher
	Notifier  Notifier
	Guard     *idempotency.Guard
	Now       func() time.Time
}

// Service accepts webhooks.
type Service struct {
	jobs      storage.JobRepository
	media     storage.MediaRepository
	interests storage.InterestRepository
	publisher emitter.Publisher
	notifier  Notifier
	guard     *idempotency.Guard
	now       func() time.Time
	cfg       Config
	log       *slog.Logger
}

// New creates the ingest service.
func New(deps Deps, cfg Config) *Service {
	if cfg.StalePending <= 0 {
		cfg.StalePending = 10 * time.Minute
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		jobs:      deps.Jobs,
		media:     deps.Media,
		interests: deps.Interests,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		guard:     deps.Guard,
		now:       now,
		cfg:       cfg,
		log:       slog.Default().With("component", "ingest"),
	}
}

// Accept registers the caller's interest in the resource and makes sure a job
// exists for it. Repeating the same webhook is harmless: the guard replays the
// first result, and every write below it is conditional.
func (s *Service) Accept(ctx context.Context, req Request) (Result, error) {
	req.URL = strings.TrimSpace(req.URL)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.URL == "" || req.UserID == "" {
		metrics.WebhooksReceived.WithLabelValues("invalid").Inc()
		return Result{}, fmt.Errorf("%w: url and userId are required", ErrInvalidRequest)
	}
	resourceID, err := ResourceID(req.URL)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("invalid").Inc()
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	key := "webhook:" + resourceID + ":" + req.UserID
	res, err := idempotency.Run(ctx, s.guard, key, func(ctx context.Context) (Result, error) {
		return s.accept(ctx, resourceID, req)
	})
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues("error").Inc()
		return Result{}, err
	}
	return res, nil
}

func (s *Service) accept(ctx context.Context, resourceID string, req Request) (Result, error) {
	log := s.log.With("resourceId", resourceID, "userId", req.UserID, "correlationId", req.CorrelationID)

	if _, err := s.media.CreatePlaceholder(ctx, resourceID, req.URL); err != nil {
		return Result{}, fmt.Errorf("failed to create media placeholder: %w", err)
	}
	if err := s.interests.Add(ctx, req.UserID, resourceID); err != nil {
		return Result{}, fmt.Errorf("failed to record interest: %w", err)
	}

	record, err := s.media.Get(ctx, resourceID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load media record: %w", err)
	}
	if record.Status == domain.MediaStatusAvailable {
		if err := s.notifier.NotifyUser(ctx, req.UserID, domain.NotificationDownloadReady, domain.DownloadReadyPayload{
			ResourceID: resourceID,
			Location:   record.Location,
			Size:       record.Size,
			Metadata:   record.Metadata,
		}, req.CorrelationID); err != nil {
			return Result{}, fmt.Errorf("failed to notify requester: %w", err)
		}
		metrics.WebhooksReceived.WithLabelValues("available").Inc()
		log.Info("Media already available, requester notified")
		return Result{ResourceID: resourceID, Status: StatusAvailable, CorrelationID: req.CorrelationID}, nil
	}

	now := s.now()
	created, err := s.jobs.Create(ctx, domain.NewPendingJob(resourceID, req.URL, req.CorrelationID, now))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create job: %w", err)
	}
	if created {
		if err := s.publish(ctx, resourceID, req, now); err != nil {
			return Result{}, err
		}
		metrics.WebhooksReceived.WithLabelValues("accepted").Inc()
		log.Info("Download requested")
		return Result{ResourceID: resourceID, Status: StatusQueued, CorrelationID: req.CorrelationID}, nil
	}

	job, err := s.jobs.Get(ctx, resourceID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load job: %w", err)
	}
	// A Pending job nobody touched for a while lost its request; publish again.
	if job.Status == domain.JobStatusPending && now.Sub(job.UpdatedAt) >= s.cfg.StalePending {
		if err := s.publish(ctx, resourceID, req, now); err != nil {
			return Result{}, err
		}
		log.Warn("Republished stale pending job", "updatedAt", job.UpdatedAt)
	}
	metrics.WebhooksReceived.WithLabelValues("duplicate").Inc()
	log.Debug("Job already exists", "status", job.Status)
	return Result{ResourceID: resourceID, Status: string(job.Status), CorrelationID: job.CorrelationID}, nil
}

func (s *Service) publish(ctx context.Context, resourceID string, req Request, now time.Time) error {
	err := s.publisher.Publish(ctx, domain.DownloadRequested{
		ResourceID:    resourceID,
		UserID:        req.UserID,
		SourceURL:     req.URL,
		CorrelationID: req.CorrelationID,
		RequestedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("failed to publish download request: %w", err)
	}
	return nil
}
