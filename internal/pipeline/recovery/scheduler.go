package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/jobstate"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
)

// Outcome is the result of scheduling a failed attempt.
type Outcome struct {
	Status     domain.JobStatus
	RetryCount int
	MaxRetries int
	RetryAt    time.Time // zero unless Status is Scheduled
}

// Scheduled reports whether another attempt will run.
func (o Outcome) Scheduled() bool {
	return o.Status == domain.JobStatusScheduled
}

// Scheduler computes the next attempt time and persists it through the job store.
type Scheduler struct {
	jobs     storage.JobRepository
	strategy RetryStrategy
	now      func() time.Time
	log      *slog.Logger
}

// NewScheduler creates a new retry scheduler.
func NewScheduler(jobs storage.JobRepository, strategy RetryStrategy, now func() time.Time) *Scheduler {
	if strategy == nil {
		strategy = DefaultBackoff()
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		jobs:     jobs,
		strategy: strategy,
		now:      now,
		log:      slog.Default().With("component", "scheduler"),
	}
}

// Plan computes the outcome without writing anything.
func (s *Scheduler) Plan(job *domain.DownloadJob, c domain.Classification) Outcome {
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	if c.MaxRetries != nil && *c.MaxRetries > 0 {
		maxRetries = *c.MaxRetries
	}

	// an exhausted job fails even when the classification would raise the ceiling
	exhausted := job.MaxRetries > 0 && job.RetryCount >= job.MaxRetries

	next := job.RetryCount + 1
	if exhausted || !s.strategy.ShouldRetry(c, next, maxRetries) {
		return Outcome{
			Status:     domain.JobStatusFailed,
			RetryCount: job.RetryCount,
			MaxRetries: maxRetries,
		}
	}

	retryAt := s.now().Add(s.strategy.GetDelay(job.RetryCount))
	if c.RetryAfter != nil {
		retryAt = *c.RetryAfter
	}
	return Outcome{
		Status:     domain.JobStatusScheduled,
		RetryCount: next,
		MaxRetries: maxRetries,
		RetryAt:    retryAt,
	}
}

// Apply persists the planned outcome.
func (s *Scheduler) Apply(
	ctx context.Context,
	job *domain.DownloadJob,
	c domain.Classification,
	cause error,
) (Outcome, error) {
	out := s.Plan(job, c)
	if err := jobstate.Check(job.Status, out.Status); err != nil {
		return out, fmt.Errorf("cannot record failure for %s: %w", job.ResourceID, err)
	}

	category := c.Category
	lastError := c.Reason
	if cause != nil {
		lastError = cause.Error()
	}
	update := domain.JobUpdate{
		Status:        out.Status,
		MaxRetries:    &out.MaxRetries,
		ErrorCategory: &category,
		LastError:     &lastError,
		SourceURL:     job.SourceURL,
		CorrelationID: job.CorrelationID,
	}
	if out.Scheduled() {
		update.IncrementRetry = true
		retryAt := out.RetryAt
		update.RetryAfter = &retryAt
	} else {
		update.ClearRetry = true
	}

	if err := s.jobs.Update(ctx, job.ResourceID, update); err != nil {
		return out, fmt.Errorf("failed to persist %s for %s: %w", out.Status, job.ResourceID, err)
	}

	s.log.Info("Attempt failed",
		"resourceId", job.ResourceID,
		"correlationId", job.CorrelationID,
		"category", c.Category,
		"status", out.Status,
		"retryCount", out.RetryCount,
		"maxRetries", out.MaxRetries,
		"retryAt", out.RetryAt,
	)
	return out, nil
}
