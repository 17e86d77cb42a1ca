package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/queue"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
)

// ErrNothingToRequeue is returned when the resource has no job and no media record.
var ErrNothingToRequeue = errors.New("no job or media record for resource")

// Requeue sends a fresh download message for a job whose message was lost or
// dead-lettered. Completed and failed jobs are left alone. A resource with a
// queued media record but no job gets a new pending job.
func Requeue(ctx context.Context, repos *Repositories, downloads queue.Queue, resourceID string) (*domain.DownloadJob, error) {
	job, err := repos.Jobs.Get(ctx, resourceID)
	switch {
	case errors.Is(err, storage.ErrJobNotFound):
		job, err = recreateJob(ctx, repos, resourceID)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case job.Status.IsTerminal():
		return job, fmt.Errorf("job %s is %s: %w", resourceID, job.Status, storage.ErrJobTerminal)
	default:
		// an early redelivery would otherwise be deferred until RetryAfter
		if err := repos.Jobs.Update(ctx, resourceID, domain.JobUpdate{ClearRetry: true}); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(domain.DownloadMessage{
		ResourceID:    job.ResourceID,
		SourceURL:     job.SourceURL,
		CorrelationID: job.CorrelationID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode download message: %w", err)
	}
	if _, err := downloads.Send(ctx, body, 0); err != nil {
		return nil, fmt.Errorf("failed to enqueue download: %w", err)
	}
	return job, nil
}

func recreateJob(ctx context.Context, repos *Repositories, resourceID string) (*domain.DownloadJob, error) {
	media, err := repos.Media.Get(ctx, resourceID)
	if errors.Is(err, storage.ErrMediaNotFound) {
		return nil, ErrNothingToRequeue
	}
	if err != nil {
		return nil, err
	}
	if media.Status == domain.MediaStatusAvailable {
		return nil, fmt.Errorf("media %s is already available", resourceID)
	}

	job := domain.NewPendingJob(resourceID, media.SourceURL, uuid.NewString(), time.Now())
	if _, err := repos.Jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}
