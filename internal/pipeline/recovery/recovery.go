// Package recovery decides and persists what happens to a job after a failed attempt.
package recovery

import (
	"context"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
)

// JobScheduler turns a classified failure into a Scheduled or Failed job.
type JobScheduler interface {
	// Apply persists the outcome for the job and returns it
	Apply(ctx context.Context, job *domain.DownloadJob, c domain.Classification, cause error) (Outcome, error)
}
