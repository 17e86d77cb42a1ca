package storage

import (
	"context"
	"errors"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
)

var (
	// ErrJobNotFound is returned when a download job doesn't exist
	ErrJobNotFound = errors.New("download job not found")

	// ErrJobTerminal is returned when a write targets a completed or failed job
	ErrJobTerminal = errors.New("download job is terminal")

	// ErrMediaNotFound is returned when a media record doesn't exist
	ErrMediaNotFound = errors.New("media record not found")
)

// JobRepository handles download job state
type JobRepository interface {
	// Get retrieves a job by resource ID
	Get(ctx context.Context, resourceID string) (*domain.DownloadJob, error)

	// Create inserts the job if no row exists for its resource ID.
	// Returns false when a row was already present.
	Create(ctx context.Context, job *domain.DownloadJob) (bool, error)

	// Update applies a partial write, inserting the row if it is missing.
	// Retry increments are atomic. Returns ErrJobTerminal for terminal rows.
	Update(ctx context.Context, resourceID string, update domain.JobUpdate) error

	// CountByStatus returns the number of jobs per status
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)

	// DeleteTerminalBefore deletes completed and failed jobs last updated before the cutoff
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MediaRepository handles permanent media records
type MediaRepository interface {
	// Get retrieves a media record by resource ID
	Get(ctx context.Context, resourceID string) (*domain.MediaRecord, error)

	// CreatePlaceholder inserts a queued record if none exists.
	// Returns false when a record was already present.
	CreatePlaceholder(ctx context.Context, resourceID, sourceURL string) (bool, error)

	// MarkAvailable upserts the record as available with final size, location and metadata
	MarkAvailable(ctx context.Context, record *domain.MediaRecord) error

	// MarkUnavailable flags a record as unavailable unless it is already available
	MarkUnavailable(ctx context.Context, resourceID string) error
}

// InterestRepository handles user to resource associations
type InterestRepository interface {
	// Add links a user to a resource. Adding an existing pair is a no-op.
	Add(ctx context.Context, userID, resourceID string) error

	// ListUsers returns the users interested in a resource
	ListUsers(ctx context.Context, resourceID string) ([]string, error)
}

// DeviceRepository handles push devices
type DeviceRepository interface {
	// Register upserts a device
	Register(ctx context.Context, device *domain.Device) error

	// ListByUser returns all devices of a user
	ListByUser(ctx context.Context, userID string) ([]*domain.Device, error)

	// Delete removes a device. Deleting a missing device is a no-op.
	Delete(ctx context.Context, deviceID string) error
}
