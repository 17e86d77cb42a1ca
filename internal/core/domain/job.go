package domain

import "time"

// DefaultMaxRetries is the retry ceiling for a job that has not been classified yet.
const DefaultMaxRetries = 5

// JobStatus is the lifecycle state of a DownloadJob.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusScheduled  JobStatus = "scheduled"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further writes are allowed for the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ErrorCategory is the classification bucket of a fetch or transfer failure.
type ErrorCategory string

const (
	CategoryNone          ErrorCategory = ""
	CategoryCookieExpired ErrorCategory = "cookie_expired"
	CategoryScheduled     ErrorCategory = "scheduled"
	CategoryTransient     ErrorCategory = "transient"
	CategoryPermanent     ErrorCategory = "permanent"
)

// DownloadJob is the transient per-resource record driven by the orchestrator.
type DownloadJob struct {
	ResourceID    string        `json:"resource_id"`
	Status        JobStatus     `json:"status"`
	RetryCount    int           `json:"retry_count"`
	MaxRetries    int           `json:"max_retries"`
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	RetryAfter    *time.Time    `json:"retry_after,omitempty"`
	SourceURL     string        `json:"source_url"`
	CorrelationID string        `json:"correlation_id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewPendingJob builds the initial record written on first ingestion.
func NewPendingJob(resourceID, sourceURL, correlationID string, now time.Time) *DownloadJob {
	return &DownloadJob{
		ResourceID:    resourceID,
		Status:        JobStatusPending,
		MaxRetries:    DefaultMaxRetries,
		SourceURL:     sourceURL,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// JobUpdate is a partial write applied with upsert semantics.
// Nil fields are left untouched on an existing row.
type JobUpdate struct {
	Status         JobStatus
	IncrementRetry bool
	MaxRetries     *int
	ErrorCategory  *ErrorCategory
	LastError      *string
	RetryAfter     *time.Time
	ClearRetry     bool
	SourceURL      string
	CorrelationID  string
}
