package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
)

// JobRepo implements storage.JobRepository.
type JobRepo struct {
	db  *DB
	now func() time.Time
}

// NewJobRepo creates a new SQL download job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db, now: time.Now}
}

type jobRow struct {
	ResourceID    string `db:"resource_id"`
	Status        string `db:"status"`
	RetryCount    int    `db:"retry_count"`
	MaxRetries    int    `db:"max_retries"`
	ErrorCategory string `db:"error_category"`
	LastError     string `db:"last_error"`
	RetryAfter    int64  `db:"retry_after"`
	SourceURL     string `db:"source_url"`
	CorrelationID string `db:"correlation_id"`
	CreatedAt     int64  `db:"created_at"`
	UpdatedAt     int64  `db:"updated_at"`
}

func (r jobRow) toDomain() *domain.DownloadJob {
	return &domain.DownloadJob{
		ResourceID:    r.ResourceID,
		Status:        domain.JobStatus(r.Status),
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		ErrorCategory: domain.ErrorCategory(r.ErrorCategory),
		LastError:     r.LastError,
		RetryAfter:    timeOrNil(r.RetryAfter),
		SourceURL:     r.SourceURL,
		CorrelationID: r.CorrelationID,
		CreatedAt:     time.Unix(r.CreatedAt, 0).UTC(),
		UpdatedAt:     time.Unix(r.UpdatedAt, 0).UTC(),
	}
}

const jobColumns = `resource_id, status, retry_count, max_retries, error_category, last_error,
	retry_after, source_url, correlation_id, created_at, updated_at`

// Get retrieves a job by resource ID.
func (r *JobRepo) Get(ctx context.Context, resourceID string) (*domain.DownloadJob, error) {
	query := r.db.Rebind(`SELECT ` + jobColumns + ` FROM download_jobs WHERE resource_id = ?`)

	var row jobRow
	err := r.db.GetContext(ctx, &row, query, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain(), nil
}

// Create inserts a job unless one already exists.
func (r *JobRepo) Create(ctx context.Context, job *domain.DownloadJob) (bool, error) {
	query := r.db.Rebind(`
		INSERT INTO download_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (resource_id) DO NOTHING
	`)

	status := job.Status
	if status == "" {
		status = domain.JobStatusPending
	}
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	now := r.now().Unix()

	res, err := r.db.ExecContext(ctx, query,
		job.ResourceID,
		string(status),
		job.RetryCount,
		maxRetries,
		string(job.ErrorCategory),
		job.LastError,
		unixOrZero(job.RetryAfter),
		job.SourceURL,
		job.CorrelationID,
		now,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// Update upserts the provided fields. The retry counter is incremented in SQL
// and rows in a terminal status are left untouched.
func (r *JobRepo) Update(ctx context.Context, resourceID string, u domain.JobUpdate) error {
	status := u.Status
	if status == "" {
		status = domain.JobStatusPending
	}
	retryCount := 0
	if u.IncrementRetry {
		retryCount = 1
	}
	maxRetries := domain.DefaultMaxRetries
	if u.MaxRetries != nil {
		maxRetries = *u.MaxRetries
	}
	var category, lastError string
	if u.ErrorCategory != nil {
		category = string(*u.ErrorCategory)
	}
	if u.LastError != nil {
		lastError = *u.LastError
	}
	now := r.now().Unix()

	sets := []string{"updated_at = excluded.updated_at"}
	if u.Status != "" {
		sets = append(sets, "status = excluded.status")
	}
	if u.IncrementRetry {
		sets = append(sets, "retry_count = download_jobs.retry_count + 1")
	}
	if u.MaxRetries != nil {
		sets = append(sets, "max_retries = excluded.max_retries")
	}
	if u.ErrorCategory != nil {
		sets = append(sets, "error_category = excluded.error_category")
	}
	if u.LastError != nil {
		sets = append(sets, "last_error = excluded.last_error")
	}
	if u.RetryAfter != nil || u.ClearRetry {
		sets = append(sets, "retry_after = excluded.retry_after")
	}
	if u.SourceURL != "" {
		sets = append(sets, "source_url = excluded.source_url")
	}
	if u.CorrelationID != "" {
		sets = append(sets, "correlation_id = excluded.correlation_id")
	}

	query := r.db.Rebind(`
		INSERT INTO download_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (resource_id) DO UPDATE SET ` + strings.Join(sets, ", ") + `
		WHERE download_jobs.status NOT IN ('completed', 'failed')
	`)

	res, err := r.db.ExecContext(ctx, query,
		resourceID,
		string(status),
		retryCount,
		maxRetries,
		category,
		lastError,
		unixOrZero(u.RetryAfter),
		u.SourceURL,
		u.CorrelationID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrJobTerminal
	}
	return nil
}

// CountByStatus returns the number of jobs per status.
func (r *JobRepo) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM download_jobs GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := make(map[domain.JobStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.JobStatus(row.Status)] = row.Count
	}
	return counts, nil
}

// DeleteTerminalBefore removes completed and failed jobs older than cutoff.
func (r *JobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := r.db.Rebind(`
		DELETE FROM download_jobs
		WHERE status IN ('completed', 'failed') AND updated_at < ?
	`)
	res, err := r.db.ExecContext(ctx, query, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal jobs: %w", err)
	}
	return res.RowsAffected()
}
