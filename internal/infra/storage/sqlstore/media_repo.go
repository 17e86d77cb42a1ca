package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
)

// MediaRepo implements storage.MediaRepository.
type MediaRepo struct {
	db  *DB
	now func() time.Time
}

// NewMediaRepo creates a new SQL media repository.
func NewMediaRepo(db *DB) *MediaRepo {
	return &MediaRepo{db: db, now: time.Now}
}

type mediaRow struct {
	ResourceID   string `db:"resource_id"`
	Status       string `db:"status"`
	Size         int64  `db:"size"`
	Location     string `db:"location"`
	SourceURL    string `db:"source_url"`
	Title        string `db:"title"`
	Description  string `db:"description"`
	ThumbnailURL string `db:"thumbnail_url"`
	PublishedAt  int64  `db:"published_at"`
	UploaderID   string `db:"uploader_id"`
	UploaderName string `db:"uploader_name"`
	Ext          string `db:"ext"`
	MimeType     string `db:"mime_type"`
	Duration     int64  `db:"duration"`
	CreatedAt    int64  `db:"created_at"`
	UpdatedAt    int64  `db:"updated_at"`
}

const mediaColumns = `resource_id, status, size, location, source_url, title, description,
	thumbnail_url, published_at, uploader_id, uploader_name, ext, mime_type, duration,
	created_at, updated_at`

// Get retrieves a media record.
func (r *MediaRepo) Get(ctx context.Context, resourceID string) (*domain.MediaRecord, error) {
	query := r.db.Rebind(`SELECT ` + mediaColumns + ` FROM media WHERE resource_id = ?`)

	var row mediaRow
	err := r.db.GetContext(ctx, &row, query, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrMediaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media: %w", err)
	}

	return &domain.MediaRecord{
		ResourceID: row.ResourceID,
		Status:     domain.MediaStatus(row.Status),
		Size:       row.Size,
		Location:   row.Location,
		SourceURL:  row.SourceURL,
		Metadata: domain.MediaMetadata{
			Title:        row.Title,
			Description:  row.Description,
			ThumbnailURL: row.ThumbnailURL,
			PublishedAt:  timeOrNil(row.PublishedAt),
			UploaderID:   row.UploaderID,
			UploaderName: row.UploaderName,
			Ext:          row.Ext,
			MimeType:     row.MimeType,
			Duration:     row.Duration,
		},
		CreatedAt: time.Unix(row.CreatedAt, 0).UTC(),
		UpdatedAt: time.Unix(row.UpdatedAt, 0).UTC(),
	}, nil
}

// CreatePlaceholder inserts a queued record with size 0.
func (r *MediaRepo) CreatePlaceholder(ctx context.Context, resourceID, sourceURL string) (bool, error) {
	query := r.db.Rebind(`
		INSERT INTO media (resource_id, status, source_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (resource_id) DO NOTHING
	`)
	now := r.now().Unix()
	res, err := r.db.ExecContext(ctx, query, resourceID, string(domain.MediaStatusQueued), sourceURL, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to create media placeholder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkAvailable upserts the final record.
func (r *MediaRepo) MarkAvailable(ctx context.Context, m *domain.MediaRecord) error {
	query := r.db.Rebind(`
		INSERT INTO media (` + mediaColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (resource_id) DO UPDATE SET
			status = excluded.status,
			size = excluded.size,
			location = excluded.location,
			source_url = CASE WHEN excluded.source_url <> '' THEN excluded.source_url ELSE media.source_url END,
			title = excluded.title,
			description = excluded.description,
			thumbnail_url = excluded.thumbnail_url,
			published_at = excluded.published_at,
			uploader_id = excluded.uploader_id,
			uploader_name = excluded.uploader_name,
			ext = excluded.ext,
			mime_type = excluded.mime_type,
			duration = excluded.duration,
			updated_at = excluded.updated_at
	`)
	now := r.now().Unix()
	md := m.Metadata
	_, err := r.db.ExecContext(ctx, query,
		m.ResourceID,
		string(domain.MediaStatusAvailable),
		m.Size,
		m.Location,
		m.SourceURL,
		md.Title,
		md.Description,
		md.ThumbnailURL,
		unixOrZero(md.PublishedAt),
		md.UploaderID,
		md.UploaderName,
		md.Ext,
		md.MimeType,
		md.Duration,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to mark media available: %w", err)
	}
	return nil
}

// MarkUnavailable flags the record unless it already reached available.
func (r *MediaRepo) MarkUnavailable(ctx context.Context, resourceID string) error {
	query := r.db.Rebind(`
		INSERT INTO media (resource_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (resource_id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
		WHERE media.status <> 'available'
	`)
	now := r.now().Unix()
	_, err := r.db.ExecContext(ctx, query, resourceID, string(domain.MediaStatusUnavailable), now, now)
	if err != nil {
		return fmt.Errorf("failed to mark media unavailable: %w", err)
	}
	return nil
}
