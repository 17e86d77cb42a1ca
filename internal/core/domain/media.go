package domain

import "time"

// MediaStatus is the state of a PermanentMediaRecord.
type MediaStatus string

const (
	MediaStatusQueued      MediaStatus = "queued"
	MediaStatusAvailable   MediaStatus = "available"
	MediaStatusUnavailable MediaStatus = "unavailable"
)

// MediaMetadata is the descriptive part of a media record.
type MediaMetadata struct {
	Title        string     `json:"title,omitempty"`
	Description  string     `json:"description,omitempty"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	UploaderID   string     `json:"uploader_id,omitempty"`
	UploaderName string     `json:"uploader_name,omitempty"`
	Ext          string     `json:"ext,omitempty"`
	MimeType     string     `json:"mime_type,omitempty"`
	Duration     int64      `json:"duration,omitempty"` // seconds
}

// MediaRecord is the durable record of a resource, independent of any job.
type MediaRecord struct {
	ResourceID string        `json:"resource_id"`
	Status     MediaStatus   `json:"status"`
	Size       int64         `json:"size"`
	Location   string        `json:"location,omitempty"`
	SourceURL  string        `json:"source_url"`
	Metadata   MediaMetadata `json:"metadata"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// UserResourceInterest links a user to a resource they asked for.
type UserResourceInterest struct {
	UserID     string    `json:"user_id"`
	ResourceID string    `json:"resource_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Device is a push endpoint registered by a user.
type Device struct {
	DeviceID  string    `json:"device_id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}
