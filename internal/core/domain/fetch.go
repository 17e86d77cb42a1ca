package domain

import "time"

// MediaInfo is what a metadata fetch learns about a resource.
type MediaInfo struct {
	ResourceID  string
	SourceURL   string
	DownloadURL string
	Metadata    MediaMetadata
	// ExpectedSize is the advertised size in bytes, 0 when unknown.
	ExpectedSize int64
	// ReleaseAt is set when the upstream announces a future release.
	ReleaseAt *time.Time
}

// FetchResult is the outcome of a metadata fetch. Fetchers report failures
// through Err instead of returning an error value.
type FetchResult struct {
	Success bool
	Info    *MediaInfo
	Err     error
}

// StoredObject describes a file written to object storage.
type StoredObject struct {
	Key      string
	Location string
	Size     int64
	SHA256   string
}
