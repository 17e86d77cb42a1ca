package domain

import "time"

// EventType names an event published on the bus.
type EventType string

const (
	EventTypeDownloadRequested EventType = "DownloadRequested"
	EventTypeDownloadCompleted EventType = "DownloadCompleted"
	EventTypeDownloadFailed    EventType = "DownloadFailed"
)

// Event is implemented by the three bus events. Consumers switch on the
// concrete type.
type Event interface {
	Type() EventType
	Correlation() string
	Resource() string
}

// DownloadRequested is published when a webhook creates a new job.
type DownloadRequested struct {
	ResourceID    string    `json:"resourceId"`
	UserID        string    `json:"userId"`
	SourceURL     string    `json:"sourceUrl"`
	CorrelationID string    `json:"correlationId"`
	RequestedAt   time.Time `json:"requestedAt"`
}

// DownloadCompleted is published once the file is stored and the record is Available.
type DownloadCompleted struct {
	ResourceID    string    `json:"resourceId"`
	CorrelationID string    `json:"correlationId"`
	Location      string    `json:"location"`
	Size          int64     `json:"size"`
	CompletedAt   time.Time `json:"completedAt"`
}

// DownloadFailed is published for every failed attempt; Retryable tells
// consumers whether another attempt is scheduled.
type DownloadFailed struct {
	ResourceID    string        `json:"resourceId"`
	CorrelationID string        `json:"correlationId"`
	ErrorCategory ErrorCategory `json:"errorCategory"`
	ErrorMessage  string        `json:"errorMessage"`
	Retryable     bool          `json:"retryable"`
	RetryCount    int           `json:"retryCount"`
	FailedAt      time.Time     `json:"failedAt"`
}

func (e DownloadRequested) Type() EventType     { return EventTypeDownloadRequested }
func (e DownloadRequested) Correlation() string { return e.CorrelationID }
func (e DownloadRequested) Resource() string    { return e.ResourceID }

func (e DownloadCompleted) Type() EventType     { return EventTypeDownloadCompleted }
func (e DownloadCompleted) Correlation() string { return e.CorrelationID }
func (e DownloadCompleted) Resource() string    { return e.ResourceID }

func (e DownloadFailed) Type() EventType     { return EventTypeDownloadFailed }
func (e DownloadFailed) Correlation() string { return e.CorrelationID }
func (e DownloadFailed) Resource() string    { return e.ResourceID }
