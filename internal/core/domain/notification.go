package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// NotificationKind enumerates the notification payload shapes.
type NotificationKind string

const (
	NotificationMetadataReady NotificationKind = "metadata_ready"
	NotificationDownloadReady NotificationKind = "download_ready"
	NotificationFailure       NotificationKind = "failure"
)

// ParseNotificationKind validates a kind read off the wire.
func ParseNotificationKind(s string) (NotificationKind, error) {
	switch k := NotificationKind(s); k {
	case NotificationMetadataReady, NotificationDownloadReady, NotificationFailure:
		return k, nil
	default:
		return "", fmt.Errorf("unknown notification kind %q", s)
	}
}

// MetadataReadyPayload is sent before the transfer starts.
type MetadataReadyPayload struct {
	ResourceID string        `json:"resource_id"`
	Metadata   MediaMetadata `json:"metadata"`
}

// DownloadReadyPayload is sent once the file is stored.
type DownloadReadyPayload struct {
	ResourceID string        `json:"resource_id"`
	Location   string        `json:"location"`
	Size       int64         `json:"size"`
	Metadata   MediaMetadata `json:"metadata"`
}

// FailurePayload is sent when a job fails terminally.
type FailurePayload struct {
	ResourceID    string        `json:"resource_id"`
	ErrorCategory ErrorCategory `json:"error_category"`
	Message       string        `json:"message"`
}

// NotificationEnvelope is one message for one recipient. Payload is encoded
// at construction so the envelope cannot change after it is built.
type NotificationEnvelope struct {
	RecipientID string
	Kind        NotificationKind
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// NewEnvelope snapshots payload into a new envelope.
func NewEnvelope(recipientID string, kind NotificationKind, payload any, now time.Time) (NotificationEnvelope, error) {
	switch kind {
	case NotificationMetadataReady, NotificationDownloadReady, NotificationFailure:
	default:
		return NotificationEnvelope{}, fmt.Errorf("unknown notification kind %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return NotificationEnvelope{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return NotificationEnvelope{
		RecipientID: recipientID,
		Kind:        kind,
		Payload:     raw,
		CreatedAt:   now,
	}, nil
}

// WithRecipient returns a copy addressed to another recipient.
func (e NotificationEnvelope) WithRecipient(recipientID string) NotificationEnvelope {
	payload := make(json.RawMessage, len(e.Payload))
	copy(payload, e.Payload)
	e.RecipientID = recipientID
	e.Payload = payload
	return e
}

// Title is the human readable headline for the push message.
func (e NotificationEnvelope) Title() string {
	switch e.Kind {
	case NotificationMetadataReady:
		return "Download started"
	case NotificationDownloadReady:
		return "Download ready"
	case NotificationFailure:
		return "Download failed"
	default:
		return ""
	}
}
