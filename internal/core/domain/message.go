package domain

import "encoding/json"

// DownloadMessage is the body of a download queue message.
type DownloadMessage struct {
	ResourceID    string `json:"resourceId"`
	SourceURL     string `json:"sourceUrl"`
	CorrelationID string `json:"correlationId"`
	Attempt       int    `json:"attempt"`
}

// NotificationMessage is the body of a notification queue message.
type NotificationMessage struct {
	NotificationKind NotificationKind `json:"notificationKind"`
	RecipientID      string           `json:"recipientId"`
	CorrelationID    string           `json:"correlationId,omitempty"`
	Payload          json.RawMessage  `json:"payload"`
}
