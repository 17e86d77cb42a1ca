// Package notify turns resource level notifications into per-user queue
// messages and delivers those messages through the fan-out.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/queue"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/fanout"
)

// Dispatcher enqueues one notification message per interested user.
type Dispatcher struct {
	interests storage.InterestRepository
	q         queue.Queue
	log       *slog.Logger
}

// NewDispatcher creates a dispatcher writing to the notification queue.
func NewDispatcher(interests storage.InterestRepository, q queue.Queue) *Dispatcher {
	return &Dispatcher{
		interests: interests,
		q:         q,
		log:       slog.Default().With("component", "notify"),
	}
}

// NotifyInterested enqueues the payload for every user interested in the resource.
// The payload is encoded once so every recipient sees the same snapshot.
func (d *Dispatcher) NotifyInterested(
	ctx context.Context,
	resourceID string,
	kind domain.NotificationKind,
	payload any,
	correlationID string,
) error {
	users, err := d.interests.ListUsers(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("failed to list interested users: %w", err)
	}
	if len(users) == 0 {
		d.log.Debug("No interested users", "resourceId", resourceID, "kind", kind)
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	for _, userID := range users {
		if err := d.enqueue(ctx, userID, kind, raw, correlationID); err != nil {
			return err
		}
	}
	d.log.Debug("Notifications enqueued", "resourceId", resourceID, "kind", kind, "recipients", len(users))
	return nil
}

// NotifyUser enqueues the payload for a single user.
func (d *Dispatcher) NotifyUser(
	ctx context.Context,
	userID string,
	kind domain.NotificationKind,
	payload any,
	correlationID string,
) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return d.enqueue(ctx, userID, kind, raw, correlationID)
}

func (d *Dispatcher) enqueue(ctx context.Context, userID string, kind domain.NotificationKind, payload json.RawMessage, correlationID string) error {
	body, err := json.Marshal(domain.NotificationMessage{
		NotificationKind: kind,
		RecipientID:      userID,
		CorrelationID:    correlationID,
		Payload:          payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification message: %w", err)
	}
	if _, err := d.q.Send(ctx, body, 0); err != nil {
		return fmt.Errorf("failed to enqueue notification for %s: %w", userID, err)
	}
	return nil
}

// Handler delivers notification queue messages.
type Handler struct {
	fanout *fanout.Fanout
	log    *slog.Logger
}

// NewHandler creates the notification queue handler.
func NewHandler(f *fanout.Fanout) *Handler {
	return &Handler{fanout: f, log: slog.Default().With("component", "notify")}
}

// Handle decodes one message and sends it to every device of the recipient.
// It fails only when every device failed, so a redelivery cannot spam devices
// that already received it unless all of them missed it.
func (h *Handler) Handle(ctx context.Context, msg queue.Message) error {
	var m domain.NotificationMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		return fmt.Errorf("failed to decode notification message: %w", err)
	}
	kind, err := domain.ParseNotificationKind(string(m.NotificationKind))
	if err != nil {
		return err
	}

	env := domain.NotificationEnvelope{
		RecipientID: m.RecipientID,
		Kind:        kind,
		Payload:     m.Payload,
		CreatedAt:   msg.EnqueuedAt,
	}

	result, err := h.fanout.NotifyAll(ctx, m.RecipientID, func(domain.Device) domain.NotificationEnvelope {
		return env.WithRecipient(m.RecipientID)
	})
	if err != nil {
		return err
	}
	h.log.Debug("Notification delivered",
		"userId", m.RecipientID,
		"kind", kind,
		"correlationId", m.CorrelationID,
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
	)
	return nil
}
