package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/queue"
)

// Publisher delivers pipeline events to the event bus
type Publisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event domain.Event) error
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher creates a publisher backed by slog.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{log: slog.Default().With("component", "events")}
}

func (p *LogPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.log.Info("Event published",
		"type", event.Type(),
		"resourceId", event.Resource(),
		"correlationId", event.Correlation(),
	)
	return nil
}

// Multi publishes to every target and reports all failures together.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event domain.Event) error {
	var errs error
	for _, p := range m {
		errs = multierr.Append(errs, p.Publish(ctx, event))
	}
	return errs
}

// QueueRouter turns DownloadRequested events into download queue messages.
// Other event types are ignored.
type QueueRouter struct {
	downloads queue.Queue
}

// NewQueueRouter creates a router feeding the download queue.
func NewQueueRouter(downloads queue.Queue) *QueueRouter {
	return &QueueRouter{downloads: downloads}
}

func (r *QueueRouter) Publish(ctx context.Context, event domain.Event) error {
	req, ok := event.(domain.DownloadRequested)
	if !ok {
		return nil
	}

	body, err := json.Marshal(domain.DownloadMessage{
		ResourceID:    req.ResourceID,
		SourceURL:     req.SourceURL,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode download message: %w", err)
	}
	if _, err := r.downloads.Send(ctx, body, 0); err != nil {
		return fmt.Errorf("failed to route download request: %w", err)
	}
	return nil
}
