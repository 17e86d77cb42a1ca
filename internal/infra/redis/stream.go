package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
)

// StreamPublisher appends pipeline events to a Redis stream.
type StreamPublisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher creates a publisher writing to "<prefix>:events".
func NewStreamPublisher(client *Client, maxLen int64) *StreamPublisher {
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &StreamPublisher{rdb: client.rdb, stream: client.key("events"), maxLen: maxLen}
}

// Publish implements emitter.Publisher.
func (p *StreamPublisher) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":          string(event.Type()),
			"resourceId":    event.Resource(),
			"correlationId": event.Correlation(),
			"payload":       payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}
