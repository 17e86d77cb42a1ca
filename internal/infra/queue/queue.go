// Package queue defines the at-least-once message queue used between pipeline stages.
//
// A received message stays invisible for the visibility timeout. It is removed by Ack,
// made visible again by Retry, or parked by DeadLetter. Anything not acknowledged is
// redelivered, so handlers must be idempotent.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrMessageNotFound is returned when an operation targets an unknown message ID.
var ErrMessageNotFound = errors.New("message not found")

// Message is a single delivery.
type Message struct {
	ID         string
	Body       []byte
	Attempt    int // number of times this message has been received, starting at 1
	EnqueuedAt time.Time
}

// Queue is implemented by the in-memory and Redis backends.
type Queue interface {
	// Name identifies the queue in logs and metrics.
	Name() string

	// Send enqueues a body that becomes visible after delay.
	Send(ctx context.Context, body []byte, delay time.Duration) (string, error)

	// Receive claims up to max visible messages, hiding them for visibility.
	Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error)

	// Ack deletes processed messages.
	Ack(ctx context.Context, ids ...string) error

	// Retry makes a claimed message visible again after delay.
	Retry(ctx context.Context, id string, delay time.Duration) error

	// DeadLetter moves a message out of circulation.
	DeadLetter(ctx context.Context, id string) error

	// Depth returns the number of messages still in circulation.
	Depth(ctx context.Context) (int64, error)
}
