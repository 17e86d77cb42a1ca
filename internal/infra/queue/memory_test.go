package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryQueue_DelayAndVisibility(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	q := NewMemoryQueue("downloads").WithClock(clock.now)
	ctx := context.Background()

	if _, err := q.Send(ctx, []byte("later"), time.Minute); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	id, _ := q.Send(ctx, []byte("now"), 0)

	msgs, _ := q.Receive(ctx, 10, 30*time.Second)
	if len(msgs) != 1 || msgs[0].ID != id {
		t.Fatalf("expected only the immediate message, got %v", msgs)
	}
	if msgs[0].Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", msgs[0].Attempt)
	}

	// claimed message stays hidden until the visibility timeout passes
	msgs, _ = q.Receive(ctx, 10, 30*time.Second)
	if len(msgs) != 0 {
		t.Errorf("expected nothing visible, got %d", len(msgs))
	}

	clock.advance(time.Minute)
	msgs, _ = q.Receive(ctx, 10, 30*time.Second)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages after a minute, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.ID == id && m.Attempt != 2 {
			t.Errorf("expected redelivered attempt 2, got %d", m.Attempt)
		}
	}
}

func TestMemoryQueue_AckRetryDeadLetter(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	q := NewMemoryQueue("downloads").WithClock(clock.now)
	ctx := context.Background()

	a, _ := q.Send(ctx, []byte("a"), 0)
	b, _ := q.Send(ctx, []byte("b"), 0)
	c, _ := q.Send(ctx, []byte("c"), 0)
	if _, err := q.Receive(ctx, 3, time.Hour); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	if err := q.Ack(ctx, a); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if err := q.Retry(ctx, b, 10*time.Second); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if err := q.DeadLetter(ctx, c); err != nil {
		t.Fatalf("DeadLetter failed: %v", err)
	}

	depth, _ := q.Depth(ctx)
	if depth != 1 {
		t.Errorf("expected depth 1, got %d", depth)
	}
	if dead := q.DeadLettered(); len(dead) != 1 || string(dead[0].Body) != "c" {
		t.Errorf("expected c dead-lettered, got %v", dead)
	}

	clock.advance(10 * time.Second)
	msgs, _ := q.Receive(ctx, 10, time.Hour)
	if len(msgs) != 1 || msgs[0].ID != b {
		t.Errorf("expected b redelivered, got %v", msgs)
	}

	if err := q.Retry(ctx, a, 0); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestMemoryQueue_ReceiveRespectsMax(t *testing.T) {
	q := NewMemoryQueue("notifications")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = q.Send(ctx, []byte{byte(i)}, 0)
	}
	msgs, _ := q.Receive(ctx, 2, time.Minute)
	if len(msgs) != 2 {
		t.Errorf("expected 2, got %d", len(msgs))
	}
}
