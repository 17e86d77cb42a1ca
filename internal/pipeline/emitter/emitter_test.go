package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/queue"
)

// MockPublisher for testing
type MockPublisher struct {
	mu     sync.Mutex
	Events []domain.Event
	Err    error
}

func (m *MockPublisher) Publish(ctx context.Context, event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, event)
	return nil
}

func TestQueueRouter_RoutesDownloadRequested(t *testing.T) {
	q := queue.NewMemoryQueue("downloads")
	router := NewQueueRouter(q)
	ctx := context.Background()

	err := router.Publish(ctx, domain.DownloadRequested{
		ResourceID:    "dQw4w9WgXcQ",
		SourceURL:     "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		CorrelationID: "c1",
		RequestedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msgs, _ := q.Receive(ctx, 10, time.Minute)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	var m domain.DownloadMessage
	if err := json.Unmarshal(msgs[0].Body, &m); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if m.ResourceID != "dQw4w9WgXcQ" || m.CorrelationID != "c1" {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestQueueRouter_IgnoresOtherEvents(t *testing.T) {
	q := queue.NewMemoryQueue("downloads")
	router := NewQueueRouter(q)

	_ = router.Publish(context.Background(), domain.DownloadCompleted{ResourceID: "r1"})
	_ = router.Publish(context.Background(), domain.DownloadFailed{ResourceID: "r1"})

	if depth, _ := q.Depth(context.Background()); depth != 0 {
		t.Errorf("expected empty queue, got %d", depth)
	}
}

func TestMulti_PublishesToAllAndAggregatesErrors(t *testing.T) {
	ok := &MockPublisher{}
	bad1 := &MockPublisher{Err: errors.New("stream down")}
	bad2 := &MockPublisher{Err: errors.New("queue down")}

	err := Multi{bad1, ok, bad2, NewLogPublisher()}.Publish(context.Background(), domain.DownloadCompleted{ResourceID: "r1"})
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if !errors.Is(err, bad1.Err) || !errors.Is(err, bad2.Err) {
		t.Errorf("expected both errors, got %v", err)
	}
	if len(ok.Events) != 1 {
		t.Errorf("expected healthy publisher to receive the event, got %d", len(ok.Events))
	}
}
