package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/queue"
)

// =============================================================================
// Helpers
// =============================================================================

type recorder struct {
	mu      sync.Mutex
	applied map[string]int
	order   []string
}

func newRecorder() *recorder {
	return &recorder{applied: make(map[string]int)}
}

func (r *recorder) handler(fail map[string]error) Handler {
	return func(ctx context.Context, msg queue.Message) error {
		if err, ok := fail[string(msg.Body)]; ok {
			return err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		r.applied[string(msg.Body)]++
		r.order = append(r.order, string(msg.Body))
		return nil
	}
}

func msgs(bodies ...string) []queue.Message {
	out := make([]queue.Message, len(bodies))
	for i, b := range bodies {
		out[i] = queue.Message{ID: "id" + b, Body: []byte(b), Attempt: 1}
	}
	return out
}

// =============================================================================
// ProcessBatch
// =============================================================================

func TestProcessBatch_ReportsOnlyFailedIDs(t *testing.T) {
	rec := newRecorder()
	c := New(queue.NewMemoryQueue("downloads"), rec.handler(map[string]error{
		"2": errors.New("boom"),
	}), Config{})

	result := c.ProcessBatch(context.Background(), msgs("1", "2", "3"))

	ids := result.FailedIDs()
	if len(ids) != 1 || ids[0] != "id2" {
		t.Fatalf("expected [id2], got %v", ids)
	}
	if rec.applied["1"] != 1 || rec.applied["3"] != 1 {
		t.Errorf("expected 1 and 3 applied once, got %v", rec.applied)
	}
	if rec.applied["2"] != 0 {
		t.Errorf("expected 2 not applied, got %d", rec.applied["2"])
	}
}

func TestProcessBatch_FailuresKeepBatchOrder(t *testing.T) {
	rec := newRecorder()
	fail := map[string]error{}
	for _, b := range []string{"1", "3", "5", "7"} {
		fail[b] = errors.New("boom")
	}
	c := New(queue.NewMemoryQueue("downloads"), rec.handler(fail), Config{Concurrency: 8})

	ids := c.ProcessBatch(context.Background(), msgs("1", "2", "3", "4", "5", "6", "7")).FailedIDs()
	want := []string{"id1", "id3", "id5", "id7"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("expected %s at %d, got %s", want[i], i, ids[i])
		}
	}
}

func TestProcessBatch_RetryLaterCarriesTime(t *testing.T) {
	until := time.Unix(1_700_003_600, 0)
	c := New(queue.NewMemoryQueue("downloads"), func(context.Context, queue.Message) error {
		return &RetryLaterError{Until: until, Reason: "scheduled"}
	}, Config{})

	result := c.ProcessBatch(context.Background(), msgs("1"))
	if len(result.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(result.Failures))
	}
	if result.Failures[0].RetryAt == nil || !result.Failures[0].RetryAt.Equal(until) {
		t.Errorf("expected retry at %v, got %v", until, result.Failures[0].RetryAt)
	}
}

func TestProcessBatch_PartitionRunsSequentially(t *testing.T) {
	var (
		mu      sync.Mutex
		running = map[string]int{}
		overlap bool
		order   []string
	)
	handler := func(ctx context.Context, msg queue.Message) error {
		key := string(msg.Body[:1])
		mu.Lock()
		running[key]++
		if running[key] > 1 {
			overlap = true
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		running[key]--
		if key == "a" {
			order = append(order, string(msg.Body))
		}
		mu.Unlock()
		return nil
	}

	c := New(queue.NewMemoryQueue("downloads"), handler, Config{Concurrency: 4},
		WithPartitionKey(func(m queue.Message) string { return string(m.Body[:1]) }))

	c.ProcessBatch(context.Background(), msgs("a1", "b1", "a2", "b2", "a3"))

	if overlap {
		t.Error("expected messages with the same key not to overlap")
	}
	if len(order) != 3 || order[0] != "a1" || order[1] != "a2" || order[2] != "a3" {
		t.Errorf("expected [a1 a2 a3], got %v", order)
	}
}

// =============================================================================
// Poll / settle
// =============================================================================

func TestPoll_SettlesBatch(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	q := queue.NewMemoryQueue("downloads").WithClock(clock)
	ctx := context.Background()

	_, _ = q.Send(ctx, []byte("ok"), 0)
	_, _ = q.Send(ctx, []byte("fail"), 0)
	_, _ = q.Send(ctx, []byte("later"), 0)

	handler := func(ctx context.Context, msg queue.Message) error {
		switch string(msg.Body) {
		case "fail":
			return errors.New("transient")
		case "later":
			return &RetryLaterError{Until: now.Add(time.Hour)}
		}
		return nil
	}
	c := New(q, handler, Config{MaxReceives: 2, Visibility: time.Minute}, WithClock(clock))

	n, err := c.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 messages, got %d", n)
	}

	// "fail" stays claimed and "later" was re-sent with a one hour delay
	depth, _ := q.Depth(ctx)
	if depth != 2 {
		t.Errorf("expected depth 2, got %d", depth)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Poll(ctx); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	dead := q.DeadLettered()
	if len(dead) != 1 || string(dead[0].Body) != "fail" {
		t.Fatalf("expected fail dead-lettered after 2 receives, got %v", dead)
	}

	now = now.Add(time.Hour)
	received, _ := q.Receive(ctx, 10, time.Minute)
	if len(received) != 1 || string(received[0].Body) != "later" {
		t.Fatalf("expected deferred message, got %v", received)
	}
	if received[0].Attempt != 1 {
		t.Errorf("expected deferred copy to start at attempt 1, got %d", received[0].Attempt)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	c := New(queue.NewMemoryQueue("downloads"), func(context.Context, queue.Message) error { return nil },
		Config{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

// =============================================================================
// Middleware
// =============================================================================

func TestChain_Order(t *testing.T) {
	var calls []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, msg queue.Message) error {
				calls = append(calls, name)
				return next(ctx, msg)
			}
		}
	}
	h := Chain(func(context.Context, queue.Message) error {
		calls = append(calls, "handler")
		return nil
	}, mw("outer"), mw("inner"))

	_ = h(context.Background(), queue.Message{})
	if len(calls) != 3 || calls[0] != "outer" || calls[1] != "inner" || calls[2] != "handler" {
		t.Errorf("expected [outer inner handler], got %v", calls)
	}
}

func TestWithRecover(t *testing.T) {
	h := Chain(func(context.Context, queue.Message) error {
		panic("kaboom")
	}, WithRecover())

	if err := h(context.Background(), queue.Message{ID: "m"}); err == nil {
		t.Error("expected panic to become an error")
	}
}

func TestWithTimeout(t *testing.T) {
	h := Chain(func(ctx context.Context, _ queue.Message) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(10*time.Millisecond), WithLogging(slog.Default()), WithMetrics("test"))

	err := h(context.Background(), queue.Message{ID: "m"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
