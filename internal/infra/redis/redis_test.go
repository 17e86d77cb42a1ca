package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
)

func setupRedis(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("failed to get port: %v", err)
	}

	client, err := NewClient(Config{URL: fmt.Sprintf("redis://%s:%s/0", host, port.Port()), KeyPrefix: "test"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestQueue_Lifecycle(t *testing.T) {
	client := setupRedis(t)
	q := NewQueue(client, "downloads")
	ctx := context.Background()

	id, err := q.Send(ctx, []byte(`{"resourceId":"r1"}`), 0)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := q.Send(ctx, []byte("later"), time.Hour); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	msgs, err := q.Receive(ctx, 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != id {
		t.Fatalf("expected one visible message, got %v", msgs)
	}
	if msgs[0].Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", msgs[0].Attempt)
	}
	if string(msgs[0].Body) != `{"resourceId":"r1"}` {
		t.Errorf("unexpected body %q", msgs[0].Body)
	}

	time.Sleep(100 * time.Millisecond)
	msgs, _ = q.Receive(ctx, 10, time.Minute)
	if len(msgs) != 1 || msgs[0].Attempt != 2 {
		t.Fatalf("expected redelivery with attempt 2, got %v", msgs)
	}

	if err := q.DeadLetter(ctx, id); err != nil {
		t.Fatalf("DeadLetter failed: %v", err)
	}
	if n, _ := q.DeadLetterCount(ctx); n != 1 {
		t.Errorf("expected 1 dead letter, got %d", n)
	}
	if depth, _ := q.Depth(ctx); depth != 1 {
		t.Errorf("expected depth 1, got %d", depth)
	}
}

func TestIdempotencyStore(t *testing.T) {
	client := setupRedis(t)
	store := NewIdempotencyStore(client)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire, got %v %v", ok, err)
	}
	ok, _ = store.Acquire(ctx, "k", time.Minute)
	if ok {
		t.Error("expected second acquire to fail")
	}

	if err := store.Complete(ctx, "k", []byte("done"), time.Minute); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	val, found, err := store.Get(ctx, "k")
	if err != nil || !found || string(val) != "done" {
		t.Errorf("expected stored result, got %q %v %v", val, found, err)
	}

	ok, _ = store.Acquire(ctx, "k", time.Minute)
	if !ok {
		t.Error("expected marker to be released after Complete")
	}
}

func TestStreamPublisher(t *testing.T) {
	client := setupRedis(t)
	pub := NewStreamPublisher(client, 10)
	ctx := context.Background()

	err := pub.Publish(ctx, domain.DownloadCompleted{ResourceID: "r1", CorrelationID: "c1", Size: 10})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	entries, err := client.rdb.XRange(ctx, pub.stream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Values["type"] != string(domain.EventTypeDownloadCompleted) {
		t.Errorf("unexpected type %v", entries[0].Values["type"])
	}
}

