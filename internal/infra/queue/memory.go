package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	msg       Message
	visibleAt time.Time
}

// MemoryQueue is an in-process Queue for single-node runs and tests.
type MemoryQueue struct {
	name string
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	dead    []Message
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(name string) *MemoryQueue {
	return &MemoryQueue{
		name:    name,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// WithClock overrides the time source.
func (q *MemoryQueue) WithClock(now func() time.Time) *MemoryQueue {
	q.now = now
	return q
}

func (q *MemoryQueue) Name() string { return q.name }

func (q *MemoryQueue) Send(ctx context.Context, body []byte, delay time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	id := uuid.NewString()
	q.entries[id] = &entry{
		msg: Message{
			ID:         id,
			Body:       append([]byte(nil), body...),
			EnqueuedAt: now,
		},
		visibleAt: now.Add(delay),
	}
	return id, nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	ready := make([]*entry, 0)
	for _, e := range q.entries {
		if !e.visibleAt.After(now) {
			ready = append(ready, e)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].visibleAt.Equal(ready[j].visibleAt) {
			return ready[i].msg.EnqueuedAt.Before(ready[j].msg.EnqueuedAt)
		}
		return ready[i].visibleAt.Before(ready[j].visibleAt)
	})
	if max > 0 && len(ready) > max {
		ready = ready[:max]
	}

	out := make([]Message, 0, len(ready))
	for _, e := range ready {
		e.msg.Attempt++
		e.visibleAt = now.Add(visibility)
		out = append(out, e.msg)
	}
	return out, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, ids ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range ids {
		delete(q.entries, id)
	}
	return nil
}

func (q *MemoryQueue) Retry(ctx context.Context, id string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return ErrMessageNotFound
	}
	e.visibleAt = q.now().Add(delay)
	return nil
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return ErrMessageNotFound
	}
	delete(q.entries, id)
	q.dead = append(q.dead, e.msg)
	return nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

// DeadLettered returns a copy of the parked messages.
func (q *MemoryQueue) DeadLettered() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.dead...)
}
