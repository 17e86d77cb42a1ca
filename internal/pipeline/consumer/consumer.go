// Package consumer drains a queue in batches. Failures are isolated per message
// and reported as a list of message IDs; the rest of the batch is acknowledged.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/queue"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/metrics"
)

// RetryLaterError asks for redelivery no earlier than Until. The message is
// re-sent with a delay and does not count towards MaxReceives.
type RetryLaterError struct {
	Until  time.Time
	Reason string
}

func (e *RetryLaterError) Error() string {
	return fmt.Sprintf("retry later at %s: %s", e.Until.Format(time.RFC3339), e.Reason)
}

// RetryAt extracts the redelivery time from a RetryLaterError.
func RetryAt(err error) (time.Time, bool) {
	var rl *RetryLaterError
	if errors.As(err, &rl) {
		return rl.Until, true
	}
	return time.Time{}, false
}

// Failure describes one message that was not processed.
type Failure struct {
	MessageID string
	Err       error
	RetryAt   *time.Time
}

// BatchResult lists the failed messages of a batch.
type BatchResult struct {
	Failures []Failure
}

// FailedIDs returns the IDs of failed messages in batch order.
func (r BatchResult) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		ids = append(ids, f.MessageID)
	}
	return ids
}

// Config holds consumer configuration.
type Config struct {
	BatchSize    int           `yaml:"batch_size"    toml:"batch_size"`    // default: 10
	Concurrency  int           `yaml:"concurrency"   toml:"concurrency"`   // default: 4
	Visibility   time.Duration `yaml:"visibility"    toml:"visibility"`    // default: 5m
	MaxReceives  int           `yaml:"max_receives"  toml:"max_receives"`  // default: 5
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"` // default: 1s
}

// DefaultConfig returns default consumer configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:    10,
		Concurrency:  4,
		Visibility:   5 * time.Minute,
		MaxReceives:  5,
		PollInterval: time.Second,
	}
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithPartitionKey makes messages with the same key in one batch run one after another.
func WithPartitionKey(fn func(queue.Message) string) Option {
	return func(c *Consumer) { c.partition = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Consumer) { c.now = now }
}

// Consumer pulls batches from a queue and runs the handler on each message.
type Consumer struct {
	q         queue.Queue
	handler   Handler
	cfg       Config
	partition func(queue.Message) string
	now       func() time.Time
	log       *slog.Logger
}

// New creates a consumer. Zero config fields fall back to defaults.
func New(q queue.Queue, handler Handler, cfg Config, opts ...Option) *Consumer {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = def.Visibility
	}
	if cfg.MaxReceives <= 0 {
		cfg.MaxReceives = def.MaxReceives
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}

	c := &Consumer{
		q:       q,
		handler: handler,
		cfg:     cfg,
		now:     time.Now,
		log:     slog.Default().With("component", "consumer", "queue", q.Name()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProcessBatch runs the handler on every message and never aborts early.
func (c *Consumer) ProcessBatch(ctx context.Context, msgs []queue.Message) BatchResult {
	var (
		mu       sync.Mutex
		failures = make(map[int]Failure)
	)

	record := func(idx int, msg queue.Message, err error) {
		f := Failure{MessageID: msg.ID, Err: err}
		if until, ok := RetryAt(err); ok {
			f.RetryAt = &until
		}
		mu.Lock()
		failures[idx] = f
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)

	for _, group := range c.groups(msgs) {
		g.Go(func() error {
			for _, idx := range group {
				if err := c.handler(ctx, msgs[idx]); err != nil {
					record(idx, msgs[idx], err)
				}
			}
			// individual failures never fail the batch
			return nil
		})
	}
	_ = g.Wait()

	idxs := make([]int, 0, len(failures))
	for idx := range failures {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)

	result := BatchResult{Failures: make([]Failure, 0, len(idxs))}
	for _, idx := range idxs {
		result.Failures = append(result.Failures, failures[idx])
	}
	return result
}

// groups splits message indexes into partitions that keep batch order.
func (c *Consumer) groups(msgs []queue.Message) [][]int {
	if c.partition == nil {
		out := make([][]int, len(msgs))
		for i := range msgs {
			out[i] = []int{i}
		}
		return out
	}

	var out [][]int
	pos := make(map[string]int)
	for i, m := range msgs {
		key := c.partition(m)
		if key == "" {
			out = append(out, []int{i})
			continue
		}
		if p, ok := pos[key]; ok {
			out[p] = append(out[p], i)
			continue
		}
		pos[key] = len(out)
		out = append(out, []int{i})
	}
	return out
}

// Run polls the queue until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("Starting consumer",
		"batchSize", c.cfg.BatchSize,
		"concurrency", c.cfg.Concurrency,
		"maxReceives", c.cfg.MaxReceives,
	)

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Consumer stopped")
			return nil
		default:
		}

		n, err := c.Poll(ctx)
		if err != nil {
			c.log.Error("Failed to poll queue", "error", err)
		}
		if err != nil || n == 0 {
			select {
			case <-ctx.Done():
				c.log.Info("Consumer stopped")
				return nil
			case <-time.After(c.cfg.PollInterval):
			}
		}
	}
}

// Poll receives and settles a single batch, returning the number of messages handled.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	msgs, err := c.q.Receive(ctx, c.cfg.BatchSize, c.cfg.Visibility)
	if err != nil {
		return 0, fmt.Errorf("failed to receive: %w", err)
	}
	if depth, err := c.q.Depth(ctx); err == nil {
		metrics.QueueDepth.WithLabelValues(c.q.Name()).Set(float64(depth))
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	result := c.ProcessBatch(ctx, msgs)
	c.settle(context.WithoutCancel(ctx), msgs, result)
	return len(msgs), nil
}

// settle acknowledges successes and reschedules or parks failures.
func (c *Consumer) settle(ctx context.Context, msgs []queue.Message, result BatchResult) {
	failed := make(map[string]Failure, len(result.Failures))
	for _, f := range result.Failures {
		failed[f.MessageID] = f
	}

	ack := make([]string, 0, len(msgs))
	for _, m := range msgs {
		f, isFailed := failed[m.ID]
		if !isFailed {
			ack = append(ack, m.ID)
			continue
		}

		if f.RetryAt != nil {
			// fresh copy so deferred redelivery does not burn receive attempts
			delay := f.RetryAt.Sub(c.now())
			if delay < 0 {
				delay = 0
			}
			if _, err := c.q.Send(ctx, m.Body, delay); err != nil {
				c.log.Error("Failed to defer message", "messageId", m.ID, "error", err)
				continue
			}
			ack = append(ack, m.ID)
			continue
		}

		if m.Attempt >= c.cfg.MaxReceives {
			c.log.Error("Dead-lettering message",
				"messageId", m.ID,
				"attempt", m.Attempt,
				"error", f.Err,
			)
			if err := c.q.DeadLetter(ctx, m.ID); err != nil {
				c.log.Error("Failed to dead-letter message", "messageId", m.ID, "error", err)
			} else {
				metrics.DeadLettered.WithLabelValues(c.q.Name()).Inc()
			}
			continue
		}

		if err := c.q.Retry(ctx, m.ID, c.backoff(m.Attempt)); err != nil {
			c.log.Warn("Failed to reschedule message", "messageId", m.ID, "error", err)
		}
	}

	if len(ack) > 0 {
		if err := c.q.Ack(ctx, ack...); err != nil {
			c.log.Error("Failed to ack messages", "count", len(ack), "error", err)
		}
	}
}

// backoff grows with the receive count and is capped by the visibility timeout.
func (c *Consumer) backoff(attempt int) time.Duration {
	d := time.Second << min(attempt, 16)
	if d > c.cfg.Visibility {
		return c.cfg.Visibility
	}
	return d
}
