package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/queue"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/metrics"
)

// Handler processes one message. A nil return acknowledges it.
type Handler func(ctx context.Context, msg queue.Message) error

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Chain applies middleware so that the first one listed runs outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// WithRecover turns a panic into an error for that message only.
func WithRecover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg queue.Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Handler panicked", "messageId", msg.ID, "panic", r, "stack", string(debug.Stack()))
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// WithTimeout bounds each handler invocation.
func WithTimeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, msg queue.Message) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, msg)
		}
	}
}

// WithLogging logs failures and slow handlers.
func WithLogging(log *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg queue.Message) error {
			start := time.Now()
			err := next(ctx, msg)
			elapsed := time.Since(start)

			switch {
			case err != nil:
				log.Warn("Message failed",
					"messageId", msg.ID,
					"attempt", msg.Attempt,
					"duration", elapsed,
					"error", err,
				)
			case elapsed > 10*time.Second:
				log.Info("Slow message", "messageId", msg.ID, "duration", elapsed)
			default:
				log.Debug("Message processed", "messageId", msg.ID, "duration", elapsed)
			}
			return err
		}
	}
}

// WithMetrics records outcome and latency per queue.
func WithMetrics(queueName string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg queue.Message) error {
			start := time.Now()
			err := next(ctx, msg)
			metrics.HandlerLatency.WithLabelValues(queueName).Observe(time.Since(start).Seconds())

			result := "ok"
			if _, later := RetryAt(err); later {
				result = "deferred"
			} else if err != nil {
				result = "error"
			}
			metrics.MessagesProcessed.WithLabelValues(queueName, result).Inc()
			return err
		}
	}
}
