package recovery

import (
	"math"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
)

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay for the given attempt (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if a classified failure gets another attempt.
	// nextCount is the retry count the job would have after this failure.
	ShouldRetry(c domain.Classification, nextCount, maxRetries int) bool
}

// ExponentialBackoff implements a standard backoff strategy.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultBackoff returns defaults for media fetches.
// 30s, 1m, 2m, 4m, 8m ... (Max 1h)
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 30 * time.Second,
		MaxDelay:     time.Hour,
		MaxAttempts:  domain.DefaultMaxRetries,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks the failure is retryable and the ceiling is not reached.
// A zero maxRetries falls back to MaxAttempts.
func (s *ExponentialBackoff) ShouldRetry(c domain.Classification, nextCount, maxRetries int) bool {
	if maxRetries <= 0 {
		maxRetries = s.MaxAttempts
	}
	if nextCount >= maxRetries {
		return false
	}
	return c.Retryable
}
