package domain

import "time"

// Classification is the retry decision derived from a failure.
type Classification struct {
	Category   ErrorCategory
	Retryable  bool
	RetryAfter *time.Time
	// MaxRetries overrides the job's ceiling when set.
	MaxRetries *int
	Reason     string
}

// NeedsAlert reports whether a human should look at the failure.
func (c Classification) NeedsAlert() bool {
	switch c.Category {
	case CategoryCookieExpired, CategoryPermanent:
		return true
	default:
		return false
	}
}
