package classify

import (
	"fmt"
	"time"
)

// TransientError is a failure expected to clear up on its own.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %s: %v", e.Reason, e.Err)
	}
	return "transient: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// ScheduledUnavailableError means the resource exists but is not released yet.
type ScheduledUnavailableError struct {
	ReleaseAt *time.Time
	Reason    string
}

func (e *ScheduledUnavailableError) Error() string {
	if e.ReleaseAt != nil {
		return fmt.Sprintf("scheduled: %s (release at %s)", e.Reason, e.ReleaseAt.UTC().Format(time.RFC3339))
	}
	return "scheduled: " + e.Reason
}

// AuthenticationExpiredError means the provider credentials (cookies) need a human.
type AuthenticationExpiredError struct {
	Reason string
}

func (e *AuthenticationExpiredError) Error() string {
	return "authentication expired: " + e.Reason
}

// PermanentContentError means retrying will never succeed.
type PermanentContentError struct {
	Reason string
	Err    error
}

func (e *PermanentContentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent: %s: %v", e.Reason, e.Err)
	}
	return "permanent: " + e.Reason
}

func (e *PermanentContentError) Unwrap() error { return e.Err }

// UnexpectedProviderError wraps a provider failure nobody anticipated.
// It is retried like a transient error.
type UnexpectedProviderError struct {
	Err error
}

func (e *UnexpectedProviderError) Error() string {
	return fmt.Sprintf("unexpected provider error: %v", e.Err)
}

func (e *UnexpectedProviderError) Unwrap() error { return e.Err }

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// HTTPError is a non-2xx response from an upstream HTTP call.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

func (e *HTTPError) StatusCode() int { return e.Status }
