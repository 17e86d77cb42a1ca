// Package classify maps fetch and transfer failures to retry decisions.
package classify

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/recovery"
)

// ErrorInfo reasons understood from gRPC providers.
const (
	ReasonCookieExpired     = "COOKIE_EXPIRED"
	ReasonResourceScheduled = "RESOURCE_SCHEDULED"
	ReasonContentRemoved    = "CONTENT_REMOVED"

	// MetadataReleaseAt is the ErrorInfo metadata key carrying an RFC3339 release time.
	MetadataReleaseAt = "release_at"
)

// Config holds classifier policy.
type Config struct {
	Strategy            recovery.RetryStrategy
	ScheduledFloor      time.Duration
	DefaultMaxRetries   int
	ScheduledMaxRetries int
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		Strategy:            recovery.DefaultBackoff(),
		ScheduledFloor:      15 * time.Minute,
		DefaultMaxRetries:   domain.DefaultMaxRetries,
		ScheduledMaxRetries: 24,
	}
}

// Hints carry context that is not part of the error itself.
type Hints struct {
	// Now is the reference time for RetryAfter. Required.
	Now time.Time
	// ReleaseAt is an upstream release time found in fetch metadata.
	ReleaseAt *time.Time
}

// Classifier is a pure function of (error, hints, priorRetryCount).
type Classifier struct {
	cfg Config
}

// New creates a classifier, filling zero config fields with defaults.
func New(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.Strategy == nil {
		cfg.Strategy = def.Strategy
	}
	if cfg.ScheduledFloor <= 0 {
		cfg.ScheduledFloor = def.ScheduledFloor
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = def.DefaultMaxRetries
	}
	if cfg.ScheduledMaxRetries <= 0 {
		cfg.ScheduledMaxRetries = def.ScheduledMaxRetries
	}
	return &Classifier{cfg: cfg}
}

// Classify returns the retry decision for err. A release time in hints only
// refines a retryable outcome; typed cookie and permanent failures keep their
// category.
func (c *Classifier) Classify(err error, hints Hints, priorRetryCount int) domain.Classification {
	out := c.classify(err, hints, priorRetryCount)
	if hints.ReleaseAt != nil && out.Category == domain.CategoryTransient {
		return c.scheduled(hints.ReleaseAt, hints.Now, priorRetryCount, "release time in metadata")
	}
	return out
}

func (c *Classifier) classify(err error, hints Hints, priorRetryCount int) domain.Classification {
	var (
		scheduledErr  *ScheduledUnavailableError
		authErr       *AuthenticationExpiredError
		permanentErr  *PermanentContentError
		transientErr  *TransientError
		unexpectedErr *UnexpectedProviderError
	)
	switch {
	case err == nil:
		return c.transient(hints.Now, priorRetryCount, "unclassified failure")
	case errors.As(err, &scheduledErr):
		return c.scheduled(orHint(scheduledErr.ReleaseAt, hints), hints.Now, priorRetryCount, scheduledErr.Reason)
	case errors.As(err, &authErr):
		return cookieExpired(authErr.Reason)
	case errors.As(err, &permanentErr):
		return permanent(permanentErr.Reason)
	case errors.As(err, &transientErr):
		return c.transient(hints.Now, priorRetryCount, transientErr.Reason)
	case errors.As(err, &unexpectedErr):
		return c.transient(hints.Now, priorRetryCount, "unexpected provider error")
	case errors.Is(err, context.DeadlineExceeded):
		return c.transient(hints.Now, priorRetryCount, "timeout")
	case errors.Is(err, context.Canceled):
		return c.transient(hints.Now, priorRetryCount, "canceled")
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown && st.Code() != codes.OK {
		return c.fromGRPC(st, hints, priorRetryCount)
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return c.fromHTTPStatus(sc.StatusCode(), hints.Now, priorRetryCount)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.transient(hints.Now, priorRetryCount, "network timeout")
	}

	return c.fromMessage(err.Error(), hints, priorRetryCount)
}

// orHint prefers a release time carried by the error over the metadata hint.
func orHint(releaseAt *time.Time, hints Hints) *time.Time {
	if releaseAt != nil {
		return releaseAt
	}
	return hints.ReleaseAt
}

func (c *Classifier) fromGRPC(st *status.Status, hints Hints, prior int) domain.Classification {
	now := hints.Now
	var retryDelay *time.Duration
	for _, d := range st.Details() {
		switch info := d.(type) {
		case *errdetails.ErrorInfo:
			switch info.GetReason() {
			case ReasonCookieExpired:
				return cookieExpired(st.Message())
			case ReasonContentRemoved:
				return permanent(st.Message())
			case ReasonResourceScheduled:
				var releaseAt *time.Time
				if raw := info.GetMetadata()[MetadataReleaseAt]; raw != "" {
					if t, err := time.Parse(time.RFC3339, raw); err == nil {
						releaseAt = &t
					}
				}
				return c.scheduled(orHint(releaseAt, hints), now, prior, st.Message())
			}
		case *errdetails.RetryInfo:
			if info.GetRetryDelay() != nil {
				delay := info.GetRetryDelay().AsDuration()
				retryDelay = &delay
			}
		}
	}

	switch st.Code() {
	case codes.Unauthenticated:
		return cookieExpired(st.Message())
	case codes.NotFound, codes.InvalidArgument, codes.PermissionDenied,
		codes.FailedPrecondition, codes.OutOfRange, codes.Unimplemented:
		return permanent(st.Code().String() + ": " + st.Message())
	default:
		out := c.transient(now, prior, st.Code().String())
		if retryDelay != nil {
			at := now.Add(*retryDelay)
			out.RetryAfter = &at
		}
		return out
	}
}

func (c *Classifier) fromHTTPStatus(code int, now time.Time, prior int) domain.Classification {
	switch {
	case code == http.StatusUnauthorized:
		return cookieExpired(http.StatusText(code))
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code == http.StatusForbidden:
		return c.transient(now, prior, http.StatusText(code))
	case code >= 500:
		return c.transient(now, prior, http.StatusText(code))
	case code >= 400:
		return permanent(http.StatusText(code))
	default:
		return c.transient(now, prior, "unexpected status")
	}
}

// fromMessage is the last resort for errors that only carry text.
func (c *Classifier) fromMessage(msg string, hints Hints, prior int) domain.Classification {
	h, ok := MatchMessage(msg)
	if !ok {
		return c.transient(hints.Now, prior, "unclassified failure")
	}
	switch h.Category {
	case domain.CategoryCookieExpired:
		return cookieExpired(h.Fragment)
	case domain.CategoryScheduled:
		return c.scheduled(hints.ReleaseAt, hints.Now, prior, h.Fragment)
	case domain.CategoryPermanent:
		return permanent(h.Fragment)
	default:
		return c.transient(hints.Now, prior, h.Fragment)
	}
}

func (c *Classifier) transient(now time.Time, prior int, reason string) domain.Classification {
	at := now.Add(c.cfg.Strategy.GetDelay(prior))
	maxRetries := c.cfg.DefaultMaxRetries
	return domain.Classification{
		Category:   domain.CategoryTransient,
		Retryable:  true,
		RetryAfter: &at,
		MaxRetries: &maxRetries,
		Reason:     reason,
	}
}

func (c *Classifier) scheduled(releaseAt *time.Time, now time.Time, prior int, reason string) domain.Classification {
	var at time.Time
	if releaseAt != nil && releaseAt.After(now) {
		at = *releaseAt
	} else {
		at = now.Add(max(c.cfg.ScheduledFloor, c.cfg.Strategy.GetDelay(prior)))
	}
	maxRetries := c.cfg.ScheduledMaxRetries
	return domain.Classification{
		Category:   domain.CategoryScheduled,
		Retryable:  true,
		RetryAfter: &at,
		MaxRetries: &maxRetries,
		Reason:     reason,
	}
}

func cookieExpired(reason string) domain.Classification {
	return domain.Classification{
		Category: domain.CategoryCookieExpired,
		Reason:   reason,
	}
}

func permanent(reason string) domain.Classification {
	return domain.Classification{
		Category: domain.CategoryPermanent,
		Reason:   reason,
	}
}
