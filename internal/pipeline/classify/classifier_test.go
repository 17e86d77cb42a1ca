package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/recovery"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestClassifier() *Classifier {
	return New(Config{
		Strategy: &recovery.ExponentialBackoff{
			InitialDelay: time.Second,
			MaxDelay:     time.Minute,
			MaxAttempts:  5,
		},
		ScheduledFloor:      10 * time.Minute,
		DefaultMaxRetries:   5,
		ScheduledMaxRetries: 24,
	})
}

// =============================================================================
// Category Tests
// =============================================================================

func TestClassify_PermanentIsNeverRetryable(t *testing.T) {
	c := newTestClassifier()
	perms := []error{
		&PermanentContentError{Reason: "removed"},
		fmt.Errorf("wrapped: %w", &PermanentContentError{Reason: "removed"}),
		&HTTPError{Status: 404, URL: "https://x"},
		&HTTPError{Status: 410, URL: "https://x"},
		status.Error(codes.NotFound, "no such video"),
		errors.New("ERROR: [youtube] abc: Video unavailable"),
		errors.New("ERROR: Private video"),
	}

	for _, e := range perms {
		for prior := 0; prior < 3; prior++ {
			got := c.Classify(e, Hints{Now: testNow}, prior)
			if got.Category != domain.CategoryPermanent {
				t.Errorf("%v: expected permanent, got %s", e, got.Category)
			}
			if got.Retryable {
				t.Errorf("%v: permanent must not be retryable", e)
			}
		}
	}
}

func TestClassify_CookieExpired(t *testing.T) {
	c := newTestClassifier()
	cases := []error{
		&AuthenticationExpiredError{Reason: "cookies"},
		&HTTPError{Status: 401},
		status.Error(codes.Unauthenticated, "expired"),
		errors.New("Sign in to confirm you're not a bot. Use --cookies"),
	}
	for _, e := range cases {
		got := c.Classify(e, Hints{Now: testNow}, 0)
		if got.Category != domain.CategoryCookieExpired {
			t.Errorf("%v: expected cookie_expired, got %s", e, got.Category)
		}
		if got.Retryable {
			t.Errorf("%v: auth failure must not be retryable", e)
		}
		if !got.NeedsAlert() {
			t.Errorf("%v: auth failure must alert", e)
		}
	}
}

func TestClassify_TransientBackoffGrowsAndCaps(t *testing.T) {
	c := newTestClassifier()
	err := &TransientError{Reason: "reset"}

	got0 := c.Classify(err, Hints{Now: testNow}, 0)
	got3 := c.Classify(err, Hints{Now: testNow}, 3)
	got20 := c.Classify(err, Hints{Now: testNow}, 20)

	if !got0.Retryable || got0.Category != domain.CategoryTransient {
		t.Fatalf("expected retryable transient, got %+v", got0)
	}
	if want := testNow.Add(time.Second); !got0.RetryAfter.Equal(want) {
		t.Errorf("expected %v, got %v", want, got0.RetryAfter)
	}
	if want := testNow.Add(8 * time.Second); !got3.RetryAfter.Equal(want) {
		t.Errorf("expected %v, got %v", want, got3.RetryAfter)
	}
	if want := testNow.Add(time.Minute); !got20.RetryAfter.Equal(want) {
		t.Errorf("expected cap %v, got %v", want, got20.RetryAfter)
	}
	if got0.MaxRetries == nil || *got0.MaxRetries != 5 {
		t.Errorf("expected default ceiling 5, got %v", got0.MaxRetries)
	}
}

func TestClassify_TimeoutsAndServerErrors(t *testing.T) {
	c := newTestClassifier()
	cases := []error{
		context.DeadlineExceeded,
		fmt.Errorf("fetch: %w", context.DeadlineExceeded),
		&HTTPError{Status: 503},
		&HTTPError{Status: 429},
		status.Error(codes.Unavailable, "try later"),
		&UnexpectedProviderError{Err: errors.New("boom")},
	}
	for _, e := range cases {
		got := c.Classify(e, Hints{Now: testNow}, 0)
		if got.Category != domain.CategoryTransient || !got.Retryable {
			t.Errorf("%v: expected retryable transient, got %+v", e, got)
		}
	}
}

func TestClassify_UnknownDefaultsToTransient(t *testing.T) {
	c := newTestClassifier()
	got := c.Classify(errors.New("something odd happened"), Hints{Now: testNow}, 0)
	if got.Category != domain.CategoryTransient || !got.Retryable {
		t.Fatalf("expected retryable transient, got %+v", got)
	}
	if got.MaxRetries == nil || *got.MaxRetries != 5 {
		t.Errorf("expected ceiling 5, got %v", got.MaxRetries)
	}
}

func TestClassify_ScheduledUsesReleaseTime(t *testing.T) {
	c := newTestClassifier()
	release := testNow.Add(time.Hour)

	got := c.Classify(&ScheduledUnavailableError{ReleaseAt: &release, Reason: "premiere"}, Hints{Now: testNow}, 0)
	if got.Category != domain.CategoryScheduled || !got.Retryable {
		t.Fatalf("expected retryable scheduled, got %+v", got)
	}
	if !got.RetryAfter.Equal(release) {
		t.Errorf("expected %v, got %v", release, got.RetryAfter)
	}
	if got.MaxRetries == nil || *got.MaxRetries != 24 {
		t.Errorf("expected extended ceiling 24, got %v", got.MaxRetries)
	}
}

func TestClassify_ScheduledFloorWithoutReleaseTime(t *testing.T) {
	c := newTestClassifier()
	got := c.Classify(errors.New("Premieres in 2 hours"), Hints{Now: testNow}, 0)
	if got.Category != domain.CategoryScheduled {
		t.Fatalf("expected scheduled, got %s", got.Category)
	}
	if want := testNow.Add(10 * time.Minute); !got.RetryAfter.Equal(want) {
		t.Errorf("expected floor %v, got %v", want, got.RetryAfter)
	}
}

func TestClassify_HintReleaseAtRefinesTransient(t *testing.T) {
	c := newTestClassifier()
	release := testNow.Add(2 * time.Hour)
	got := c.Classify(&TransientError{Reason: "x"}, Hints{Now: testNow, ReleaseAt: &release}, 1)
	if got.Category != domain.CategoryScheduled || !got.RetryAfter.Equal(release) {
		t.Errorf("expected scheduled at %v, got %+v", release, got)
	}

	// a scheduled error without its own time takes the metadata time
	got = c.Classify(&ScheduledUnavailableError{Reason: "premiere"}, Hints{Now: testNow, ReleaseAt: &release}, 0)
	if got.Category != domain.CategoryScheduled || !got.RetryAfter.Equal(release) {
		t.Errorf("expected scheduled at %v, got %+v", release, got)
	}
}

func TestClassify_TypedFailuresIgnoreReleaseHint(t *testing.T) {
	c := newTestClassifier()
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	for _, release := range []time.Time{past, future} {
		hints := Hints{Now: testNow, ReleaseAt: &release}

		got := c.Classify(&PermanentContentError{Reason: "video unavailable"}, hints, 0)
		if got.Category != domain.CategoryPermanent {
			t.Errorf("expected permanent, got %s", got.Category)
		}
		if got.Retryable {
			t.Error("expected permanent failure to stay non-retryable")
		}

		got = c.Classify(&AuthenticationExpiredError{Reason: "sign in"}, hints, 0)
		if got.Category != domain.CategoryCookieExpired {
			t.Errorf("expected cookie_expired, got %s", got.Category)
		}
		if got.MaxRetries != nil {
			t.Errorf("expected no retry ceiling for cookie failure, got %d", *got.MaxRetries)
		}

		got = c.Classify(errors.New("ERROR: Private video"), hints, 0)
		if got.Category != domain.CategoryPermanent {
			t.Errorf("expected permanent for text hint, got %s", got.Category)
		}
	}
}

func TestMatchMessage_SharedTable(t *testing.T) {
	cases := map[string]domain.ErrorCategory{
		"This video is age-restricted":               domain.CategoryCookieExpired,
		"cookie expired for account":                 domain.CategoryCookieExpired,
		"HTTP Error 404: Not Found":                  domain.CategoryPermanent,
		"ERROR: x is not a valid URL":                domain.CategoryPermanent,
		"HTTP Error 503: Service Unavailable":        domain.CategoryTransient,
		"This live event will begin in 3 hours":      domain.CategoryScheduled,
		"unable to download webpage: HTTP Error 429": domain.CategoryTransient,
	}
	for msg, want := range cases {
		h, ok := MatchMessage(msg)
		if !ok {
			t.Errorf("%q: expected a match", msg)
			continue
		}
		if h.Category != want {
			t.Errorf("%q: expected %s, got %s", msg, want, h.Category)
		}
	}
	if _, ok := MatchMessage("something odd"); ok {
		t.Error("expected no match for unknown text")
	}
}

func TestClassify_GRPCDetails(t *testing.T) {
	c := newTestClassifier()

	st, err := status.New(codes.Unavailable, "busy").WithDetails(&errdetails.RetryInfo{
		RetryDelay: durationpb.New(90 * time.Second),
	})
	if err != nil {
		t.Fatalf("WithDetails failed: %v", err)
	}
	got := c.Classify(st.Err(), Hints{Now: testNow}, 0)
	if got.Category != domain.CategoryTransient {
		t.Fatalf("expected transient, got %s", got.Category)
	}
	if want := testNow.Add(90 * time.Second); !got.RetryAfter.Equal(want) {
		t.Errorf("expected RetryInfo delay %v, got %v", want, got.RetryAfter)
	}

	release := testNow.Add(3 * time.Hour)
	st, err = status.New(codes.FailedPrecondition, "not yet").WithDetails(&errdetails.ErrorInfo{
		Reason:   ReasonResourceScheduled,
		Metadata: map[string]string{MetadataReleaseAt: release.Format(time.RFC3339)},
	})
	if err != nil {
		t.Fatalf("WithDetails failed: %v", err)
	}
	got = c.Classify(st.Err(), Hints{Now: testNow}, 0)
	if got.Category != domain.CategoryScheduled || !got.RetryAfter.Equal(release) {
		t.Errorf("expected scheduled at %v, got %+v", release, got)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := newTestClassifier()
	err := errors.New("connection reset by peer")
	a := c.Classify(err, Hints{Now: testNow}, 2)
	b := c.Classify(err, Hints{Now: testNow}, 2)
	if a.Category != b.Category || !a.RetryAfter.Equal(*b.RetryAfter) || a.Reason != b.Reason {
		t.Errorf("expected identical results, got %+v and %+v", a, b)
	}
}
