package fetcher

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/classify"
)

var relativeRelease = regexp.MustCompile(`in (\d+) (second|minute|hour|day|week)s?`)

// classifyStderr maps a failed yt-dlp run onto the classify error types using
// the shared message table.
func classifyStderr(stderr string, runErr error, now time.Time) error {
	cause := fmt.Errorf("yt-dlp failed: %w: %s", runErr, stderr)

	h, ok := classify.MatchMessage(stderr)
	if !ok {
		return &classify.UnexpectedProviderError{Err: cause}
	}
	switch h.Category {
	case domain.CategoryCookieExpired:
		return &classify.AuthenticationExpiredError{Reason: h.Fragment}
	case domain.CategoryScheduled:
		return &classify.ScheduledUnavailableError{
			ReleaseAt: parseRelativeRelease(strings.ToLower(stderr), now),
			Reason:    h.Fragment,
		}
	case domain.CategoryPermanent:
		return &classify.PermanentContentError{Reason: h.Fragment, Err: cause}
	default:
		return &classify.TransientError{Reason: h.Fragment, Err: cause}
	}
}

// parseRelativeRelease reads "premieres in 3 hours" style phrases.
func parseRelativeRelease(msg string, now time.Time) *time.Time {
	m := relativeRelease.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return nil
	}
	var unit time.Duration
	switch m[2] {
	case "second":
		unit = time.Second
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	}
	t := now.Add(time.Duration(n) * unit)
	return &t
}
