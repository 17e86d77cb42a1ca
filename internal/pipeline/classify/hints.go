package classify

import (
	"strings"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
)

// MessageHint maps a lower-case fragment of provider output to a category.
type MessageHint struct {
	Fragment string
	Category domain.ErrorCategory
}

// MessageHints is the text policy for errors that carry no type. Order matters:
// the first matching fragment decides.
var MessageHints = []MessageHint{
	{"sign in to confirm", domain.CategoryCookieExpired},
	{"cookies are no longer valid", domain.CategoryCookieExpired},
	{"cookie expired", domain.CategoryCookieExpired},
	{"login required", domain.CategoryCookieExpired},
	{"use --cookies", domain.CategoryCookieExpired},
	{"age-restricted", domain.CategoryCookieExpired},

	{"premieres in", domain.CategoryScheduled},
	{"live event will begin", domain.CategoryScheduled},
	{"scheduled for release", domain.CategoryScheduled},
	{"not yet available", domain.CategoryScheduled},

	{"video unavailable", domain.CategoryPermanent},
	{"private video", domain.CategoryPermanent},
	{"has been removed", domain.CategoryPermanent},
	{"content removed", domain.CategoryPermanent},
	{"account associated with this video has been terminated", domain.CategoryPermanent},
	{"unsupported url", domain.CategoryPermanent},
	{"is not a valid url", domain.CategoryPermanent},
	{"invalid url", domain.CategoryPermanent},
	{"malformed", domain.CategoryPermanent},
	{"not found", domain.CategoryPermanent},
	{"404", domain.CategoryPermanent},

	{"http error 429", domain.CategoryTransient},
	{"too many requests", domain.CategoryTransient},
	{"timed out", domain.CategoryTransient},
	{"connection reset", domain.CategoryTransient},
	{"temporary failure in name resolution", domain.CategoryTransient},
	{"http error 5", domain.CategoryTransient},
	{"unable to download webpage", domain.CategoryTransient},
}

// MatchMessage returns the first hint found in msg.
func MatchMessage(msg string) (MessageHint, bool) {
	lower := strings.ToLower(msg)
	for _, h := range MessageHints {
		if strings.Contains(lower, h.Fragment) {
			return h, true
		}
	}
	return MessageHint{}, false
}
