package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidURL is returned for URLs that cannot name a remote resource.
var ErrInvalidURL = errors.New("invalid source url")

var youtubeID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
}

// ResourceID derives the stable identifier of the resource behind rawURL.
// Recognised YouTube URLs map to their video ID so every URL form of the same
// video shares one job. Anything else maps to a hash of the normalised URL.
func ResourceID(rawURL string) (string, error) {
	u, err := normalise(rawURL)
	if err != nil {
		return "", err
	}
	if id, ok := youtubeVideoID(u); ok {
		return id, nil
	}
	sum := sha256.Sum256([]byte(u.String()))
	return "u" + hex.EncodeToString(sum[:16]), nil
}

func normalise(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	// Encode sorts keys, so parameter order does not change the ID.
	u.RawQuery = u.Query().Encode()
	if u.Path == "/" {
		u.Path = ""
	}
	return u, nil
}

func youtubeVideoID(u *url.URL) (string, bool) {
	host := u.Hostname()
	var candidate string
	switch {
	case host == "youtu.be":
		candidate = strings.Trim(u.Path, "/")
	case youtubeHosts[host]:
		if v := u.Query().Get("v"); v != "" {
			candidate = v
			break
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 {
			switch parts[0] {
			case "shorts", "embed", "live", "v":
				candidate = parts[1]
			}
		}
	}
	if youtubeID.MatchString(candidate) {
		return candidate, true
	}
	return "", false
}
