// Package fetcher reads media metadata with yt-dlp and copies the selected
// format into the object store.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/classify"
)

// RunFunc runs an external command and returns its captured output.
type RunFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// ExecRun runs the command with os/exec.
func ExecRun(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Config holds fetcher settings.
type Config struct {
	Binary      string   `yaml:"binary"       toml:"binary"`       // default: yt-dlp
	CookiesPath string   `yaml:"cookies_path" toml:"cookies_path"` // Netscape cookie jar
	Proxies     []string `yaml:"proxies"      toml:"proxies"`      // rotated per fetch
	ExtraArgs   []string `yaml:"extra_args"   toml:"extra_args"`
	// URLTTL is how long a resolved download URL stays bound to the proxy
	// that resolved it (default: 6h).
	URLTTL time.Duration `yaml:"url_ttl" toml:"url_ttl"`
}

// YTDLP implements the orchestrator's MediaFetcher.
type YTDLP struct {
	cfg     Config
	run     RunFunc
	store   ObjectStore
	client  HTTPDoer
	proxies []string
	next    atomic.Uint64
	// Download URLs are only valid from the address that resolved them.
	routes *expirable.LRU[string, string]
	now    func() time.Time
	log    *slog.Logger
}

// Option configures a YTDLP fetcher.
type Option func(*YTDLP)

// WithRunner replaces the command runner.
func WithRunner(run RunFunc) Option {
	return func(f *YTDLP) { f.run = run }
}

// WithHTTPClient replaces the client used for transfers without a proxy.
func WithHTTPClient(c HTTPDoer) Option {
	return func(f *YTDLP) { f.client = c }
}

// WithClock replaces the clock used to resolve relative release times.
func WithClock(now func() time.Time) Option {
	return func(f *YTDLP) { f.now = now }
}

// New creates a fetcher that stores transfers in store.
func New(cfg Config, store ObjectStore, opts ...Option) *YTDLP {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 6 * time.Hour
	}
	f := &YTDLP{
		cfg:     cfg,
		run:     ExecRun,
		store:   store,
		client:  defaultClient,
		proxies: normalizeProxyList(cfg.Proxies),
		routes:  expirable.NewLRU[string, string](1024, nil, cfg.URLTTL),
		now:     time.Now,
		log:     slog.Default().With("component", "fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchInfo extracts metadata for sourceURL. Failures are reported through
// the result, already mapped onto the classify error types.
func (f *YTDLP) FetchInfo(ctx context.Context, sourceURL string) domain.FetchResult {
	proxy := f.pickProxy()
	args := []string{"-J", "--no-playlist", "--no-warnings", "--ignore-no-formats-error"}
	if f.cfg.CookiesPath != "" {
		args = append(args, "--cookies", f.cfg.CookiesPath)
	}
	if proxy != "" {
		args = append(args, "--proxy", proxy)
	}
	args = append(args, f.cfg.ExtraArgs...)
	args = append(args, sourceURL)

	start := time.Now()
	stdout, stderr, err := f.run(ctx, f.cfg.Binary, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.FetchResult{Err: &classify.TransientError{Reason: "metadata fetch timed out", Err: ctxErr}}
		}
		msg := strings.TrimSpace(string(stderr))
		f.log.Warn("yt-dlp failed", "url", sourceURL, "proxy", proxy != "", "stderr", msg)
		return domain.FetchResult{Err: classifyStderr(msg, err, f.now())}
	}
	if len(stdout) == 0 {
		return domain.FetchResult{Err: &classify.UnexpectedProviderError{Err: fmt.Errorf("yt-dlp returned empty output")}}
	}

	var v videoInfo
	if err := json.Unmarshal(stdout, &v); err != nil {
		return domain.FetchResult{Err: &classify.UnexpectedProviderError{Err: fmt.Errorf("failed to decode yt-dlp output: %w", err)}}
	}

	info := &domain.MediaInfo{
		SourceURL: sourceURL,
		Metadata:  v.metadata(),
	}
	if v.LiveStatus == "is_upcoming" {
		var releaseAt *time.Time
		if v.ReleaseTimestamp > 0 {
			t := time.Unix(v.ReleaseTimestamp, 0).UTC()
			releaseAt = &t
		}
		info.ReleaseAt = releaseAt
		return domain.FetchResult{
			Info: info,
			Err:  &classify.ScheduledUnavailableError{ReleaseAt: releaseAt, Reason: "upcoming " + v.ID},
		}
	}

	format, ok := v.bestFormat()
	if !ok {
		return domain.FetchResult{
			Info: info,
			Err:  &classify.PermanentContentError{Reason: "no downloadable mp4 format"},
		}
	}
	info.DownloadURL = format.URL
	info.ExpectedSize = format.Filesize
	if format.Ext != "" {
		info.Metadata.Ext = format.Ext
	}
	if proxy != "" {
		f.routes.Add(format.URL, proxy)
	}

	f.log.Debug("Metadata fetched",
		"url", sourceURL,
		"id", v.ID,
		"format", format.FormatID,
		"took", time.Since(start),
	)
	return domain.FetchResult{Success: true, Info: info}
}

func (f *YTDLP) pickProxy() string {
	if len(f.proxies) == 0 {
		return ""
	}
	i := f.next.Add(1) - 1
	return f.proxies[i%uint64(len(f.proxies))]
}

// normalizeProxyList trims entries and drops blanks and duplicates, keeping order.
func normalizeProxyList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// videoInfo is the subset of `yt-dlp -J` output the pipeline uses.
type videoInfo struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Description      string       `json:"description"`
	Thumbnail        string       `json:"thumbnail"`
	Timestamp        int64        `json:"timestamp"`
	ReleaseTimestamp int64        `json:"release_timestamp"`
	LiveStatus       string       `json:"live_status"`
	UploaderID       string       `json:"uploader_id"`
	Uploader         string       `json:"uploader"`
	Ext              string       `json:"ext"`
	Duration         float64      `json:"duration"`
	Formats          []formatInfo `json:"formats"`
}

type formatInfo struct {
	FormatID string `json:"format_id"`
	Ext      string `json:"ext"`
	Protocol string `json:"protocol"`
	URL      string `json:"url"`
	Filesize int64  `json:"filesize"`
}

// bestFormat picks the last mp4 served over plain https. yt-dlp lists
// formats from worst to best.
func (v *videoInfo) bestFormat() (formatInfo, bool) {
	for i := len(v.Formats) - 1; i >= 0; i-- {
		fm := v.Formats[i]
		if fm.Ext == "mp4" && fm.Protocol == "https" && fm.URL != "" {
			return fm, true
		}
	}
	return formatInfo{}, false
}

func (v *videoInfo) metadata() domain.MediaMetadata {
	m := domain.MediaMetadata{
		Title:        v.Title,
		Description:  v.Description,
		ThumbnailURL: v.Thumbnail,
		UploaderID:   v.UploaderID,
		UploaderName: v.Uploader,
		Ext:          v.Ext,
		MimeType:     "video/mp4",
		Duration:     int64(v.Duration),
	}
	if v.Timestamp > 0 {
		t := time.Unix(v.Timestamp, 0).UTC()
		m.PublishedAt = &t
	}
	return m
}
