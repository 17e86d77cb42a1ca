package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/classify"
)

// ObjectStore receives transferred media.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader) (*domain.StoredObject, error)
	Delete(key string) error
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var defaultClient = &http.Client{
	Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	},
}

// Transfer copies the selected format into the object store under
// "<resourceId>.<ext>". Rewriting the same key is harmless, so a retried
// transfer needs no cleanup from the failed one.
func (f *YTDLP) Transfer(ctx context.Context, info *domain.MediaInfo) (*domain.StoredObject, error) {
	if info == nil || info.DownloadURL == "" {
		return nil, &classify.PermanentContentError{Reason: "no download url"}
	}

	client, err := f.clientFor(info.DownloadURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.DownloadURL, nil)
	if err != nil {
		return nil, &classify.PermanentContentError{Reason: "malformed download url", Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &classify.TransientError{Reason: "download request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &classify.HTTPError{Status: resp.StatusCode, URL: req.URL.Host}
	}

	ext := info.Metadata.Ext
	if ext == "" {
		ext = "mp4"
	}
	key := info.ResourceID + "." + ext

	start := time.Now()
	obj, err := f.store.Put(ctx, key, resp.Body)
	if err != nil {
		return nil, &classify.TransientError{Reason: "store write failed", Err: err}
	}

	expected := info.ExpectedSize
	if expected <= 0 {
		expected = resp.ContentLength
	}
	if expected > 0 && obj.Size != expected {
		if delErr := f.store.Delete(key); delErr != nil {
			f.log.Warn("Failed to delete truncated object", "key", key, "error", delErr)
		}
		return nil, &classify.TransientError{
			Reason: fmt.Sprintf("size mismatch: expected %d bytes, got %d", expected, obj.Size),
		}
	}

	f.log.Info("Media stored",
		"resourceId", info.ResourceID,
		"key", key,
		"size", obj.Size,
		"took", time.Since(start),
	)
	return obj, nil
}

// clientFor routes the download through the proxy that resolved its URL.
func (f *YTDLP) clientFor(downloadURL string) (HTTPDoer, error) {
	proxy, ok := f.routes.Get(downloadURL)
	if !ok {
		return f.client, nil
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return nil, &classify.TransientError{Reason: "invalid proxy", Err: err}
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyURL(proxyURL),
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}, nil
}
