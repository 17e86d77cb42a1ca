// Package push delivers notification envelopes to a device push gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/classify"
)

// ErrDeviceUnregistered means the gateway no longer knows the device token.
var ErrDeviceUnregistered = errors.New("device unregistered")

// Gateway sends one envelope to one device.
type Gateway interface {
	Send(ctx context.Context, device *domain.Device, env domain.NotificationEnvelope) error
}

// Config holds push gateway configuration.
type Config struct {
	Endpoint string        `yaml:"endpoint" toml:"endpoint"` // empty selects the log gateway
	APIKey   string        `yaml:"api_key"  toml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"  toml:"timeout"` // default: 10s
}

// New returns an HTTP gateway, or a log gateway when no endpoint is configured.
func New(cfg Config) Gateway {
	if cfg.Endpoint == "" {
		return NewLogGateway()
	}
	return NewHTTPGateway(cfg)
}

type pushRequest struct {
	Token    string          `json:"token"`
	Platform string          `json:"platform,omitempty"`
	Title    string          `json:"title"`
	Kind     string          `json:"kind"`
	Data     json.RawMessage `json:"data"`
}

// HTTPGateway posts JSON to a push relay.
type HTTPGateway struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPGateway creates a new HTTP push gateway.
func NewHTTPGateway(cfg Config) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (g *HTTPGateway) Send(ctx context.Context, device *domain.Device, env domain.NotificationEnvelope) error {
	jsonData, err := json.Marshal(pushRequest{
		Token:    device.Token,
		Platform: device.Platform,
		Title:    env.Title(),
		Kind:     string(env.Kind),
		Data:     env.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push call: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusGone, resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrDeviceUnregistered, device.DeviceID)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return &classify.HTTPError{Status: resp.StatusCode, URL: g.endpoint}
	}
}

// LogGateway logs envelopes instead of sending them.
type LogGateway struct {
	log *slog.Logger
}

// NewLogGateway creates a gateway that only logs.
func NewLogGateway() *LogGateway {
	return &LogGateway{log: slog.Default().With("component", "push")}
}

func (g *LogGateway) Send(ctx context.Context, device *domain.Device, env domain.NotificationEnvelope) error {
	g.log.Info("Push notification",
		"deviceId", device.DeviceID,
		"userId", env.RecipientID,
		"kind", env.Kind,
		"title", env.Title(),
	)
	return nil
}
