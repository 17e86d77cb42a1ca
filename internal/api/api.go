// Package api serves the inbound webhook and the device, media and job endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/pipeline/ingest"
)

const maxBodyBytes = 64 << 10

// Config holds HTTP server settings.
type Config struct {
	Port          int           `yaml:"port"           toml:"port"`
	WebhookSecret string        `yaml:"webhook_secret" toml:"webhook_secret"`
	SignatureSkew time.Duration `yaml:"signature_skew" toml:"signature_skew"`
	ReadTimeout   time.Duration `yaml:"read_timeout"   toml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"  toml:"write_timeout"`
}

// Ingestor accepts webhooks.
type Ingestor interface {
	Accept(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// DeviceCache drops cached device lists after a registration.
type DeviceCache interface {
	Invalidate(userID string)
}

// Handler holds the endpoint dependencies.
type Handler struct {
	Ingest  Ingestor
	Devices storage.DeviceRepository
	Media   storage.MediaRepository
	Jobs    storage.JobRepository
	Cache   DeviceCache
	Signer  *Signer
	Logger  *slog.Logger

	// Health serves /health, /health/detailed and /metrics when set.
	Health http.Handler
}

// Router builds the chi router with logging, recovery and request IDs.
func (h *Handler) Router() http.Handler {
	if h.Logger == nil {
		h.Logger = slog.Default().With("component", "api")
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if h.Health != nil {
		// probes and scrapes stay out of the request log
		r.Handle("/health", h.Health)
		r.Handle("/health/detailed", h.Health)
		r.Handle("/metrics", h.Health)
	}
	r.Group(func(r chi.Router) {
		r.Use(RequestLogger(h.Logger))
		h.RegisterRoutes(r)
	})
	return r
}

// RegisterRoutes mounts the endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/download", h.Webhook)
		r.Post("/devices", h.RegisterDevice)
		r.Get("/media/{resourceId}", h.GetMedia)
		r.Get("/jobs/{resourceId}", h.GetJob)
	})
}

// NewServer wraps the router in an http.Server.
func NewServer(cfg Config, handler http.Handler) *http.Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
}

// Webhook accepts a download request and answers 202 once the job exists.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		writeError(w, http.StatusBadRequest, "unreadable or oversized body")
		return
	}

	if h.Signer != nil && !h.Signer.Verify(r.Header.Get("X-Timestamp"), r.Header.Get("X-Signature"), body) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var req ingest.Request
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON")
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = r.Header.Get("X-Correlation-Id")
	}

	res, err := h.Ingest.Accept(r.Context(), req)
	switch {
	case errors.Is(err, ingest.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.Logger.Error("Webhook failed", "error", err, "url", req.URL, "userId", req.UserID)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusAccepted, res)
	}
}

type deviceRequest struct {
	DeviceID string `json:"deviceId"`
	UserID   string `json:"userId"`
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// RegisterDevice upserts a push device.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Token = strings.TrimSpace(req.Token)
	if req.UserID == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "userId and token are required")
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = uuid.NewString()
	}

	device := &domain.Device{
		DeviceID: req.DeviceID,
		UserID:   req.UserID,
		Token:    req.Token,
		Platform: req.Platform,
	}
	if err := h.Devices.Register(r.Context(), device); err != nil {
		h.Logger.Error("Device registration failed", "error", err, "userId", req.UserID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if h.Cache != nil {
		h.Cache.Invalidate(req.UserID)
	}
	writeJSON(w, http.StatusCreated, device)
}

// GetMedia returns the permanent record of a resource.
func (h *Handler) GetMedia(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "resourceId")
	record, err := h.Media.Get(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrMediaNotFound):
		writeError(w, http.StatusNotFound, "media not found")
	case err != nil:
		h.Logger.Error("Media lookup failed", "error", err, "resourceId", id)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, record)
	}
}

// GetJob returns the download job of a resource.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "resourceId")
	job, err := h.Jobs.Get(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case err != nil:
		h.Logger.Error("Job lookup failed", "error", err, "resourceId", id)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
