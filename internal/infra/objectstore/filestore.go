// Package objectstore keeps downloaded media on a local or mounted filesystem.
//
// Writes go to a temp file with SHA-256 computed on the fly, are fsynced and
// then atomically renamed, so a reader never sees a partial object.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
)

// ErrInvalidKey is returned for keys that would escape the data directory.
var ErrInvalidKey = errors.New("invalid object key")

// Config holds object store settings.
type Config struct {
	DataDir       string `yaml:"data_dir"        toml:"data_dir"`
	PublicBaseURL string `yaml:"public_base_url" toml:"public_base_url"`
}

// FileStore stores objects as files under a data directory.
type FileStore struct {
	dataDir string
	baseURL string
}

// New creates the data directory if needed.
func New(cfg Config) (*FileStore, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("object store data directory is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}
	return &FileStore{
		dataDir: cfg.DataDir,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// Put streams r into the object named key, replacing any previous object.
// Writing the same key twice is safe; the last complete write wins.
func (s *FileStore) Put(ctx context.Context, key string, r io.Reader) (*domain.StoredObject, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create object directory: %w", err)
	}
	tmpPath := fullPath + "." + uuid.NewString()[:8] + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(&ctxReader{ctx: ctx, r: r}, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write object: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to fsync object: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close object: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename object into place: %w", err)
	}

	return &domain.StoredObject{
		Key:      key,
		Location: s.Location(key),
		Size:     size,
		SHA256:   hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open returns a reader for the object. The caller closes it.
func (s *FileStore) Open(key string) (*os.File, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	return f, nil
}

// Delete removes the object. Deleting a missing object is a no-op.
func (s *FileStore) Delete(key string) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Location is the address clients use to fetch the object.
func (s *FileStore) Location(key string) string {
	if s.baseURL == "" {
		return "file://" + filepath.ToSlash(filepath.Join(s.dataDir, key))
	}
	return s.baseURL + "/" + url.PathEscape(key)
}

// Writable checks the data directory accepts writes.
func (s *FileStore) Writable() error {
	f, err := os.CreateTemp(s.dataDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("data directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (s *FileStore) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dataDir, key), nil
}

// ctxReader stops a long copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
