package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
)

// MemoryStorage backs every repository with maps under one lock.
// Used for tests and single-process development runs.
type MemoryStorage struct {
	jobs      map[string]*domain.DownloadJob
	media     map[string]*domain.MediaRecord
	interests map[string]map[string]time.Time // resourceID -> userID -> created
	devices   map[string]*domain.Device
	now       func() time.Time
	mu        sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:      make(map[string]*domain.DownloadJob),
		media:     make(map[string]*domain.MediaRecord),
		interests: make(map[string]map[string]time.Time),
		devices:   make(map[string]*domain.Device),
		now:       time.Now,
	}
}

// -----------------------------------------------------------------------------
// Job Repository
// -----------------------------------------------------------------------------

type JobRepo struct {
	store *MemoryStorage
}

func NewJobRepo(store *MemoryStorage) *JobRepo {
	return &JobRepo{store: store}
}

func (r *JobRepo) Get(ctx context.Context, resourceID string) (*domain.DownloadJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	job, ok := r.store.jobs[resourceID]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (r *JobRepo) Create(ctx context.Context, job *domain.DownloadJob) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.jobs[job.ResourceID]; ok {
		return false, nil
	}
	j := copyJob(job)
	if j.MaxRetries <= 0 {
		j.MaxRetries = domain.DefaultMaxRetries
	}
	if j.Status == "" {
		j.Status = domain.JobStatusPending
	}
	now := r.store.now()
	j.CreatedAt, j.UpdatedAt = now, now
	r.store.jobs[job.ResourceID] = j
	return true, nil
}

// Update holds the write lock for the whole read-modify-write so concurrent
// retry increments are never lost.
func (r *JobRepo) Update(ctx context.Context, resourceID string, u domain.JobUpdate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := r.store.now()
	job, ok := r.store.jobs[resourceID]
	if !ok {
		job = &domain.DownloadJob{
			ResourceID: resourceID,
			MaxRetries: domain.DefaultMaxRetries,
			CreatedAt:  now,
		}
		r.store.jobs[resourceID] = job
	} else if job.Status.IsTerminal() {
		return storage.ErrJobTerminal
	}

	if u.Status != "" {
		job.Status = u.Status
	}
	if u.IncrementRetry {
		job.RetryCount++
	}
	if u.MaxRetries != nil {
		job.MaxRetries = *u.MaxRetries
	}
	if u.ErrorCategory != nil {
		job.ErrorCategory = *u.ErrorCategory
	}
	if u.LastError != nil {
		job.LastError = *u.LastError
	}
	if u.RetryAfter != nil {
		t := *u.RetryAfter
		job.RetryAfter = &t
	}
	if u.ClearRetry {
		job.RetryAfter = nil
	}
	if u.SourceURL != "" {
		job.SourceURL = u.SourceURL
	}
	if u.CorrelationID != "" {
		job.CorrelationID = u.CorrelationID
	}
	job.UpdatedAt = now
	return nil
}

func (r *JobRepo) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	counts := make(map[domain.JobStatus]int)
	for _, j := range r.store.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (r *JobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for id, j := range r.store.jobs {
		if j.Status.IsTerminal() && j.UpdatedAt.Before(cutoff) {
			delete(r.store.jobs, id)
			n++
		}
	}
	return n, nil
}

func copyJob(j *domain.DownloadJob) *domain.DownloadJob {
	c := *j
	if j.RetryAfter != nil {
		t := *j.RetryAfter
		c.RetryAfter = &t
	}
	return &c
}

// -----------------------------------------------------------------------------
// Media Repository
// -----------------------------------------------------------------------------

type MediaRepo struct {
	store *MemoryStorage
}

func NewMediaRepo(store *MemoryStorage) *MediaRepo {
	return &MediaRepo{store: store}
}

func (r *MediaRepo) Get(ctx context.Context, resourceID string) (*domain.MediaRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	m, ok := r.store.media[resourceID]
	if !ok {
		return nil, storage.ErrMediaNotFound
	}
	c := *m
	return &c, nil
}

func (r *MediaRepo) CreatePlaceholder(ctx context.Context, resourceID, sourceURL string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.media[resourceID]; ok {
		return false, nil
	}
	now := r.store.now()
	r.store.media[resourceID] = &domain.MediaRecord{
		ResourceID: resourceID,
		Status:     domain.MediaStatusQueued,
		SourceURL:  sourceURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return true, nil
}

func (r *MediaRepo) MarkAvailable(ctx context.Context, record *domain.MediaRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	now := r.store.now()
	m := *record
	m.Status = domain.MediaStatusAvailable
	m.UpdatedAt = now
	if existing, ok := r.store.media[record.ResourceID]; ok {
		m.CreatedAt = existing.CreatedAt
		if m.SourceURL == "" {
			m.SourceURL = existing.SourceURL
		}
	} else {
		m.CreatedAt = now
	}
	r.store.media[record.ResourceID] = &m
	return nil
}

func (r *MediaRepo) MarkUnavailable(ctx context.Context, resourceID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	now := r.store.now()
	m, ok := r.store.media[resourceID]
	if !ok {
		r.store.media[resourceID] = &domain.MediaRecord{
			ResourceID: resourceID,
			Status:     domain.MediaStatusUnavailable,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return nil
	}
	if m.Status == domain.MediaStatusAvailable {
		return nil
	}
	m.Status = domain.MediaStatusUnavailable
	m.UpdatedAt = now
	return nil
}

// -----------------------------------------------------------------------------
// Interest Repository
// -----------------------------------------------------------------------------

type InterestRepo struct {
	store *MemoryStorage
}

func NewInterestRepo(store *MemoryStorage) *InterestRepo {
	return &InterestRepo{store: store}
}

func (r *InterestRepo) Add(ctx context.Context, userID, resourceID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	users, ok := r.store.interests[resourceID]
	if !ok {
		users = make(map[string]time.Time)
		r.store.interests[resourceID] = users
	}
	if _, exists := users[userID]; !exists {
		users[userID] = r.store.now()
	}
	return nil
}

func (r *InterestRepo) ListUsers(ctx context.Context, resourceID string) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	users := make([]string, 0, len(r.store.interests[resourceID]))
	for u := range r.store.interests[resourceID] {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// -----------------------------------------------------------------------------
// Device Repository
// -----------------------------------------------------------------------------

type DeviceRepo struct {
	store *MemoryStorage
}

func NewDeviceRepo(store *MemoryStorage) *DeviceRepo {
	return &DeviceRepo{store: store}
}

func (r *DeviceRepo) Register(ctx context.Context, device *domain.Device) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	d := *device
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.store.now()
	}
	r.store.devices[d.DeviceID] = &d
	return nil
}

func (r *DeviceRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Device
	for _, d := range r.store.devices {
		if d.UserID == userID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (r *DeviceRepo) Delete(ctx context.Context, deviceID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.devices, deviceID)
	return nil
}
