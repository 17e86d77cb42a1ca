package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
)

func openSQLite(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, Config{Driver: DriverSQLite, URL: ":memory:"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return db
}

func TestSQLite_Repositories(t *testing.T) {
	runRepositorySuite(t, openSQLite(t))
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", URL: "x"})
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

// runRepositorySuite is shared by the sqlite and postgres tests.
func runRepositorySuite(t *testing.T, db *DB) {
	t.Run("JobUpsertAndTerminalGuard", func(t *testing.T) {
		repo := NewJobRepo(db)
		ctx := context.Background()

		if err := repo.Update(ctx, "job-1", domain.JobUpdate{
			Status:    domain.JobStatusInProgress,
			SourceURL: "https://example.com/1",
		}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		job, err := repo.Get(ctx, "job-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if job.Status != domain.JobStatusInProgress {
			t.Errorf("expected in_progress, got %s", job.Status)
		}
		if job.MaxRetries != domain.DefaultMaxRetries {
			t.Errorf("expected %d, got %d", domain.DefaultMaxRetries, job.MaxRetries)
		}

		retryAt := time.Now().Add(time.Hour).Truncate(time.Second)
		category := domain.CategoryTransient
		lastErr := "timeout"
		if err := repo.Update(ctx, "job-1", domain.JobUpdate{
			Status:         domain.JobStatusScheduled,
			IncrementRetry: true,
			ErrorCategory:  &category,
			LastError:      &lastErr,
			RetryAfter:     &retryAt,
		}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		job, _ = repo.Get(ctx, "job-1")
		if job.RetryCount != 1 {
			t.Errorf("expected retry count 1, got %d", job.RetryCount)
		}
		if job.RetryAfter == nil || !job.RetryAfter.Equal(retryAt) {
			t.Errorf("expected retry after %v, got %v", retryAt, job.RetryAfter)
		}
		if job.SourceURL != "https://example.com/1" {
			t.Errorf("expected source url to be kept, got %q", job.SourceURL)
		}

		if err := repo.Update(ctx, "job-1", domain.JobUpdate{
			Status:     domain.JobStatusCompleted,
			ClearRetry: true,
		}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		job, _ = repo.Get(ctx, "job-1")
		if job.RetryAfter != nil {
			t.Errorf("expected retry after cleared, got %v", job.RetryAfter)
		}

		err = repo.Update(ctx, "job-1", domain.JobUpdate{Status: domain.JobStatusInProgress})
		if !errors.Is(err, storage.ErrJobTerminal) {
			t.Errorf("expected ErrJobTerminal, got %v", err)
		}
	})

	t.Run("JobCreateIsConditional", func(t *testing.T) {
		repo := NewJobRepo(db)
		ctx := context.Background()

		created, err := repo.Create(ctx, domain.NewPendingJob("job-2", "u", "c1", time.Now()))
		if err != nil || !created {
			t.Fatalf("expected create, got %v %v", created, err)
		}
		created, err = repo.Create(ctx, domain.NewPendingJob("job-2", "u", "c2", time.Now()))
		if err != nil || created {
			t.Fatalf("expected no-op, got %v %v", created, err)
		}
		job, _ := repo.Get(ctx, "job-2")
		if job.CorrelationID != "c1" {
			t.Errorf("expected c1, got %s", job.CorrelationID)
		}
	})

	t.Run("JobConcurrentIncrements", func(t *testing.T) {
		repo := NewJobRepo(db)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := repo.Update(ctx, "job-3", domain.JobUpdate{
					Status:         domain.JobStatusScheduled,
					IncrementRetry: true,
				}); err != nil {
					t.Errorf("Update failed: %v", err)
				}
			}()
		}
		wg.Wait()

		job, _ := repo.Get(ctx, "job-3")
		if job.RetryCount != 20 {
			t.Errorf("expected 20, got %d", job.RetryCount)
		}
	})

	t.Run("JobGetMissing", func(t *testing.T) {
		_, err := NewJobRepo(db).Get(context.Background(), "nope")
		if !errors.Is(err, storage.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("JobPruneAndCount", func(t *testing.T) {
		repo := NewJobRepo(db)
		ctx := context.Background()

		_ = repo.Update(ctx, "job-old", domain.JobUpdate{Status: domain.JobStatusFailed})
		_ = repo.Update(ctx, "job-live", domain.JobUpdate{Status: domain.JobStatusInProgress})

		counts, err := repo.CountByStatus(ctx)
		if err != nil {
			t.Fatalf("CountByStatus failed: %v", err)
		}
		if counts[domain.JobStatusFailed] < 1 {
			t.Errorf("expected at least one failed job, got %d", counts[domain.JobStatusFailed])
		}

		n, err := repo.DeleteTerminalBefore(ctx, time.Now().Add(time.Minute))
		if err != nil {
			t.Fatalf("DeleteTerminalBefore failed: %v", err)
		}
		if n < 1 {
			t.Errorf("expected at least one pruned job, got %d", n)
		}
		if _, err := repo.Get(ctx, "job-old"); !errors.Is(err, storage.ErrJobNotFound) {
			t.Errorf("expected pruned job to be gone, got %v", err)
		}
		if _, err := repo.Get(ctx, "job-live"); err != nil {
			t.Errorf("expected live job to survive, got %v", err)
		}
	})

	t.Run("MediaLifecycle", func(t *testing.T) {
		repo := NewMediaRepo(db)
		ctx := context.Background()

		created, err := repo.CreatePlaceholder(ctx, "m-1", "https://example.com/m1")
		if err != nil || !created {
			t.Fatalf("expected placeholder, got %v %v", created, err)
		}
		created, _ = repo.CreatePlaceholder(ctx, "m-1", "https://example.com/other")
		if created {
			t.Error("expected second placeholder to be a no-op")
		}

		published := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		if err := repo.MarkAvailable(ctx, &domain.MediaRecord{
			ResourceID: "m-1",
			Size:       1024,
			Location:   "media/m-1.mp4",
			Metadata: domain.MediaMetadata{
				Title:       "Clip",
				PublishedAt: &published,
				Ext:         "mp4",
			},
		}); err != nil {
			t.Fatalf("MarkAvailable failed: %v", err)
		}

		if err := repo.MarkUnavailable(ctx, "m-1"); err != nil {
			t.Fatalf("MarkUnavailable failed: %v", err)
		}

		m, err := repo.Get(ctx, "m-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if m.Status != domain.MediaStatusAvailable {
			t.Errorf("expected available, got %s", m.Status)
		}
		if m.Size != 1024 {
			t.Errorf("expected 1024, got %d", m.Size)
		}
		if m.SourceURL != "https://example.com/m1" {
			t.Errorf("expected original source url, got %q", m.SourceURL)
		}
		if m.Metadata.PublishedAt == nil || !m.Metadata.PublishedAt.Equal(published) {
			t.Errorf("expected published %v, got %v", published, m.Metadata.PublishedAt)
		}

		if err := repo.MarkUnavailable(ctx, "m-2"); err != nil {
			t.Fatalf("MarkUnavailable failed: %v", err)
		}
		m2, _ := repo.Get(ctx, "m-2")
		if m2.Status != domain.MediaStatusUnavailable {
			t.Errorf("expected unavailable, got %s", m2.Status)
		}

		if _, err := repo.Get(ctx, "m-3"); !errors.Is(err, storage.ErrMediaNotFound) {
			t.Errorf("expected ErrMediaNotFound, got %v", err)
		}
	})

	t.Run("InterestsAndDevices", func(t *testing.T) {
		interests := NewInterestRepo(db)
		devices := NewDeviceRepo(db)
		ctx := context.Background()

		for _, u := range []string{"u2", "u1", "u2"} {
			if err := interests.Add(ctx, u, "r-1"); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
		}
		users, err := interests.ListUsers(ctx, "r-1")
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
			t.Errorf("expected [u1 u2], got %v", users)
		}

		_ = devices.Register(ctx, &domain.Device{DeviceID: "d1", UserID: "u1", Token: "t1"})
		_ = devices.Register(ctx, &domain.Device{DeviceID: "d2", UserID: "u1", Token: "t2"})
		_ = devices.Register(ctx, &domain.Device{DeviceID: "d1", UserID: "u1", Token: "t1-new"})

		list, err := devices.ListByUser(ctx, "u1")
		if err != nil {
			t.Fatalf("ListByUser failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 devices, got %d", len(list))
		}
		if list[0].Token != "t1-new" {
			t.Errorf("expected refreshed token, got %s", list[0].Token)
		}

		if err := devices.Delete(ctx, "d1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := devices.Delete(ctx, "d1"); err != nil {
			t.Fatalf("second Delete failed: %v", err)
		}
		list, _ = devices.ListByUser(ctx, "u1")
		if len(list) != 1 || list[0].DeviceID != "d2" {
			t.Errorf("expected only d2, got %v", list)
		}
	})
}
