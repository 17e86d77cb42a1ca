package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/infra/storage"
)

func TestJobRepo_UpdateUpsertsMissingRow(t *testing.T) {
	repo := NewJobRepo(NewMemoryStorage())
	ctx := context.Background()

	err := repo.Update(ctx, "R1", domain.JobUpdate{
		Status:    domain.JobStatusInProgress,
		SourceURL: "https://example.com/a",
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	job, err := repo.Get(ctx, "R1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.Status != domain.JobStatusInProgress {
		t.Errorf("expected in_progress, got %s", job.Status)
	}
	if job.MaxRetries != domain.DefaultMaxRetries {
		t.Errorf("expected default max retries, got %d", job.MaxRetries)
	}
}

func TestJobRepo_CreateIsConditional(t *testing.T) {
	repo := NewJobRepo(NewMemoryStorage())
	ctx := context.Background()
	job := domain.NewPendingJob("R1", "u", "c1", time.Now())

	created, err := repo.Create(ctx, job)
	if err != nil || !created {
		t.Fatalf("expected first create to succeed, got %v %v", created, err)
	}
	job2 := domain.NewPendingJob("R1", "u", "c2", time.Now())
	created, err = repo.Create(ctx, job2)
	if err != nil || created {
		t.Fatalf("expected second create to be a no-op, got %v %v", created, err)
	}

	got, _ := repo.Get(ctx, "R1")
	if got.CorrelationID != "c1" {
		t.Errorf("expected first correlation id to win, got %s", got.CorrelationID)
	}
}

func TestJobRepo_ConcurrentIncrementsAreNotLost(t *testing.T) {
	repo := NewJobRepo(NewMemoryStorage())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.Update(ctx, "R1", domain.JobUpdate{
				Status:         domain.JobStatusScheduled,
				IncrementRetry: true,
			})
		}()
	}
	wg.Wait()

	job, _ := repo.Get(ctx, "R1")
	if job.RetryCount != 50 {
		t.Errorf("expected 50, got %d", job.RetryCount)
	}
}

func TestJobRepo_TerminalRejectsWrites(t *testing.T) {
	repo := NewJobRepo(NewMemoryStorage())
	ctx := context.Background()

	_ = repo.Update(ctx, "R1", domain.JobUpdate{Status: domain.JobStatusCompleted})
	err := repo.Update(ctx, "R1", domain.JobUpdate{Status: domain.JobStatusInProgress})
	if !errors.Is(err, storage.ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}
}

func TestJobRepo_DeleteTerminalBefore(t *testing.T) {
	store := NewMemoryStorage()
	base := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return base }
	repo := NewJobRepo(store)
	ctx := context.Background()

	_ = repo.Update(ctx, "done", domain.JobUpdate{Status: domain.JobStatusCompleted})
	_ = repo.Update(ctx, "busy", domain.JobUpdate{Status: domain.JobStatusScheduled})

	n, err := repo.DeleteTerminalBefore(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteTerminalBefore failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
	if _, err := repo.Get(ctx, "busy"); err != nil {
		t.Errorf("expected non-terminal job to survive, got %v", err)
	}
}

func TestMediaRepo_NeverDowngradesAvailable(t *testing.T) {
	store := NewMemoryStorage()
	repo := NewMediaRepo(store)
	ctx := context.Background()

	created, _ := repo.CreatePlaceholder(ctx, "R1", "https://x")
	if !created {
		t.Fatal("expected placeholder to be created")
	}
	if created, _ := repo.CreatePlaceholder(ctx, "R1", "https://x"); created {
		t.Error("expected second placeholder to be a no-op")
	}

	_ = repo.MarkAvailable(ctx, &domain.MediaRecord{ResourceID: "R1", Size: 42, Location: "loc"})
	_ = repo.MarkUnavailable(ctx, "R1")
	if created, _ := repo.CreatePlaceholder(ctx, "R1", "https://x"); created {
		t.Error("placeholder must not overwrite an existing record")
	}

	m, _ := repo.Get(ctx, "R1")
	if m.Status != domain.MediaStatusAvailable || m.Size != 42 {
		t.Errorf("expected available/42, got %s/%d", m.Status, m.Size)
	}
	if m.SourceURL != "https://x" {
		t.Errorf("expected source url to be kept, got %q", m.SourceURL)
	}
}

func TestInterestRepo_AddIsIdempotent(t *testing.T) {
	repo := NewInterestRepo(NewMemoryStorage())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := repo.Add(ctx, "u1", "R1"); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	users, _ := repo.ListUsers(ctx, "R1")
	if len(users) != 1 || users[0] != "u1" {
		t.Errorf("expected [u1], got %v", users)
	}
}
