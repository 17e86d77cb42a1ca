package jobstate

import (
	"errors"
	"testing"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{"", domain.JobStatusPending, true},
		{"", domain.JobStatusInProgress, true},
		{domain.JobStatusPending, domain.JobStatusInProgress, true},
		{domain.JobStatusPending, domain.JobStatusCompleted, false},
		{domain.JobStatusInProgress, domain.JobStatusScheduled, true},
		{domain.JobStatusInProgress, domain.JobStatusCompleted, true},
		{domain.JobStatusInProgress, domain.JobStatusFailed, true},
		{domain.JobStatusInProgress, domain.JobStatusInProgress, true},
		{domain.JobStatusScheduled, domain.JobStatusInProgress, true},
		{domain.JobStatusScheduled, domain.JobStatusCompleted, false},
		{domain.JobStatusCompleted, domain.JobStatusInProgress, false},
		{domain.JobStatusFailed, domain.JobStatusInProgress, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%q, %q): expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestCheck_WrapsSentinel(t *testing.T) {
	err := Check(domain.JobStatusCompleted, domain.JobStatusInProgress)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := Check(domain.JobStatusPending, domain.JobStatusInProgress); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestStateDescription(t *testing.T) {
	for _, s := range []State{
		domain.JobStatusPending,
		domain.JobStatusInProgress,
		domain.JobStatusScheduled,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
	} {
		if StateDescription(s) == "Unknown state" {
			t.Errorf("expected a description for %s", s)
		}
	}
	if got := StateDescription("bogus"); got != "Unknown state" {
		t.Errorf("expected Unknown state, got %q", got)
	}
}
