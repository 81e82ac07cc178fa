package jobs

import (
	"context"
	"testing"
	"time"

	"tracker-server/internal/observability"
)

func TestCapsWatcherJob_TracksBoundaries(t *testing.T) {
	job := NewCapsWatcherJob(observability.NewLogger(), 0)

	current := time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC)
	job.now = func() time.Time { return current }

	// First run just primes the state.
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.lastDate != "2026-08-31" || job.lastMonth != "2026-08" {
		t.Fatalf("state not primed: date=%q month=%q", job.lastDate, job.lastMonth)
	}

	// Same day: nothing changes.
	current = current.Add(30 * time.Second)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.lastDate != "2026-08-31" {
		t.Errorf("date must not advance within the same day, got %q", job.lastDate)
	}

	// Cross midnight UTC into a new month: both boundaries advance.
	current = time.Date(2026, 9, 1, 0, 0, 30, 0, time.UTC)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.lastDate != "2026-09-01" {
		t.Errorf("expected date rollover, got %q", job.lastDate)
	}
	if job.lastMonth != "2026-09" {
		t.Errorf("expected month rollover, got %q", job.lastMonth)
	}
}

func TestCapsWatcherJob_DefaultInterval(t *testing.T) {
	job := NewCapsWatcherJob(observability.NewLogger(), 0)
	if job.Schedule() != time.Minute {
		t.Errorf("expected 1m default interval, got %v", job.Schedule())
	}
	if job.Name() != "caps_watcher" {
		t.Errorf("unexpected job name %q", job.Name())
	}
}
