package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/squeeko/squeeko/internal/models"
)

type recordingStuckStore struct {
	calls   int
	cutoffs map[models.JobStatus]time.Time
	swept   []uuid.UUID
	err     error
}

func (s *recordingStuckStore) FailStuckJobs(ctx context.Context, cutoffs map[models.JobStatus]time.Time) ([]uuid.UUID, error) {
	s.calls++
	s.cutoffs = cutoffs
	return s.swept, s.err
}

func TestSweep_BuildsCutoffsPerState(t *testing.T) {
	store := &recordingStuckStore{}
	s := NewSweeper(store, time.Minute, map[models.JobStatus]time.Duration{
		models.StatusQueued:                30 * time.Minute,
		models.StatusProcessingSTT:         2 * time.Hour,
		models.StatusProcessingTranslation: 30 * time.Minute,
	})

	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s.Sweep(context.Background(), now)

	if store.calls != 1 {
		t.Fatalf("expected one sweep call, got %d", store.calls)
	}
	if got := store.cutoffs[models.StatusQueued]; !got.Equal(now.Add(-30 * time.Minute)) {
		t.Fatalf("wrong QUEUED cutoff: %v", got)
	}
	if got := store.cutoffs[models.StatusProcessingSTT]; !got.Equal(now.Add(-2 * time.Hour)) {
		t.Fatalf("wrong PROCESSING_STT cutoff: %v", got)
	}
	if len(store.cutoffs) != 3 {
		t.Fatalf("expected 3 cutoffs, got %d", len(store.cutoffs))
	}
}

func TestSweep_SkipsTerminalAndDisabledStates(t *testing.T) {
	store := &recordingStuckStore{}
	s := NewSweeper(store, time.Minute, map[models.JobStatus]time.Duration{
		models.StatusQueued:            time.Hour,
		models.StatusCompleted:         time.Hour, // terminal, never swept
		models.StatusFailed:            time.Hour,
		models.StatusProcessingSummary: 0, // zero max age disables the state
	})

	s.Sweep(context.Background(), time.Now())

	if len(store.cutoffs) != 1 {
		t.Fatalf("expected only QUEUED cutoff, got %v", store.cutoffs)
	}
	if _, ok := store.cutoffs[models.StatusQueued]; !ok {
		t.Fatalf("expected QUEUED cutoff to be present")
	}
}

func TestSweep_NoEnabledStatesSkipsStore(t *testing.T) {
	store := &recordingStuckStore{}
	s := NewSweeper(store, time.Minute, map[models.JobStatus]time.Duration{
		models.StatusCompleted: time.Hour,
	})

	s.Sweep(context.Background(), time.Now())

	if store.calls != 0 {
		t.Fatalf("expected no store call, got %d", store.calls)
	}
}
