package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/squeeko/squeeko/internal/models"
)

// StuckJobStore fails every non-terminal job older than its cutoff.
type StuckJobStore interface {
	FailStuckJobs(ctx context.Context, cutoffs map[models.JobStatus]time.Time) ([]uuid.UUID, error)
}

// Sweeper is the dead-job safety net: a provider that never calls back, or
// a work item lost past the queue's retry budget, leaves a job parked in a
// non-terminal state forever. The sweeper fails such jobs once they exceed
// the configured max age for their state.
type Sweeper struct {
	store    StuckJobStore
	interval time.Duration
	maxAges  map[models.JobStatus]time.Duration
}

func NewSweeper(store StuckJobStore, interval time.Duration, maxAges map[models.JobStatus]time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		maxAges:  maxAges,
	}
}

// Run blocks until ctx is done, sweeping on every tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("dead-job sweeper started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("dead-job sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx, time.Now())
		}
	}
}

// Sweep runs one pass against the given reference time.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	cutoffs := make(map[models.JobStatus]time.Time, len(s.maxAges))
	for status, maxAge := range s.maxAges {
		if status.Terminal() || maxAge <= 0 {
			continue
		}
		cutoffs[status] = now.Add(-maxAge)
	}
	if len(cutoffs) == 0 {
		return
	}

	swept, err := s.store.FailStuckJobs(ctx, cutoffs)
	if err != nil {
		slog.Error("dead-job sweep failed", "error", err)
		return
	}
	for _, id := range swept {
		slog.Warn("swept stuck job", "job_id", id)
	}
}
