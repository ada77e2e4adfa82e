package memq

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/squeeko/squeeko/internal/common"
	"github.com/squeeko/squeeko/internal/job"
)

func TestEnqueue_SetsDefaults(t *testing.T) {
	q := NewMemoryQueue(10, 50*time.Millisecond)
	j := &job.Job{Type: job.TypeSTTStart, Payload: []byte(`{}`)}

	id, err := q.Enqueue(context.Background(), j)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if id.String() == "" {
		t.Fatalf("expected non-empty id")
	}
	if j.Status != job.StatusQueued {
		t.Fatalf("expected status queued, got %s", j.Status)
	}
	if j.Enqueued.IsZero() {
		t.Fatalf("expected enqueued timestamp to be set")
	}

	st, ok := q.Status(context.Background(), id)
	if !ok || st == nil {
		t.Fatalf("expected to find job by id")
	}
	if st.ID != j.ID {
		t.Fatalf("expected stored job id to match")
	}
}

func TestStartConsumers_SucceedsAndUpdatesStatus(t *testing.T) {
	q := NewMemoryQueue(10, 200*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{}, 1)
	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error {
		done <- struct{}{}
		return nil
	})

	j := &job.Job{Type: job.TypeTranslateSummarize, Payload: []byte(`{}`)}
	id, err := q.Enqueue(context.Background(), j)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for job handler")
	}

	st, ok := q.Status(context.Background(), id)
	if !ok {
		t.Fatalf("job not found")
	}
	if st.Status != job.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (err=%s)", st.Status, st.Error)
	}
	if st.Started == nil || st.Finished == nil {
		t.Fatalf("expected started/finished timestamps to be set")
	}
}

func TestStartConsumers_TimeoutMarksFailed(t *testing.T) {
	q := NewMemoryQueue(10, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{}, 1)
	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error {
		<-ctx.Done()
		done <- struct{}{}
		return errors.New("handler timed out")
	})

	j := &job.Job{Type: job.TypeSTTEvent, Payload: []byte(`{}`)}
	id, err := q.Enqueue(context.Background(), j)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for job handler")
	}

	st, ok := q.Status(context.Background(), id)
	if !ok {
		t.Fatalf("job not found")
	}
	if st.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", st.Status)
	}
	if st.Error == "" {
		t.Fatalf("expected error message to be set")
	}
}

func TestStartConsumers_RetryableErrorRedelivers(t *testing.T) {
	q := NewMemoryQueue(10, 200*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{}, 1)
	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error {
		if calls.Add(1) < 3 {
			return fmt.Errorf("stt provider: %w", common.ErrProviderUnavailable)
		}
		done <- struct{}{}
		return nil
	})

	j := &job.Job{Type: job.TypeSTTStart, Payload: []byte(`{}`)}
	id, err := q.Enqueue(context.Background(), j)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for retried job")
	}

	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 deliveries, got %d", got)
	}
	st, _ := q.Status(context.Background(), id)
	if st.Status != job.StatusSucceeded {
		t.Fatalf("expected succeeded after retries, got %s", st.Status)
	}
}

func TestStartConsumers_RetryableErrorExhaustsAttempts(t *testing.T) {
	q := NewMemoryQueue(10, 200*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{}, 1)
	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error {
		if calls.Add(1) == maxAttempts {
			defer func() { done <- struct{}{} }()
		}
		return common.ErrRateLimited
	})

	j := &job.Job{Type: job.TypeTranslateSummarize, Payload: []byte(`{}`)}
	id, err := q.Enqueue(context.Background(), j)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for attempts to exhaust")
	}

	// give the worker a moment to record the final state
	deadline := time.Now().Add(time.Second)
	for {
		st, _ := q.Status(context.Background(), id)
		if st.Status == job.StatusFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected failed after %d attempts, got %s", maxAttempts, st.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := calls.Load(); got != maxAttempts {
		t.Fatalf("expected %d deliveries, got %d", maxAttempts, got)
	}
}

func TestStartConsumers_TerminalErrorDoesNotRetry(t *testing.T) {
	q := NewMemoryQueue(10, 200*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{}, 1)
	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error {
		calls.Add(1)
		done <- struct{}{}
		return common.ErrProviderRejected
	})

	j := &job.Job{Type: job.TypeSTTStart, Payload: []byte(`{}`)}
	id, err := q.Enqueue(context.Background(), j)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for job handler")
	}
	// no redelivery should happen
	time.Sleep(50 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected single delivery for terminal error, got %d", got)
	}
	st, _ := q.Status(context.Background(), id)
	if st.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", st.Status)
	}
}
