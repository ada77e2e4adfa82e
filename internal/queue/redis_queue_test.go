package queue

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/squeeko/squeeko/internal/common"
	"github.com/squeeko/squeeko/internal/job"
)

func getTestRedisClient(t *testing.T) *redis.Client {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Skipf("Skipping Redis queue test: invalid Redis URL: %v", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping Redis queue test: Redis not available: %v", err)
	}

	return client
}

func testQueue(t *testing.T, client *redis.Client, stream string, claimTimeout time.Duration) *RedisQueue {
	t.Helper()
	q, err := NewRedisQueue(client, RedisQueueConfig{
		Stream:        stream,
		Group:         "test-workers",
		MaxJobTime:    5 * time.Second,
		ClaimInterval: 1 * time.Second,
		ClaimTimeout:  claimTimeout,
		MaxRetries:    3,
	})
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	return q
}

func TestRedisQueue_EnqueueAndConsume(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	streamName := "test:work:" + uuid.New().String()[:8]
	client.Del(context.Background(), streamName)
	client.XGroupDestroy(context.Background(), streamName, "test-workers")
	defer client.Del(context.Background(), streamName)
	defer client.XGroupDestroy(context.Background(), streamName, "test-workers")

	q := testQueue(t, client, streamName, 3*time.Second)
	defer q.Close()

	var processedCount int32
	processedJobs := make(chan *job.Job, 10)

	q.StartConsumers(ctx, 2, func(ctx context.Context, j *job.Job) error {
		atomic.AddInt32(&processedCount, 1)
		processedJobs <- j
		return nil
	})

	job1 := &job.Job{
		Type:    job.TypeSTTStart,
		Payload: []byte(`{"job_id": "a"}`),
	}
	job2 := &job.Job{
		Type:    job.TypeTranslateSummarize,
		Payload: []byte(`{"job_id": "b"}`),
	}

	id1, err := q.Enqueue(ctx, job1)
	if err != nil {
		t.Fatalf("Failed to enqueue job1: %v", err)
	}
	if id1 == uuid.Nil {
		t.Error("Expected non-nil job ID")
	}

	id2, err := q.Enqueue(ctx, job2)
	if err != nil {
		t.Fatalf("Failed to enqueue job2: %v", err)
	}

	timeout := time.After(10 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-processedJobs:
		case <-timeout:
			t.Fatalf("Timeout waiting for jobs to be processed, got %d", atomic.LoadInt32(&processedCount))
		}
	}

	deadline := time.Now().Add(10 * time.Second)
	var j1, j2 *job.Job
	var ok1, ok2 bool

	for time.Now().Before(deadline) {
		j1, ok1 = q.Status(ctx, id1)
		j2, ok2 = q.Status(ctx, id2)

		if ok1 && ok2 && j1.Status == job.StatusSucceeded && j2.Status == job.StatusSucceeded {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if !ok1 {
		t.Error("Job1 not found in status")
	} else if j1.Status != job.StatusSucceeded {
		t.Errorf("Expected job1 status %s, got %s", job.StatusSucceeded, j1.Status)
	}

	if !ok2 {
		t.Error("Job2 not found in status")
	} else if j2.Status != job.StatusSucceeded {
		t.Errorf("Expected job2 status %s, got %s", job.StatusSucceeded, j2.Status)
	}
}

func TestRedisQueue_TerminalFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	streamName := "test:work:fail:" + uuid.New().String()[:8]
	defer client.Del(context.Background(), streamName)
	defer client.XGroupDestroy(context.Background(), streamName, "test-workers")

	q := testQueue(t, client, streamName, 3*time.Second)
	defer q.Close()

	done := make(chan struct{})
	var calls atomic.Int32

	// a non-retryable error must fail the job on the first delivery
	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error {
		if calls.Add(1) == 1 {
			close(done)
		}
		return common.ErrProviderRejected
	})

	testJob := &job.Job{
		Type:    job.TypeSTTStart,
		Payload: []byte(`{"job_id": "x"}`),
	}

	id, err := q.Enqueue(ctx, testJob)
	if err != nil {
		t.Fatalf("Failed to enqueue job: %v", err)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for job to be processed")
	}

	deadline := time.Now().Add(5 * time.Second)
	var j *job.Job
	var ok bool

	for time.Now().Before(deadline) {
		j, ok = q.Status(ctx, id)
		if ok && j.Status == job.StatusFailed {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if !ok {
		t.Error("Job not found in status")
	} else {
		if j.Status != job.StatusFailed {
			t.Errorf("Expected job status %s, got %s", job.StatusFailed, j.Status)
		}
		if j.Error == "" {
			t.Error("Expected error message to be set")
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected single delivery for terminal error, got %d", got)
	}
}

func TestRedisQueue_RetryableErrorRedelivered(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	streamName := "test:work:retry:" + uuid.New().String()[:8]
	defer client.Del(context.Background(), streamName)
	defer client.XGroupDestroy(context.Background(), streamName, "test-workers")

	// short claim timeout so the claimer redelivers quickly
	q := testQueue(t, client, streamName, 1*time.Second)
	defer q.Close()

	var calls atomic.Int32
	succeeded := make(chan struct{})

	q.StartConsumers(ctx, 1, func(ctx context.Context, j *job.Job) error {
		if calls.Add(1) < 2 {
			return common.ErrProviderUnavailable
		}
		close(succeeded)
		return nil
	})

	_, err := q.Enqueue(ctx, &job.Job{
		Type:    job.TypeSTTEvent,
		Payload: []byte(`{"transcript_id": "tr-1"}`),
	})
	if err != nil {
		t.Fatalf("Failed to enqueue job: %v", err)
	}

	select {
	case <-succeeded:
	case <-time.After(30 * time.Second):
		t.Fatalf("Timeout waiting for redelivery, got %d deliveries", calls.Load())
	}
}

func TestRedisQueue_Persistence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	streamName := "test:work:persist:" + uuid.New().String()[:8]

	defer client.Del(ctx, streamName)
	defer client.Del(ctx, streamName+":deadletter")
	defer client.XGroupDestroy(ctx, streamName, "test-workers")

	q1 := testQueue(t, client, streamName, 30*time.Second)

	_, err := q1.Enqueue(ctx, &job.Job{
		Type:    job.TypeTranslateSummarize,
		Payload: []byte(`{"job_id": "persistent"}`),
	})
	if err != nil {
		t.Fatalf("Failed to enqueue job: %v", err)
	}

	// simulate a crash before any consumer picked the item up
	q1.Close()

	info, err := client.XInfoStream(ctx, streamName).Result()
	if err != nil {
		t.Fatalf("Failed to get stream info: %v", err)
	}
	if info.Length == 0 {
		t.Error("Expected job to be persisted in stream")
	}

	q2 := testQueue(t, client, streamName, 1*time.Second)
	defer q2.Close()

	processed := make(chan *job.Job, 1)

	consumerCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	q2.StartConsumers(consumerCtx, 1, func(ctx context.Context, j *job.Job) error {
		processed <- j
		return nil
	})

	select {
	case j := <-processed:
		var payload map[string]string
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			t.Errorf("Failed to unmarshal payload: %v", err)
		}
		if payload["job_id"] != "persistent" {
			t.Errorf("Expected payload job_id=persistent, got %s", payload["job_id"])
		}
	case <-time.After(20 * time.Second):
		t.Error("Timeout waiting for persisted job to be processed")
	}
}
