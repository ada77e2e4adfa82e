package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/squeeko/squeeko/internal/common"
	"github.com/squeeko/squeeko/internal/job"
	"github.com/squeeko/squeeko/internal/memq"
)

// RedisQueue implements JobQueue using Redis Streams. Delivery is at least
// once: a work item stays pending until acked, and the claimer hands stuck
// or failed-but-retryable items back to a worker.
type RedisQueue struct {
	client        *redis.Client
	stream        string
	group         string
	maxWait       time.Duration
	claimInterval time.Duration // how often to check for stuck items
	claimTimeout  time.Duration // consider item stuck after this duration
	maxRetries    int64

	mu      sync.RWMutex
	jobs    map[uuid.UUID]*job.Job // local cache for status lookups
	wg      sync.WaitGroup
	closing chan struct{}
}

type RedisQueueConfig struct {
	Stream        string
	Group         string
	MaxJobTime    time.Duration
	ClaimInterval time.Duration
	ClaimTimeout  time.Duration
	MaxRetries    int64
}

func DefaultConfig() RedisQueueConfig {
	return RedisQueueConfig{
		Stream:        "squeeko:work",
		Group:         "pipeline-workers",
		MaxJobTime:    5 * time.Minute,
		ClaimInterval: 15 * time.Second,
		ClaimTimeout:  time.Minute,
		MaxRetries:    3,
	}
}

func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig) (*RedisQueue, error) {
	q := &RedisQueue{
		client:        client,
		stream:        cfg.Stream,
		group:         cfg.Group,
		maxWait:       cfg.MaxJobTime,
		claimInterval: cfg.ClaimInterval,
		claimTimeout:  cfg.ClaimTimeout,
		maxRetries:    cfg.MaxRetries,
		jobs:          make(map[uuid.UUID]*job.Job),
		closing:       make(chan struct{}),
	}

	ctx := context.Background()
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	slog.Info("redis queue initialized",
		"stream", q.stream,
		"group", q.group,
		"max_job_time", q.maxWait,
		"claim_timeout", q.claimTimeout)

	return q, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, j *job.Job) (uuid.UUID, error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.Status = job.StatusQueued
	j.Enqueued = time.Now()

	data, err := json.Marshal(j)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal work item: %w", err)
	}

	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"id":   j.ID.String(),
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to add work item to stream: %w", err)
	}

	q.mu.Lock()
	q.jobs[j.ID] = j
	q.mu.Unlock()

	slog.Debug("work item enqueued", "item_id", j.ID, "type", j.Type)
	return j.ID, nil
}

func (q *RedisQueue) Status(ctx context.Context, id uuid.UUID) (*job.Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	return j, ok
}

// Len returns approximate number of pending work items
func (q *RedisQueue) Len() int {
	ctx := context.Background()
	info, err := q.client.XInfoGroups(ctx, q.stream).Result()
	if err != nil {
		return 0
	}
	for _, g := range info {
		if g.Name == q.group {
			return int(g.Pending)
		}
	}
	return 0
}

func (q *RedisQueue) StartConsumers(ctx context.Context, n int, handler memq.JobHandler) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.consumer(ctx, i+1, handler)
	}

	q.wg.Add(1)
	go q.claimer(ctx, handler)

	slog.Info("started queue consumers", "count", n)
}

func (q *RedisQueue) consumer(ctx context.Context, workerID int, handler memq.JobHandler) {
	defer q.wg.Done()
	consumerName := fmt.Sprintf("worker-%d", workerID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("consumer shutting down", "worker", workerID)
			return
		case <-q.closing:
			return
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumerName,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			slog.Error("failed to read from stream", "error", err, "worker", workerID)
			time.Sleep(time.Second) // backoff on error
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.processMessage(ctx, msg, 1, handler, workerID)
			}
		}
	}
}

// claimer redelivers items whose consumer died or whose handler failed with
// a retryable error. Leaving a message pending is how a retry is requested.
func (q *RedisQueue) claimer(ctx context.Context, handler memq.JobHandler) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closing:
			return
		case <-ticker.C:
			q.claimStuck(ctx, handler)
		}
	}
}

func (q *RedisQueue) claimStuck(ctx context.Context, handler memq.JobHandler) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()

	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("failed to get pending entries", "error", err)
		}
		return
	}

	for _, p := range pending {
		if p.Idle < q.claimTimeout {
			continue
		}

		msgs, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: "claimer",
			MinIdle:  q.claimTimeout,
			Messages: []string{p.ID},
		}).Result()

		if err != nil {
			slog.Error("failed to claim stuck work item", "message_id", p.ID, "error", err)
			continue
		}

		for _, msg := range msgs {
			slog.Warn("reclaimed stuck work item",
				"message_id", msg.ID,
				"idle_time", p.Idle,
				"delivery_count", p.RetryCount)

			if p.RetryCount > q.maxRetries {
				q.moveToDeadLetter(ctx, msg, fmt.Sprintf("exceeded max retries: %d", p.RetryCount))
				continue
			}

			go q.processMessage(ctx, msg, p.RetryCount, handler, 0)
		}
	}
}

func (q *RedisQueue) processMessage(ctx context.Context, msg redis.XMessage, delivery int64, handler memq.JobHandler, workerID int) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		slog.Error("invalid message format", "message_id", msg.ID)
		q.ackMessage(ctx, msg.ID)
		return
	}

	var j job.Job
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		slog.Error("failed to unmarshal work item", "message_id", msg.ID, "error", err)
		q.ackMessage(ctx, msg.ID)
		return
	}

	now := time.Now()
	j.Status = job.StatusRunning
	j.Started = &now

	q.mu.Lock()
	q.jobs[j.ID] = &j
	q.mu.Unlock()

	slog.Info("processing work item", "item_id", j.ID, "type", j.Type, "worker", workerID, "delivery", delivery)

	runCtx, cancel := context.WithTimeout(ctx, q.maxWait)
	err := handler(runCtx, &j)
	cancel()

	fin := time.Now()
	j.Finished = &fin

	switch {
	case err == nil:
		j.Status = job.StatusSucceeded
		slog.Info("work item completed", "item_id", j.ID, "type", j.Type, "worker", workerID,
			"duration", fin.Sub(*j.Started))
		q.ackMessage(ctx, msg.ID)
	case common.Retryable(err):
		// leave pending; claimer redelivers after claimTimeout
		j.Status = job.StatusQueued
		j.Error = err.Error()
		slog.Warn("work item failed, will retry", "item_id", j.ID, "type", j.Type, "error", err,
			"delivery", delivery)
	default:
		j.Status = job.StatusFailed
		j.Error = err.Error()
		slog.Error("work item failed permanently", "item_id", j.ID, "type", j.Type, "error", err)
		q.ackMessage(ctx, msg.ID)
	}

	q.mu.Lock()
	q.jobs[j.ID] = &j
	q.mu.Unlock()
}

func (q *RedisQueue) moveToDeadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	dlStream := q.stream + ":deadletter"

	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlStream,
		Values: map[string]any{
			"original_id": msg.ID,
			"data":        msg.Values["data"],
			"reason":      reason,
			"moved_at":    time.Now().Format(time.RFC3339),
		},
	}).Result()

	if err != nil {
		slog.Error("failed to move to dead letter", "message_id", msg.ID, "error", err)
	} else {
		slog.Warn("moved work item to dead letter stream", "message_id", msg.ID, "reason", reason)
	}

	q.ackMessage(ctx, msg.ID)
}

func (q *RedisQueue) ackMessage(ctx context.Context, messageID string) {
	err := q.client.XAck(ctx, q.stream, q.group, messageID).Err()
	if err != nil {
		slog.Error("failed to ack message", "message_id", messageID, "error", err)
	}
}

func (q *RedisQueue) Close() error {
	close(q.closing)
	q.wg.Wait()
	slog.Info("queue closed gracefully")
	return nil
}

// isGroupExistsError checks for "BUSYGROUP Consumer Group name already exists"
func isGroupExistsError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// GetDeadLetterCount returns count of work items in the dead letter stream
func (q *RedisQueue) GetDeadLetterCount(ctx context.Context) (int64, error) {
	dlStream := q.stream + ":deadletter"
	return q.client.XLen(ctx, dlStream).Result()
}

// RetryDeadLetterJob moves a work item from dead letter back to main stream
func (q *RedisQueue) RetryDeadLetterJob(ctx context.Context, messageID string) error {
	dlStream := q.stream + ":deadletter"

	msgs, err := q.client.XRange(ctx, dlStream, messageID, messageID).Result()
	if err != nil {
		return fmt.Errorf("failed to read dead letter message: %w", err)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("message not found: %s", messageID)
	}

	msg := msgs[0]
	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("invalid message format")
	}

	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"id":   msg.Values["original_id"],
			"data": data,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to re-add work item: %w", err)
	}

	_, err = q.client.XDel(ctx, dlStream, messageID).Result()
	if err != nil {
		slog.Warn("failed to delete from dead letter", "message_id", messageID, "error", err)
	}

	return nil
}
