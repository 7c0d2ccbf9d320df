// Package queue implements a Redis-backed delayed task queue (D2) with
// removeOnComplete/removeOnFail semantics: a task is claimed and removed
// from the queue in the same step, so there is nothing left over to clean
// up on either success or failure.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Task is a unit of delayed work dispatched to a named queue.
type Task struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
	EnqueuedAtMs int64           `json:"enqueued_at_ms"`
	DispatchAtMs int64           `json:"dispatch_at_ms"`
}

// Scheduler enqueues delayed tasks and lets consumers claim due ones.
type Scheduler struct {
	client *redis.Client
}

// New constructs a Scheduler backed by client.
func New(client *redis.Client) *Scheduler {
	return &Scheduler{client: client}
}

func key(queueName string) string {
	return "queue:{" + queueName + "}"
}

// Enqueue schedules payload on queueName to become due after delay,
// tagged with kind so a consumer handling multiple task shapes on the
// same queue can dispatch on it.
func (s *Scheduler) Enqueue(ctx context.Context, queueName, kind string, payload any, delay time.Duration, nowMs int64) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload: %w", err)
	}
	task := Task{
		ID:           uuid.NewString(),
		Kind:         kind,
		Payload:      body,
		EnqueuedAtMs: nowMs,
		DispatchAtMs: nowMs + delay.Milliseconds(),
	}
	member, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("queue: marshal task: %w", err)
	}
	if err := s.client.ZAdd(ctx, key(queueName), redis.Z{
		Score:  float64(task.DispatchAtMs),
		Member: member,
	}).Err(); err != nil {
		return "", fmt.Errorf("queue: enqueue on %s: %w", queueName, err)
	}
	return task.ID, nil
}

// PollDue claims up to limit tasks on queueName whose dispatch time has
// elapsed as of nowMs, removing them from the queue in the process.
func (s *Scheduler) PollDue(ctx context.Context, queueName string, nowMs int64, limit int64) ([]Task, error) {
	raw, err := s.client.ZRangeByScore(ctx, key(queueName), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", nowMs),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: poll %s: %w", queueName, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	for _, member := range raw {
		pipe.ZRem(ctx, key(queueName), member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue: claim %s: %w", queueName, err)
	}

	tasks := make([]Task, 0, len(raw))
	for _, member := range raw {
		var t Task
		if err := json.Unmarshal([]byte(member), &t); err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Depth reports the number of tasks outstanding on queueName, due or not.
func (s *Scheduler) Depth(ctx context.Context, queueName string) (int64, error) {
	n, err := s.client.ZCard(ctx, key(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth %s: %w", queueName, err)
	}
	return n, nil
}
