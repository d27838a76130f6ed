package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clawback/internal/models"
	"clawback/internal/queue"
)

// Executor hands an already-persisted job over for execution. The queued
// implementation accelerates pickup; the direct one is the fallback path that
// keeps jobs moving when the queue is down.
type Executor interface {
	Execute(ctx context.Context, payload models.JobPayload) error
}

// QueuedExecutor publishes the payload to the accelerator queue for a worker
// to consume.
type QueuedExecutor struct {
	Queue     *queue.Client
	QueueName string
	TTL       time.Duration
	Tries     uint16
}

func (e *QueuedExecutor) Execute(ctx context.Context, payload models.JobPayload) error {
	if e == nil || e.Queue == nil {
		return fmt.Errorf("queue is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	tries := e.Tries
	if tries == 0 {
		tries = 3
	}
	ttl := e.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	if _, err := e.Queue.Publish(e.QueueName, data, ttl, tries, 0); err != nil {
		return err
	}
	return nil
}

// DirectExecutor runs the job inline on the caller's goroutine.
type DirectExecutor struct {
	Runner *Runner
}

func (e *DirectExecutor) Execute(ctx context.Context, payload models.JobPayload) error {
	return e.Runner.Process(ctx, payload)
}
