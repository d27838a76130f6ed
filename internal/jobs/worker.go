package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"clawback/internal/models"
	"clawback/internal/queue"
)

// Worker is the accelerator-queue consumer pool. Each goroutine long-polls
// the queue and runs jobs through the shared Runner. Jobs are always acked:
// the durable job row records failures, and retries go through re-enqueue or
// stuck-job recovery rather than queue redelivery.
type Worker struct {
	Queue       *queue.Client
	QueueName   string
	Runner      *Runner
	Logger      *zap.Logger
	Concurrency int
	PollTimeout time.Duration
	TTR         time.Duration
	JobTimeout  time.Duration

	// BaseCtx carries process-scoped values, notably the notify client,
	// into job contexts. Its cancellation is stripped so shutdown drains
	// in-flight jobs instead of aborting them.
	BaseCtx context.Context

	closing atomic.Bool
	wg      sync.WaitGroup
}

func (w *Worker) Start() {
	n := w.Concurrency
	if n <= 0 {
		n = 2
	}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go func(slot int) {
			defer w.wg.Done()
			w.loop(slot)
		}(i)
	}
	w.Logger.Info("detection workers started",
		zap.String("queue", w.QueueName),
		zap.Int("concurrency", n))
}

// Shutdown stops pulling new jobs and waits for in-flight ones to finish.
func (w *Worker) Shutdown() {
	if !w.closing.CompareAndSwap(false, true) {
		return
	}
	w.wg.Wait()
	w.Logger.Info("detection workers stopped", zap.String("queue", w.QueueName))
}

func (w *Worker) loop(slot int) {
	pollTimeout := w.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 3 * time.Second
	}
	ttr := w.TTR
	if ttr <= 0 {
		ttr = 30 * time.Minute
	}
	for !w.closing.Load() {
		job, err := w.Queue.Consume(w.QueueName, ttr, pollTimeout)
		if err != nil {
			w.Logger.Warn("queue consume failed",
				zap.String("queue", w.QueueName),
				zap.Int("slot", slot),
				zap.Error(err))
			time.Sleep(2 * time.Second)
			continue
		}
		if job == nil {
			continue
		}
		w.handle(job)
	}
}

func (w *Worker) handle(job *queue.Job) {
	defer func() {
		if err := w.Queue.Ack(job.Queue, job.ID); err != nil {
			w.Logger.Warn("queue ack failed",
				zap.String("queue", job.Queue),
				zap.String("job_id", job.ID),
				zap.Error(err))
		}
	}()

	var payload models.JobPayload
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		w.Logger.Error("discarding malformed queue payload",
			zap.String("job_id", job.ID),
			zap.Error(err))
		return
	}

	ctx, cancel := w.jobContext()
	defer cancel()
	if err := w.Runner.Process(ctx, payload); err != nil {
		w.Logger.Error("detection job failed",
			zap.String("merchant_id", payload.MerchantID),
			zap.String("sync_id", payload.SyncID),
			zap.Error(err))
	}
}

func (w *Worker) jobContext() (context.Context, context.CancelFunc) {
	base := w.BaseCtx
	if base == nil {
		base = context.Background()
	}
	timeout := w.JobTimeout
	if timeout <= 0 {
		timeout = 25 * time.Minute
	}
	return context.WithTimeout(context.WithoutCancel(base), timeout)
}
