package jobs

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"clawback/internal/models"
	"clawback/internal/repository"
)

// stuckJobLease is how long a processing job may hold its lease before the
// recovery sweep resets it to pending.
const stuckJobLease = 30 * time.Minute

const stuckJobBatch = 50

// Service is the enqueue surface for detection jobs. The durable job row is
// the source of truth for idempotency; the queue only accelerates pickup, so
// a queue outage downgrades to direct execution instead of refusing the job.
type Service struct {
	Repo    repository.Repository
	Queued  Executor
	Direct  Executor
	Logger  *zap.Logger
	RunWait time.Duration
}

// EnqueueResult reports what happened to an enqueue request.
type EnqueueResult struct {
	Created bool
	Status  string
	Mode    string
}

const (
	ModeQueued = "queued"
	ModeDirect = "direct"
	ModeNoop   = "noop"
)

// Enqueue registers a detection run for (merchant_id, sync_id). Re-submitting
// an existing pair is a no-op that reports the current job status.
func (s *Service) Enqueue(ctx context.Context, payload models.JobPayload) (EnqueueResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return EnqueueResult{}, err
	}
	job := &models.DetectionJob{
		MerchantID: payload.MerchantID,
		SyncID:     payload.SyncID,
		Status:     models.JobStatusPending,
		Payload:    raw,
	}
	created, err := s.Repo.CreateDetectionJob(ctx, job)
	if err != nil {
		return EnqueueResult{}, err
	}
	if !created {
		existing, err := s.Repo.GetDetectionJob(ctx, payload.MerchantID, payload.SyncID)
		if err != nil {
			return EnqueueResult{}, err
		}
		return EnqueueResult{Created: false, Status: existing.Status, Mode: ModeNoop}, nil
	}

	mode := s.dispatch(ctx, payload)
	return EnqueueResult{Created: true, Status: models.JobStatusPending, Mode: mode}, nil
}

// dispatch tries the queue first and falls back to a detached direct run.
func (s *Service) dispatch(ctx context.Context, payload models.JobPayload) string {
	if s.Queued != nil {
		if err := s.Queued.Execute(ctx, payload); err == nil {
			return ModeQueued
		} else {
			s.Logger.Warn("queue publish failed, running job directly",
				zap.String("merchant_id", payload.MerchantID),
				zap.String("sync_id", payload.SyncID),
				zap.Error(err))
		}
	}
	if s.Direct == nil {
		return ModeNoop
	}
	wait := s.RunWait
	if wait <= 0 {
		wait = 10 * time.Minute
	}
	go func() {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wait)
		defer cancel()
		if err := s.Direct.Execute(runCtx, payload); err != nil {
			s.Logger.Error("direct job execution failed",
				zap.String("merchant_id", payload.MerchantID),
				zap.String("sync_id", payload.SyncID),
				zap.Error(err))
		}
	}()
	return ModeDirect
}

// Get returns the durable job record for (merchant_id, sync_id).
func (s *Service) Get(ctx context.Context, merchantID, syncID string) (*models.DetectionJob, error) {
	return s.Repo.GetDetectionJob(ctx, merchantID, syncID)
}

func (s *Service) List(ctx context.Context, params repository.ListDetectionJobsParams) ([]models.DetectionJob, error) {
	return s.Repo.ListDetectionJobs(ctx, params)
}

// RecoverStuck resets processing jobs whose lease expired back to pending and
// re-dispatches them. Run from cron.
func (s *Service) RecoverStuck(ctx context.Context, now time.Time) error {
	stuck, err := s.Repo.ListStuckJobs(ctx, now.Add(-stuckJobLease), stuckJobBatch)
	if err != nil {
		return err
	}
	for _, job := range stuck {
		if err := s.Repo.ResetJobToPending(ctx, job.MerchantID, job.SyncID); err != nil {
			s.Logger.Error("failed to reset stuck job",
				zap.String("merchant_id", job.MerchantID),
				zap.String("sync_id", job.SyncID),
				zap.Error(err))
			continue
		}
		var payload models.JobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			payload = models.JobPayload{MerchantID: job.MerchantID, SyncID: job.SyncID}
		}
		mode := s.dispatch(ctx, payload)
		s.Logger.Warn("stuck job recovered",
			zap.String("merchant_id", job.MerchantID),
			zap.String("sync_id", job.SyncID),
			zap.Int("attempts", job.Attempts),
			zap.String("mode", mode))
	}
	return nil
}
