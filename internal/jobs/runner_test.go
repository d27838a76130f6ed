package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clawback/internal/detector"
	"clawback/internal/finding"
	"clawback/internal/models"
)

type stubDetector struct {
	name string
	out  []models.DetectionFinding
	err  error
}

func (d *stubDetector) Name() string { return d.name }

func (d *stubDetector) Detect(ctx context.Context, in detector.Input) ([]models.DetectionFinding, error) {
	return d.out, d.err
}

func newRunner(repo *stubRepo, detectors ...detector.Detector) *Runner {
	return &Runner{
		Repo:     repo,
		Suite:    &detector.Suite{Detectors: detectors, Logger: zap.NewNop()},
		Findings: &finding.Manager{Repo: repo, Logger: zap.NewNop()},
		Logger:   zap.NewNop(),
	}
}

func sampleFinding() models.DetectionFinding {
	return finding.New("m-1", "s-1", models.AnomalyClassifierClaim, models.SeverityLow,
		decimal.NewFromInt(10), 0.7, map[string]string{}, nil, time.Now().UTC())
}

func TestRunner_Process(t *testing.T) {
	repo := newStubRepo()
	repo.jobs[jobKey("m-1", "s-1")] = &models.DetectionJob{MerchantID: "m-1", SyncID: "s-1", Status: models.JobStatusPending}
	r := newRunner(repo, &stubDetector{name: "ok", out: []models.DetectionFinding{sampleFinding()}})

	if err := r.Process(context.Background(), models.JobPayload{MerchantID: "m-1", SyncID: "s-1"}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := repo.markedStatuses(); len(got) != 2 || got[0] != "processing" || got[1] != "completed" {
		t.Fatalf("lifecycle = %v, want [processing completed]", got)
	}
	if len(repo.persisted) != 1 || len(repo.persisted[0]) != 1 {
		t.Fatalf("persisted = %v, want one run with one finding", repo.persisted)
	}
	if repo.jobs[jobKey("m-1", "s-1")].Status != models.JobStatusCompleted {
		t.Fatalf("job status = %q, want completed", repo.jobs[jobKey("m-1", "s-1")].Status)
	}
}

func TestRunner_DetectorErrorDegradesRun(t *testing.T) {
	repo := newStubRepo()
	repo.jobs[jobKey("m-1", "s-1")] = &models.DetectionJob{MerchantID: "m-1", SyncID: "s-1", Status: models.JobStatusPending}
	r := newRunner(repo,
		&stubDetector{name: "broken", err: errors.New("boom")},
		&stubDetector{name: "ok", out: []models.DetectionFinding{sampleFinding()}},
	)

	if err := r.Process(context.Background(), models.JobPayload{MerchantID: "m-1", SyncID: "s-1"}); err != nil {
		t.Fatalf("a detector failure must not fail the job: %v", err)
	}
	if repo.jobs[jobKey("m-1", "s-1")].Status != models.JobStatusCompleted {
		t.Fatalf("job status = %q, want completed", repo.jobs[jobKey("m-1", "s-1")].Status)
	}
	// The healthy sibling's findings still land.
	if len(repo.persisted) != 1 || len(repo.persisted[0]) != 1 {
		t.Fatalf("persisted = %v, want the surviving finding", repo.persisted)
	}
}

func TestRunner_SnapshotFailureFailsJob(t *testing.T) {
	repo := newStubRepo()
	repo.jobs[jobKey("m-1", "s-1")] = &models.DetectionJob{MerchantID: "m-1", SyncID: "s-1", Status: models.JobStatusPending}
	repo.refundsErr = errors.New("db down")
	r := newRunner(repo, &stubDetector{name: "ok"})

	if err := r.Process(context.Background(), models.JobPayload{MerchantID: "m-1", SyncID: "s-1"}); err == nil {
		t.Fatal("expected snapshot failure to surface")
	}
	if repo.jobs[jobKey("m-1", "s-1")].Status != models.JobStatusFailed {
		t.Fatalf("job status = %q, want failed", repo.jobs[jobKey("m-1", "s-1")].Status)
	}
	if repo.jobs[jobKey("m-1", "s-1")].LastError == nil {
		t.Fatal("failure reason must be recorded")
	}
	if len(repo.persisted) != 0 {
		t.Fatal("nothing may be persisted for a failed snapshot")
	}
}

func TestRunner_PersistFailureFailsJob(t *testing.T) {
	repo := newStubRepo()
	repo.jobs[jobKey("m-1", "s-1")] = &models.DetectionJob{MerchantID: "m-1", SyncID: "s-1", Status: models.JobStatusPending}
	repo.persistErr = errors.New("tx aborted")
	r := newRunner(repo, &stubDetector{name: "ok", out: []models.DetectionFinding{sampleFinding()}})

	if err := r.Process(context.Background(), models.JobPayload{MerchantID: "m-1", SyncID: "s-1"}); err == nil {
		t.Fatal("expected persistence failure to surface")
	}
	if repo.jobs[jobKey("m-1", "s-1")].Status != models.JobStatusFailed {
		t.Fatalf("job status = %q, want failed", repo.jobs[jobKey("m-1", "s-1")].Status)
	}
}
