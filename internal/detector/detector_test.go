package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clawback/internal/finding"
	"clawback/internal/models"
)

type fakeDetector struct {
	name     string
	findings []models.DetectionFinding
	err      error
}

func (f *fakeDetector) Name() string { return f.name }

func (f *fakeDetector) Detect(ctx context.Context, in Input) ([]models.DetectionFinding, error) {
	return f.findings, f.err
}

func TestSuite_FailingDetectorDoesNotStarveSiblings(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	good := finding.New("m-1", "sync-1", models.AnomalyClassifierClaim,
		models.SeverityLow, decimal.NewFromInt(10), 0.7, map[string]string{}, nil, now)

	s := &Suite{
		Logger: zap.NewNop(),
		Detectors: []Detector{
			&fakeDetector{name: "broken", err: errors.New("boom")},
			&fakeDetector{name: "working", findings: []models.DetectionFinding{good}},
		},
	}
	out, err := s.Run(context.Background(), Input{MerchantID: "m-1", SyncID: "sync-1", Now: now})
	if err == nil {
		t.Fatal("expected the broken detector's error to surface")
	}
	if len(out) != 1 {
		t.Fatalf("findings = %d, want the working detector's output", len(out))
	}
	if out[0].AnomalyType != models.AnomalyClassifierClaim {
		t.Fatalf("anomaly type = %q", out[0].AnomalyType)
	}
}

func TestSuite_EmptySuite(t *testing.T) {
	var s *Suite
	out, err := s.Run(context.Background(), Input{})
	if err != nil || out != nil {
		t.Fatalf("out = %v err = %v, want nil/nil", out, err)
	}
}
