package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"clawback/internal/models"
)

// Detector is one independent anomaly detection algorithm. Detect is a pure
// function over the snapshot: no I/O against the ledger, no shared state.
type Detector interface {
	Name() string
	Detect(ctx context.Context, in Input) ([]models.DetectionFinding, error)
}

// Input is the read-only synced-data snapshot for one (merchant, sync) run.
// All detectors consume the same snapshot; their outputs are concatenated,
// never merged.
type Input struct {
	MerchantID string
	SyncID     string

	// Now is the discovery timestamp used for deadlines. Injected so runs
	// are reproducible in tests.
	Now time.Time

	Events          []models.LedgerEvent
	Dimensions      []models.ProductDimensions
	Fees            []models.FeeTransaction
	Refunds         []models.RefundEvent
	Prices          []models.PriceHistory
	Reimbursements  []models.ReimbursementEvent
	InventoryLosses []models.InventoryLossEvent
}

// Suite fans the detector families out concurrently against one snapshot.
type Suite struct {
	Detectors []Detector
	Logger    *zap.Logger
}

// Run executes every detector and concatenates findings in registration
// order. A detector error is collected, not fatal to its siblings; the
// joined error is returned so the job layer can decide the run's fate.
func (s *Suite) Run(ctx context.Context, in Input) ([]models.DetectionFinding, error) {
	if s == nil || len(s.Detectors) == 0 {
		return nil, nil
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	results := make([][]models.DetectionFinding, len(s.Detectors))
	errs := make([]error, len(s.Detectors))

	var wg sync.WaitGroup
	for i, det := range s.Detectors {
		if det == nil {
			continue
		}
		wg.Add(1)
		go func(idx int, d Detector) {
			defer wg.Done()
			items, err := d.Detect(ctx, in)
			if err != nil {
				errs[idx] = fmt.Errorf("%s: %w", d.Name(), err)
				return
			}
			results[idx] = items
		}(i, det)
	}
	wg.Wait()

	var out []models.DetectionFinding
	for i, items := range results {
		if errs[i] != nil {
			if s.Logger != nil {
				s.Logger.Warn("detector failed", zap.Error(errs[i]))
			}
			continue
		}
		out = append(out, items...)
	}
	return out, errors.Join(errs...)
}
