package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"clawback/internal/detector"
	"clawback/internal/finding"
	"clawback/internal/models"
	"clawback/internal/repository"
)

const (
	defaultScanWindowDays = 180
	snapshotPageSize      = 500
)

// Runner executes one detection job end to end: lease the job row, load the
// read-only snapshot, fan the detectors out, persist findings atomically.
// Detector errors degrade the run; only snapshot or persistence failures mark
// the job failed.
type Runner struct {
	Repo           repository.Repository
	Suite          *detector.Suite
	Findings       *finding.Manager
	Logger         *zap.Logger
	ScanWindowDays int
}

func (r *Runner) Process(ctx context.Context, payload models.JobPayload) error {
	now := time.Now().UTC()
	if err := r.Repo.MarkJobProcessing(ctx, payload.MerchantID, payload.SyncID, now); err != nil {
		return err
	}

	in, err := r.loadSnapshot(ctx, payload, now)
	if err != nil {
		r.fail(ctx, payload, err)
		return err
	}

	items, detErr := r.Suite.Run(ctx, in)
	if detErr != nil {
		r.Logger.Warn("detection run degraded",
			zap.String("merchant_id", payload.MerchantID),
			zap.String("sync_id", payload.SyncID),
			zap.Error(detErr))
	}

	if err := r.Findings.PersistRun(ctx, payload.MerchantID, payload.SyncID, items); err != nil {
		r.fail(ctx, payload, err)
		return err
	}

	if err := r.Repo.MarkJobCompleted(ctx, payload.MerchantID, payload.SyncID, time.Now().UTC()); err != nil {
		return err
	}
	r.Logger.Info("detection job completed",
		zap.String("merchant_id", payload.MerchantID),
		zap.String("sync_id", payload.SyncID),
		zap.Int("findings", len(items)),
		zap.Bool("degraded", detErr != nil))
	return nil
}

func (r *Runner) fail(ctx context.Context, payload models.JobPayload, cause error) {
	if err := r.Repo.MarkJobFailed(ctx, payload.MerchantID, payload.SyncID, cause.Error()); err != nil {
		r.Logger.Error("failed to record job failure",
			zap.String("merchant_id", payload.MerchantID),
			zap.String("sync_id", payload.SyncID),
			zap.Error(err))
	}
}

// loadSnapshot pulls the ledger window and every reference table the detector
// families read. All queries are bounded by the scan window.
func (r *Runner) loadSnapshot(ctx context.Context, payload models.JobPayload, now time.Time) (detector.Input, error) {
	windowDays := r.ScanWindowDays
	if windowDays <= 0 {
		windowDays = defaultScanWindowDays
	}
	since := now.AddDate(0, 0, -windowDays)

	events, err := r.loadLedgerWindow(ctx, payload.MerchantID, since, now)
	if err != nil {
		return detector.Input{}, err
	}

	dims, err := r.Repo.ListProductDimensions(ctx, payload.MerchantID, nil)
	if err != nil {
		return detector.Input{}, err
	}
	fees, err := r.Repo.ListFeeTransactions(ctx, payload.MerchantID, nil, &since)
	if err != nil {
		return detector.Input{}, err
	}
	refunds, err := r.Repo.ListRefundEvents(ctx, payload.MerchantID, &since)
	if err != nil {
		return detector.Input{}, err
	}
	prices, err := r.Repo.ListPriceHistory(ctx, payload.MerchantID, nil, &since)
	if err != nil {
		return detector.Input{}, err
	}
	reimbs, err := r.Repo.ListReimbursementEvents(ctx, payload.MerchantID, &since)
	if err != nil {
		return detector.Input{}, err
	}
	losses, err := r.Repo.ListInventoryLossEvents(ctx, payload.MerchantID, &since)
	if err != nil {
		return detector.Input{}, err
	}

	return detector.Input{
		MerchantID:      payload.MerchantID,
		SyncID:          payload.SyncID,
		Now:             now,
		Events:          events,
		Dimensions:      dims,
		Fees:            fees,
		Refunds:         refunds,
		Prices:          prices,
		Reimbursements:  reimbs,
		InventoryLosses: losses,
	}, nil
}

func (r *Runner) loadLedgerWindow(ctx context.Context, merchantID string, start, end time.Time) ([]models.LedgerEvent, error) {
	var out []models.LedgerEvent
	asc := true
	for offset := 0; ; offset += snapshotPageSize {
		page, err := r.Repo.ListLedgerEvents(ctx, repository.ListLedgerEventsParams{
			MerchantID: merchantID,
			Start:      &start,
			End:        &end,
			Limit:      snapshotPageSize,
			Offset:     offset,
			OrderBy:    "event_date",
			Asc:        &asc,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < snapshotPageSize {
			return out, nil
		}
	}
}
