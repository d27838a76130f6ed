package finding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clawback/internal/models"
	"clawback/internal/notify"
	"clawback/internal/repository"
)

// Manager owns the finding lifecycle: atomic persistence per detection run,
// the deadline sweep, and the one-time expiring alert.
type Manager struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// PersistRun stores a run's findings in one transaction, after the full
// detector suite has completed. Pending findings from a previous attempt of
// the same (merchant, sync) run are replaced so reprocessing converges.
func (m *Manager) PersistRun(ctx context.Context, merchantID, syncID string, items []models.DetectionFinding) error {
	if m == nil || m.Repo == nil {
		return nil
	}
	if err := m.Repo.ReplaceFindingsForRun(ctx, merchantID, syncID, items); err != nil {
		return fmt.Errorf("persist findings: %w", err)
	}
	notify.PublishBestEffortCtx(ctx, "claim_findings_persisted", "info", map[string]any{
		"merchant_id": merchantID,
		"sync_id":     syncID,
		"findings":    len(items),
	})
	return nil
}

// Sweep expires past-deadline findings (terminal, irreversible) and fires the
// one-time alert for findings inside the expiry window. Alert delivery is
// fire-and-forget; the alert-sent flag is still set so it fires exactly once.
func (m *Manager) Sweep(ctx context.Context, now time.Time) error {
	if m == nil || m.Repo == nil {
		return nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	expired, err := m.Repo.ExpireDueFindings(ctx, now)
	if err != nil {
		return fmt.Errorf("expire due findings: %w", err)
	}
	if expired > 0 {
		if m.Logger != nil {
			m.Logger.Info("expired findings past filing deadline", zap.Int64("count", expired))
		}
		notify.PublishBestEffortCtx(ctx, "claim_findings_expired", "warn", map[string]any{
			"count": expired,
		})
	}

	window := time.Duration(ExpiryAlertWindowDays) * 24 * time.Hour
	expiring, err := m.Repo.ListExpiringFindings(ctx, now, window, 200)
	if err != nil {
		return fmt.Errorf("list expiring findings: %w", err)
	}
	for _, item := range expiring {
		remaining := DaysRemaining(item.DeadlineDate, now)
		if remaining <= 0 || remaining > ExpiryAlertWindowDays {
			continue
		}
		if err := m.Repo.MarkExpirationAlertSent(ctx, item.ID); err != nil {
			if m.Logger != nil {
				m.Logger.Warn("mark expiration alert failed", zap.Uint64("finding_id", item.ID), zap.Error(err))
			}
			continue
		}
		notify.PublishBestEffortCtx(ctx, "claim_finding_expiring", "warn", map[string]any{
			"finding_id":     item.ID,
			"merchant_id":    item.MerchantID,
			"anomaly_type":   item.AnomalyType,
			"days_remaining": remaining,
			"deadline_date":  item.DeadlineDate.Format("2006-01-02"),
		})
	}
	return nil
}

// Transition applies an operator status change. Expired is terminal.
func (m *Manager) Transition(ctx context.Context, id uint64, status string) error {
	if m == nil || m.Repo == nil {
		return nil
	}
	item, err := m.Repo.GetFindingByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("finding %d not found", id)
	}
	if !validTransition(item.Status, status) {
		return fmt.Errorf("invalid status transition %s -> %s", item.Status, status)
	}
	if err := m.Repo.UpdateFindingStatus(ctx, id, status); err != nil {
		return err
	}
	notify.PublishBestEffortCtx(ctx, "claim_finding_"+status, "info", map[string]any{
		"finding_id":  id,
		"merchant_id": item.MerchantID,
	})
	return nil
}

func validTransition(from, to string) bool {
	switch from {
	case models.FindingStatusPending:
		return to == models.FindingStatusReviewed || to == models.FindingStatusDisputed
	case models.FindingStatusReviewed, models.FindingStatusDisputed:
		return to == models.FindingStatusResolved
	default:
		return false
	}
}
