package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clawback/internal/models"
	"clawback/internal/repository"
)

const (
	DiscrepancyMultiMerge         = "multi-merge"
	DiscrepancyOrphanAdjustment   = "orphan adjustment"
	DiscrepancyRefundExceedsOrder = "refund exceeds order"
)

// orphanAdjustmentFloor is the |amount| above which an adjustment without a
// matching order in the window is flagged.
var orphanAdjustmentFloor = decimal.NewFromInt(100)

// refundExcessRatio flags a refund exceeding its matched order by more than 10%.
var refundExcessRatio = decimal.NewFromFloat(1.10)

const pageSize = 500

// Discrepancy is one structural inconsistency in the ledger. A single event
// may appear under more than one rule.
type Discrepancy struct {
	Type    string          `json:"type"`
	EventID string          `json:"event_id"`
	OrderID string          `json:"order_id,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
	Detail  string          `json:"detail"`
}

// Report aggregates the ledger over a period. Generation is read-only and
// idempotent: an unchanged ledger yields an identical report.
type Report struct {
	MerchantID string                 `json:"merchant_id"`
	StartDate  time.Time              `json:"start_date"`
	EndDate    time.Time              `json:"end_date"`
	TotalCount int64                  `json:"total_count"`
	TotalAmount decimal.Decimal       `json:"total_amount"`
	BySourceType map[string]TypeTotal `json:"by_source_type"`
	Discrepancies []Discrepancy       `json:"discrepancies"`
	GeneratedAt time.Time             `json:"generated_at"`
}

type TypeTotal struct {
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type Reporter struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func (r *Reporter) Reconcile(ctx context.Context, merchantID string, startDate, endDate time.Time) (Report, error) {
	report := Report{
		MerchantID:   merchantID,
		StartDate:    startDate,
		EndDate:      endDate,
		BySourceType: map[string]TypeTotal{},
		TotalAmount:  decimal.Zero,
		GeneratedAt:  time.Now().UTC(),
	}
	if r == nil || r.Repo == nil {
		return report, nil
	}

	totals, err := r.Repo.SumLedgerAmountsByType(ctx, merchantID, startDate, endDate)
	if err != nil {
		return report, fmt.Errorf("aggregate ledger: %w", err)
	}
	for sourceType, t := range totals {
		report.BySourceType[sourceType] = TypeTotal{Count: t.Count, Amount: t.Amount}
		report.TotalCount += t.Count
		report.TotalAmount = report.TotalAmount.Add(t.Amount)
	}

	events, err := r.fetchWindow(ctx, merchantID, startDate, endDate)
	if err != nil {
		return report, err
	}

	ordersByID := map[string][]models.LedgerEvent{}
	for _, ev := range events {
		if ev.SourceType == models.SourceTypeOrder && ev.OrderID != nil {
			ordersByID[*ev.OrderID] = append(ordersByID[*ev.OrderID], ev)
		}
	}

	for _, ev := range events {
		// Rule 1: appeared in 3+ source reports.
		if ev.MergeCount > 2 {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Type:    DiscrepancyMultiMerge,
				EventID: ev.EventID,
				OrderID: orderIDOf(ev),
				Amount:  ev.Amount,
				Detail:  fmt.Sprintf("event merged from %d source reports", ev.MergeCount),
			})
		}

		// Rule 2: sizeable adjustment with no matching order in the window.
		if ev.SourceType == models.SourceTypeAdjustment &&
			ev.Amount.Abs().GreaterThan(orphanAdjustmentFloor) {
			if ev.OrderID == nil || len(ordersByID[*ev.OrderID]) == 0 {
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					Type:    DiscrepancyOrphanAdjustment,
					EventID: ev.EventID,
					OrderID: orderIDOf(ev),
					Amount:  ev.Amount,
					Detail:  "adjustment has no matching order event in the window",
				})
			}
		}

		// Rule 3: refund larger than its matched order by more than 10%.
		if ev.SourceType == models.SourceTypeRefund && ev.OrderID != nil {
			for _, ord := range ordersByID[*ev.OrderID] {
				if ev.Amount.Abs().GreaterThan(ord.Amount.Abs().Mul(refundExcessRatio)) {
					report.Discrepancies = append(report.Discrepancies, Discrepancy{
						Type:    DiscrepancyRefundExceedsOrder,
						EventID: ev.EventID,
						OrderID: *ev.OrderID,
						Amount:  ev.Amount,
						Detail: fmt.Sprintf("refund %s exceeds order %s by more than 10%%",
							ev.Amount.Abs().StringFixed(2), ord.Amount.Abs().StringFixed(2)),
					})
					break
				}
			}
		}
	}

	if r.Logger != nil {
		r.Logger.Info("reconciliation report generated",
			zap.String("merchant_id", merchantID),
			zap.Int64("events", report.TotalCount),
			zap.Int("discrepancies", len(report.Discrepancies)))
	}
	return report, nil
}

// fetchWindow pages through the window so no single query is unbounded.
func (r *Reporter) fetchWindow(ctx context.Context, merchantID string, start, end time.Time) ([]models.LedgerEvent, error) {
	asc := true
	var out []models.LedgerEvent
	for offset := 0; ; offset += pageSize {
		page, err := r.Repo.ListLedgerEvents(ctx, repository.ListLedgerEventsParams{
			MerchantID: merchantID,
			Start:      &start,
			End:        &end,
			Limit:      pageSize,
			Offset:     offset,
			OrderBy:    "event_date",
			Asc:        &asc,
		})
		if err != nil {
			return nil, fmt.Errorf("list ledger window: %w", err)
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}

func orderIDOf(ev models.LedgerEvent) string {
	if ev.OrderID == nil {
		return ""
	}
	return *ev.OrderID
}
