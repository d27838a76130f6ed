package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clawback/internal/models"
	"clawback/internal/repository"
)

// stubRepo covers only the queries the reporter issues; anything else panics
// through the embedded nil interface.
type stubRepo struct {
	repository.Repository

	events []models.LedgerEvent
	totals map[string]repository.SourceTypeTotal
}

func (s *stubRepo) SumLedgerAmountsByType(ctx context.Context, merchantID string, start, end time.Time) (map[string]repository.SourceTypeTotal, error) {
	return s.totals, nil
}

func (s *stubRepo) ListLedgerEvents(ctx context.Context, params repository.ListLedgerEventsParams) ([]models.LedgerEvent, error) {
	if params.Offset >= len(s.events) {
		return nil, nil
	}
	end := params.Offset + params.Limit
	if end > len(s.events) {
		end = len(s.events)
	}
	return s.events[params.Offset:end], nil
}

func strPtr(s string) *string { return &s }

func testLedger(now time.Time) []models.LedgerEvent {
	return []models.LedgerEvent{
		{EventID: "evt_order_a", SourceType: models.SourceTypeOrder, OrderID: strPtr("A"),
			Amount: decimal.NewFromInt(100), MergeCount: 1, EventDate: now.AddDate(0, 0, -10)},
		// Refund of 115 against a 100 order: past the 10% allowance.
		{EventID: "evt_refund_a", SourceType: models.SourceTypeRefund, OrderID: strPtr("A"),
			Amount: decimal.NewFromInt(-115), MergeCount: 1, EventDate: now.AddDate(0, 0, -8)},
		{EventID: "evt_order_b", SourceType: models.SourceTypeOrder, OrderID: strPtr("B"),
			Amount: decimal.NewFromInt(100), MergeCount: 1, EventDate: now.AddDate(0, 0, -7)},
		{EventID: "evt_refund_b", SourceType: models.SourceTypeRefund, OrderID: strPtr("B"),
			Amount: decimal.NewFromInt(-50), MergeCount: 1, EventDate: now.AddDate(0, 0, -6)},
		// Seen in three source reports.
		{EventID: "evt_fee_tri", SourceType: models.SourceTypeFee, OrderID: strPtr("B"),
			Amount: decimal.NewFromInt(-4), MergeCount: 3, EventDate: now.AddDate(0, 0, -5)},
		// Sizeable adjustment with no order anywhere in the window.
		{EventID: "evt_adj_orphan", SourceType: models.SourceTypeAdjustment,
			Amount: decimal.NewFromInt(-150), MergeCount: 1, EventDate: now.AddDate(0, 0, -4)},
		// Small adjustment, under the floor.
		{EventID: "evt_adj_small", SourceType: models.SourceTypeAdjustment,
			Amount: decimal.NewFromInt(-50), MergeCount: 1, EventDate: now.AddDate(0, 0, -3)},
	}
}

func TestReconcile_FlagsDiscrepancies(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubRepo{
		events: testLedger(now),
		totals: map[string]repository.SourceTypeTotal{
			models.SourceTypeOrder:      {Count: 2, Amount: decimal.NewFromInt(200)},
			models.SourceTypeRefund:     {Count: 2, Amount: decimal.NewFromInt(-165)},
			models.SourceTypeFee:        {Count: 1, Amount: decimal.NewFromInt(-4)},
			models.SourceTypeAdjustment: {Count: 2, Amount: decimal.NewFromInt(-200)},
		},
	}
	r := &Reporter{Repo: repo, Logger: zap.NewNop()}

	report, err := r.Reconcile(context.Background(), "m-1", now.AddDate(0, 0, -30), now)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.TotalCount != 7 {
		t.Fatalf("total count = %d, want 7", report.TotalCount)
	}
	if !report.TotalAmount.Equal(decimal.NewFromInt(-169)) {
		t.Fatalf("total amount = %s, want -169", report.TotalAmount)
	}
	if got := report.BySourceType[models.SourceTypeOrder].Count; got != 2 {
		t.Fatalf("order count = %d, want 2", got)
	}

	byType := map[string][]Discrepancy{}
	for _, d := range report.Discrepancies {
		byType[d.Type] = append(byType[d.Type], d)
	}
	if len(report.Discrepancies) != 3 {
		t.Fatalf("discrepancies = %d (%v), want 3", len(report.Discrepancies), byType)
	}
	if got := byType[DiscrepancyMultiMerge]; len(got) != 1 || got[0].EventID != "evt_fee_tri" {
		t.Fatalf("multi-merge = %v", got)
	}
	if got := byType[DiscrepancyOrphanAdjustment]; len(got) != 1 || got[0].EventID != "evt_adj_orphan" {
		t.Fatalf("orphan adjustment = %v", got)
	}
	if got := byType[DiscrepancyRefundExceedsOrder]; len(got) != 1 || got[0].EventID != "evt_refund_a" {
		t.Fatalf("refund exceeds order = %v", got)
	}
	if got := byType[DiscrepancyRefundExceedsOrder][0].OrderID; got != "A" {
		t.Fatalf("refund discrepancy order = %q, want A", got)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubRepo{
		events: testLedger(now),
		totals: map[string]repository.SourceTypeTotal{
			models.SourceTypeOrder: {Count: 2, Amount: decimal.NewFromInt(200)},
		},
	}
	r := &Reporter{Repo: repo}

	first, err := r.Reconcile(context.Background(), "m-1", now.AddDate(0, 0, -30), now)
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	second, err := r.Reconcile(context.Background(), "m-1", now.AddDate(0, 0, -30), now)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if first.TotalCount != second.TotalCount || !first.TotalAmount.Equal(second.TotalAmount) {
		t.Fatal("totals differ between identical runs")
	}
	if len(first.Discrepancies) != len(second.Discrepancies) {
		t.Fatalf("discrepancy counts differ: %d vs %d", len(first.Discrepancies), len(second.Discrepancies))
	}
	for i := range first.Discrepancies {
		if first.Discrepancies[i] != second.Discrepancies[i] {
			t.Fatalf("discrepancy %d differs between runs", i)
		}
	}
}

func TestReconcile_CleanLedger(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubRepo{
		events: []models.LedgerEvent{
			{EventID: "evt_order_a", SourceType: models.SourceTypeOrder, OrderID: strPtr("A"),
				Amount: decimal.NewFromInt(100), MergeCount: 1, EventDate: now.AddDate(0, 0, -2)},
			{EventID: "evt_refund_a", SourceType: models.SourceTypeRefund, OrderID: strPtr("A"),
				Amount: decimal.NewFromInt(-100), MergeCount: 2, EventDate: now.AddDate(0, 0, -1)},
		},
		totals: map[string]repository.SourceTypeTotal{},
	}
	r := &Reporter{Repo: repo}
	report, err := r.Reconcile(context.Background(), "m-1", now.AddDate(0, 0, -30), now)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(report.Discrepancies) != 0 {
		t.Fatalf("discrepancies = %v, want none", report.Discrepancies)
	}
}
