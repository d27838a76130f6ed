package detector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"clawback/internal/models"
)

// stablePriceSeries builds eight tightly clustered observations in the 30 days
// before at, ending exactly at `last` on the day before.
func stablePriceSeries(sku string, at time.Time, last float64) []models.PriceHistory {
	points := []float64{24.90, 25.10, 24.95, 25.05, 25.00, 24.90, 25.10, last}
	var out []models.PriceHistory
	for i, p := range points {
		out = append(out, models.PriceHistory{
			MerchantID: "m-1",
			SKU:        sku,
			Price:      decimal.NewFromFloat(p),
			ObservedAt: at.AddDate(0, 0, -(len(points) - i)*3),
		})
	}
	return out
}

func refund(sku string, amount float64, qty int, at time.Time) models.RefundEvent {
	return models.RefundEvent{
		MerchantID:   "m-1",
		SKU:          sku,
		RefundAmount: decimal.NewFromFloat(amount),
		Quantity:     qty,
		RefundedAt:   at,
	}
}

func TestRefundShortfall_MedianIgnored(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sku := "SKU-R"

	in := Input{
		MerchantID: "m-1",
		SyncID:     "sync-1",
		Now:        now,
		Prices:     stablePriceSeries(sku, now, 25.00),
		// Two units refunded at 21.00 against a 25.00 listing.
		Refunds: []models.RefundEvent{refund(sku, 42.00, 2, now)},
	}

	d := &RefundShortfallDetector{}
	findings, err := d.Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	f := findings[0]
	if f.AnomalyType != models.AnomalyRefundShortfall {
		t.Fatalf("anomaly type = %q", f.AnomalyType)
	}
	if !f.EstimatedValue.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("estimated value = %s, want 8.00", f.EstimatedValue)
	}

	var ev refundEvidence
	if err := json.Unmarshal(f.Evidence, &ev); err != nil {
		t.Fatalf("unmarshal evidence: %v", err)
	}
	if ev.FairPriceBasis != BasisCurrentListing {
		t.Fatalf("basis = %q, want %q", ev.FairPriceBasis, BasisCurrentListing)
	}
	if ev.Pattern != PatternMedianIgnored {
		t.Fatalf("pattern = %q, want %q", ev.Pattern, PatternMedianIgnored)
	}
	if !ev.PriceStable {
		t.Fatal("expected stable pricing")
	}
	if ev.Systematic {
		t.Fatal("single shortfall must not be marked systematic")
	}
	// Stable pricing + clear basis + pattern.
	if f.ConfidenceScore < 0.69 || f.ConfidenceScore > 0.71 {
		t.Fatalf("confidence = %v, want ~0.70", f.ConfidenceScore)
	}
}

func TestRefundShortfall_WithinVarianceIgnored(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sku := "SKU-V"
	in := Input{
		MerchantID: "m-1",
		SyncID:     "sync-1",
		Now:        now,
		Prices:     stablePriceSeries(sku, now, 25.00),
		// 23.00 against 25.00: 8% shortfall, inside tolerance.
		Refunds: []models.RefundEvent{refund(sku, 23.00, 1, now)},
	}
	d := &RefundShortfallDetector{}
	findings, err := d.Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("findings = %d, want none inside the variance band", len(findings))
	}
}

func TestRefundShortfall_OverRefundIgnored(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sku := "SKU-O"
	in := Input{
		MerchantID: "m-1",
		SyncID:     "sync-1",
		Now:        now,
		Prices:     stablePriceSeries(sku, now, 25.00),
		Refunds:    []models.RefundEvent{refund(sku, 30.00, 1, now)},
	}
	d := &RefundShortfallDetector{}
	findings, err := d.Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("findings = %d, want none when refund exceeds fair price", len(findings))
	}
}

func TestRefundShortfall_SystematicSameSKU(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sku := "SKU-S"
	in := Input{
		MerchantID: "m-1",
		SyncID:     "sync-1",
		Now:        now,
		Prices:     stablePriceSeries(sku, now, 25.00),
		Refunds: []models.RefundEvent{
			refund(sku, 42.00, 2, now),
			refund(sku, 42.00, 2, now.AddDate(0, 0, -1)),
			refund(sku, 42.00, 2, now.AddDate(0, 0, -2)),
		},
		Events: []models.LedgerEvent{
			{EventID: "evt_ref_1", SourceType: models.SourceTypeRefund, SKU: &sku},
			{EventID: "evt_ref_2", SourceType: models.SourceTypeReturn, SKU: &sku},
		},
	}
	d := &RefundShortfallDetector{}
	findings, err := d.Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 3 {
		t.Fatalf("findings = %d, want 3", len(findings))
	}
	for i, f := range findings {
		var ev refundEvidence
		if err := json.Unmarshal(f.Evidence, &ev); err != nil {
			t.Fatalf("unmarshal evidence %d: %v", i, err)
		}
		if !ev.Systematic {
			t.Fatalf("finding %d: three same-SKU shortfalls must be systematic", i)
		}
		var related []string
		if err := json.Unmarshal(f.RelatedEventIDs, &related); err != nil {
			t.Fatalf("unmarshal related ids %d: %v", i, err)
		}
		if len(related) != 2 || related[0] != "evt_ref_1" || related[1] != "evt_ref_2" {
			t.Fatalf("finding %d: related ids = %v, must survive the systematic rewrite", i, related)
		}
	}
}

func TestRefundShortfall_NoPriceHistorySkipped(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	in := Input{
		MerchantID: "m-1",
		SyncID:     "sync-1",
		Now:        now,
		Prices:     stablePriceSeries("SKU-A", now, 25.00),
		Refunds:    []models.RefundEvent{refund("SKU-B", 10.00, 1, now)},
	}
	d := &RefundShortfallDetector{}
	findings, err := d.Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("findings = %d, want none without price history", len(findings))
	}
}

func TestFairPrice_FallsBackToBuybox(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	buybox := decimal.NewFromFloat(19.99)
	series := []models.PriceHistory{{
		SKU:         "SKU-BB",
		Price:       decimal.Zero,
		BuyboxPrice: &buybox,
		ObservedAt:  now.AddDate(0, 0, -200),
	}}
	price, basis, _, _ := fairPrice(series, now)
	if basis != BasisBuybox {
		t.Fatalf("basis = %q, want %q", basis, BasisBuybox)
	}
	if !price.Equal(buybox) {
		t.Fatalf("price = %s, want %s", price, buybox)
	}
}

func TestIsStable(t *testing.T) {
	stable := []decimal.Decimal{
		decimal.NewFromFloat(25.00), decimal.NewFromFloat(24.90),
		decimal.NewFromFloat(25.10), decimal.NewFromFloat(25.05),
	}
	if !isStable(stable) {
		t.Fatal("tight cluster should be stable")
	}
	volatile := []decimal.Decimal{
		decimal.NewFromFloat(10.00), decimal.NewFromFloat(40.00),
		decimal.NewFromFloat(15.00), decimal.NewFromFloat(35.00),
	}
	if isStable(volatile) {
		t.Fatal("wide swings should not be stable")
	}
	if isStable(stable[:1]) {
		t.Fatal("a single observation is never stable")
	}
}
