package detector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"clawback/internal/models"
)

func strPtr(s string) *string { return &s }

func feeTxn(sku string, amount float64, chargedAt time.Time) models.FeeTransaction {
	return models.FeeTransaction{
		MerchantID: "m-1",
		SKU:        sku,
		FeeType:    "fulfillment",
		FeeAmount:  decimal.NewFromFloat(amount),
		Quantity:   1,
		ChargedAt:  chargedAt,
	}
}

func TestClassifyTier_LongestSideBoundary(t *testing.T) {
	tier, _ := classifyTier(14.9, 10, 0.5, 8)
	if tier != TierSmallStandard {
		t.Fatalf("tier = %q, want %q", tier, TierSmallStandard)
	}
	tier, _ = classifyTier(15.1, 10, 0.5, 8)
	if tier != TierLargeStandard {
		t.Fatalf("tier = %q, want %q", tier, TierLargeStandard)
	}
}

func TestClassifyTier_BillableWeightPromotes(t *testing.T) {
	// Standard-sized but 21 lbs actual: over the 20 lb large-standard cap.
	tier, billable := classifyTier(20, 10, 1, 21*16)
	if tier != TierSmallOversize {
		t.Fatalf("tier = %q, want %q", tier, TierSmallOversize)
	}
	if billable != 21*16 {
		t.Fatalf("billable = %v, want %v", billable, 21*16)
	}
}

func TestClassifyTier_DimensionalWeightWins(t *testing.T) {
	// 20x10x1 = 200 cubic inches, ~23 oz dimensional vs 18 oz actual.
	_, billable := classifyTier(20, 10, 1, 18)
	if billable <= 18 {
		t.Fatalf("billable = %v, want dimensional weight above actual", billable)
	}
}

func TestFeeMisclassification_OverchargedSKU(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sku := "SKU-1"

	in := Input{
		MerchantID: "m-1",
		SyncID:     "sync-1",
		Now:        now,
		Dimensions: []models.ProductDimensions{{
			MerchantID:   "m-1",
			SKU:          sku,
			LengthInches: decimal.NewFromInt(20),
			WidthInches:  decimal.NewFromInt(10),
			HeightInches: decimal.NewFromInt(1),
			WeightOunces: decimal.NewFromInt(18),
			Verified:     true,
		}},
	}
	// Billed at the small-oversize base across eight days.
	for i := 0; i < 5; i++ {
		in.Fees = append(in.Fees, feeTxn(sku, 9.73, now.AddDate(0, 0, -8+i*2)))
	}
	ledgerSKU := sku
	in.Events = []models.LedgerEvent{
		{EventID: "evt_fee_1", SourceType: models.SourceTypeFee, SKU: &ledgerSKU},
		{EventID: "evt_order_1", SourceType: models.SourceTypeOrder, SKU: &ledgerSKU},
	}

	d := &FeeMisclassificationDetector{}
	findings, err := d.Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	f := findings[0]
	if f.AnomalyType != models.AnomalyFeeMisclassification {
		t.Fatalf("anomaly type = %q", f.AnomalyType)
	}
	// 5 units overcharged 9.73 - 4.75 each.
	if !f.EstimatedValue.Equal(decimal.NewFromFloat(24.90)) {
		t.Fatalf("estimated value = %s, want 24.90", f.EstimatedValue)
	}
	// Verified dims + five transactions + tier mismatch + recurring.
	if f.ConfidenceScore < 0.89 || f.ConfidenceScore > 0.91 {
		t.Fatalf("confidence = %v, want ~0.90", f.ConfidenceScore)
	}
	if f.Severity != models.SeverityCritical {
		t.Fatalf("severity = %q, want critical", f.Severity)
	}

	var ev feeEvidence
	if err := json.Unmarshal(f.Evidence, &ev); err != nil {
		t.Fatalf("unmarshal evidence: %v", err)
	}
	if ev.CorrectTier != TierLargeStandard || ev.ChargedTier != TierSmallOversize {
		t.Fatalf("tiers = %q charged as %q", ev.CorrectTier, ev.ChargedTier)
	}
	// Large standard and small oversize share dimension limits, so this
	// mismatch can only come from billable weight.
	if ev.MismatchType != "weight_tier_overcharge" {
		t.Fatalf("mismatch type = %q", ev.MismatchType)
	}
	if !ev.RecurringPattern {
		t.Fatal("expected recurring pattern over an 8-day span")
	}
	if ev.RecommendedAction != "request_remeasurement" {
		t.Fatalf("recommended action = %q", ev.RecommendedAction)
	}

	var related []string
	if err := json.Unmarshal(f.RelatedEventIDs, &related); err != nil {
		t.Fatalf("unmarshal related ids: %v", err)
	}
	if len(related) != 1 || related[0] != "evt_fee_1" {
		t.Fatalf("related ids = %v, want only the fee event", related)
	}
}

func TestFeeMisclassification_CorrectlyBilledSKU(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	in := Input{
		MerchantID: "m-1",
		SyncID:     "sync-1",
		Now:        now,
		Dimensions: []models.ProductDimensions{{
			MerchantID:   "m-1",
			SKU:          "SKU-OK",
			LengthInches: decimal.NewFromInt(20),
			WidthInches:  decimal.NewFromInt(10),
			HeightInches: decimal.NewFromInt(1),
			WeightOunces: decimal.NewFromInt(18),
			Verified:     true,
		}},
		Fees: []models.FeeTransaction{
			feeTxn("SKU-OK", 4.75, now.AddDate(0, 0, -3)),
			feeTxn("SKU-OK", 4.75, now.AddDate(0, 0, -1)),
		},
	}
	d := &FeeMisclassificationDetector{}
	findings, err := d.Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("findings = %d, want none for a correctly billed SKU", len(findings))
	}
}

func TestFeeMisclassification_BelowOverchargeFloor(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	in := Input{
		MerchantID: "m-1",
		SyncID:     "sync-1",
		Now:        now,
		Dimensions: []models.ProductDimensions{{
			MerchantID:   "m-1",
			SKU:          "SKU-LOW",
			LengthInches: decimal.NewFromInt(20),
			WidthInches:  decimal.NewFromInt(10),
			HeightInches: decimal.NewFromInt(1),
			WeightOunces: decimal.NewFromInt(18),
			Verified:     true,
		}},
		// Single overcharged unit: 4.98 total, under the $5 floor.
		Fees: []models.FeeTransaction{feeTxn("SKU-LOW", 9.73, now.AddDate(0, 0, -2))},
	}
	d := &FeeMisclassificationDetector{}
	findings, err := d.Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("findings = %d, want none below the overcharge floor", len(findings))
	}
}

func TestFeeMisclassification_StatedTierOverridesFeeBand(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	in := Input{
		MerchantID: "m-1",
		SyncID:     "sync-1",
		Now:        now,
		Dimensions: []models.ProductDimensions{{
			MerchantID:   "m-1",
			SKU:          "SKU-ST",
			LengthInches: decimal.NewFromInt(20),
			WidthInches:  decimal.NewFromInt(10),
			HeightInches: decimal.NewFromInt(1),
			WeightOunces: decimal.NewFromInt(18),
			Verified:     true,
		}},
	}
	for i := 0; i < 5; i++ {
		tx := feeTxn("SKU-ST", 9.73, now.AddDate(0, 0, -8+i*2))
		tx.StatedTier = strPtr("Small Oversize")
		in.Fees = append(in.Fees, tx)
	}
	d := &FeeMisclassificationDetector{}
	findings, err := d.Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	var ev feeEvidence
	if err := json.Unmarshal(findings[0].Evidence, &ev); err != nil {
		t.Fatalf("unmarshal evidence: %v", err)
	}
	if ev.StatedTier != TierSmallOversize {
		t.Fatalf("stated tier = %q, want normalized %q", ev.StatedTier, TierSmallOversize)
	}
	// Stated tier adds its weight on top of the unstated-case 0.90.
	if findings[0].ConfidenceScore != 1 {
		t.Fatalf("confidence = %v, want capped at 1", findings[0].ConfidenceScore)
	}
}

func TestFeeMisclassification_SizeTierMismatch(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	in := Input{
		MerchantID: "m-1",
		SyncID:     "sync-1",
		Now:        now,
		// Fits small standard on every axis, billed at the large-standard base.
		Dimensions: []models.ProductDimensions{{
			MerchantID:   "m-1",
			SKU:          "SKU-SZ",
			LengthInches: decimal.NewFromInt(14),
			WidthInches:  decimal.NewFromInt(10),
			HeightInches: decimal.NewFromFloat(0.5),
			WeightOunces: decimal.NewFromInt(8),
			Verified:     true,
		}},
	}
	for i := 0; i < 5; i++ {
		in.Fees = append(in.Fees, feeTxn("SKU-SZ", 4.75, now.AddDate(0, 0, -8+i*2)))
	}
	d := &FeeMisclassificationDetector{}
	findings, err := d.Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	var ev feeEvidence
	if err := json.Unmarshal(findings[0].Evidence, &ev); err != nil {
		t.Fatalf("unmarshal evidence: %v", err)
	}
	if ev.CorrectTier != TierSmallStandard || ev.ChargedTier != TierLargeStandard {
		t.Fatalf("tiers = %q charged as %q", ev.CorrectTier, ev.ChargedTier)
	}
	if ev.MismatchType != "size_tier_overcharge" {
		t.Fatalf("mismatch type = %q, want size_tier_overcharge", ev.MismatchType)
	}
	if ev.RecommendedAction != "dispute_classification" {
		t.Fatalf("recommended action = %q", ev.RecommendedAction)
	}
}

func TestFeeMisclassification_WeightTierRefundAction(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	in := Input{
		MerchantID: "m-1",
		SyncID:     "sync-1",
		Now:        now,
		Dimensions: []models.ProductDimensions{{
			MerchantID:   "m-1",
			SKU:          "SKU-WT",
			LengthInches: decimal.NewFromInt(20),
			WidthInches:  decimal.NewFromInt(10),
			HeightInches: decimal.NewFromInt(1),
			WeightOunces: decimal.NewFromInt(18),
			Verified:     true,
		}},
	}
	// Spread over 100 days the projected annual loss stays under the high
	// band, so a confident weight dispute routes to a refund filing.
	for i := 0; i < 5; i++ {
		in.Fees = append(in.Fees, feeTxn("SKU-WT", 9.73, now.AddDate(0, 0, -100+i*25)))
	}
	d := &FeeMisclassificationDetector{}
	findings, err := d.Detect(context.Background(), in)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	if findings[0].Severity != models.SeverityMedium {
		t.Fatalf("severity = %q, want medium", findings[0].Severity)
	}
	var ev feeEvidence
	if err := json.Unmarshal(findings[0].Evidence, &ev); err != nil {
		t.Fatalf("unmarshal evidence: %v", err)
	}
	if ev.MismatchType != "weight_tier_overcharge" {
		t.Fatalf("mismatch type = %q, want weight_tier_overcharge", ev.MismatchType)
	}
	if ev.RecommendedAction != "file_refund" {
		t.Fatalf("recommended action = %q", ev.RecommendedAction)
	}
}

func TestExpectedFeeAt_WeightSurcharge(t *testing.T) {
	// 64 oz on large standard: 1 lb over the included 48 oz.
	got := expectedFeeAt(TierLargeStandard, 64)
	want := decimal.NewFromFloat(5.05)
	if !got.Equal(want) {
		t.Fatalf("expected fee = %s, want %s", got, want)
	}
}
