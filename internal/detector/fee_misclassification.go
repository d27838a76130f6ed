package detector

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clawback/internal/finding"
	"clawback/internal/models"
)

// Size tiers ordered from cheapest to most expensive.
const (
	TierSmallStandard   = "small_standard"
	TierLargeStandard   = "large_standard"
	TierSmallOversize   = "small_oversize"
	TierMediumOversize  = "medium_oversize"
	TierLargeOversize   = "large_oversize"
	TierSpecialOversize = "special_oversize"
)

// dimFactor converts cubic inches to dimensional weight pounds; billable
// weight is max(actual, cubic-inches / dimFactor) expressed in ounces.
const dimFactor = 139.0

// Confidence weights, empirically chosen and deliberately tunable.
const (
	feeConfVerifiedDims   = 0.30
	feeConfEnoughTxns     = 0.25
	feeConfClearMismatch  = 0.25
	feeConfRecurring      = 0.10
	feeConfStatedTier     = 0.10
	feeConfidenceFloor    = 0.60
	feeMinTxnsForEvidence = 5
)

// feeOverchargeFloor is the minimum total overcharge worth filing.
var feeOverchargeFloor = decimal.NewFromInt(5)

// tierBaseFee is the fulfillment base fee at each tier.
var tierBaseFee = map[string]decimal.Decimal{
	TierSmallStandard:   decimal.NewFromFloat(3.22),
	TierLargeStandard:   decimal.NewFromFloat(4.75),
	TierSmallOversize:   decimal.NewFromFloat(9.73),
	TierMediumOversize:  decimal.NewFromFloat(19.05),
	TierLargeOversize:   decimal.NewFromFloat(89.98),
	TierSpecialOversize: decimal.NewFromFloat(158.49),
}

// tierIncludedWeightOz is the billable weight included in the base fee;
// tierPerPoundSurcharge applies above it.
var tierIncludedWeightOz = map[string]float64{
	TierSmallStandard:   16,
	TierLargeStandard:   48,
	TierSmallOversize:   16,
	TierMediumOversize:  16,
	TierLargeOversize:   1440,
	TierSpecialOversize: 1440,
}

var tierPerPoundSurcharge = map[string]decimal.Decimal{
	TierSmallStandard:   decimal.Zero,
	TierLargeStandard:   decimal.NewFromFloat(0.30),
	TierSmallOversize:   decimal.NewFromFloat(0.38),
	TierMediumOversize:  decimal.NewFromFloat(0.38),
	TierLargeOversize:   decimal.NewFromFloat(0.79),
	TierSpecialOversize: decimal.NewFromFloat(0.91),
}

var tierRank = map[string]int{
	TierSmallStandard:   0,
	TierLargeStandard:   1,
	TierSmallOversize:   2,
	TierMediumOversize:  3,
	TierLargeOversize:   4,
	TierSpecialOversize: 5,
}

// tierDimsBand groups tiers whose physical dimension limits are identical.
// Large standard and small oversize share a dims band and split only on
// billable weight, so a mismatch inside one band is a weight dispute.
var tierDimsBand = map[string]int{
	TierSmallStandard:   0,
	TierLargeStandard:   1,
	TierSmallOversize:   1,
	TierMediumOversize:  2,
	TierLargeOversize:   3,
	TierSpecialOversize: 4,
}

// feeBandCeilings infer the charged tier from the average fee when the feed
// carries no stated tier.
var feeBandCeilings = []struct {
	Ceiling decimal.Decimal
	Tier    string
}{
	{decimal.NewFromFloat(4.00), TierSmallStandard},
	{decimal.NewFromFloat(7.50), TierLargeStandard},
	{decimal.NewFromFloat(14.00), TierSmallOversize},
	{decimal.NewFromFloat(40.00), TierMediumOversize},
	{decimal.NewFromFloat(120.00), TierLargeOversize},
}

// FeeMisclassificationDetector compares the size tier a SKU's physical
// dimensions warrant against the tier the marketplace actually billed.
type FeeMisclassificationDetector struct {
	Logger *zap.Logger
}

func (d *FeeMisclassificationDetector) Name() string { return "fee_misclassification" }

type feeEvidence struct {
	SKU                 string `json:"sku"`
	CorrectTier         string `json:"correct_tier"`
	ChargedTier         string `json:"charged_tier"`
	MismatchType        string `json:"mismatch_type"`
	BillableWeightOz    float64 `json:"billable_weight_oz"`
	ExpectedFee         string `json:"expected_fee"`
	ChargedFeePerUnit   string `json:"charged_fee_per_unit"`
	OverchargePerUnit   string `json:"overcharge_per_unit"`
	TotalOvercharge     string `json:"total_overcharge"`
	ProjectedAnnual     string `json:"projected_annual_savings"`
	TransactionCount    int    `json:"transaction_count"`
	RecurringPattern    bool   `json:"recurring_pattern"`
	StatedTier          string `json:"stated_tier,omitempty"`
	DimensionsVerified  bool   `json:"dimensions_verified"`
	RecommendedAction   string `json:"recommended_action"`
	ConfidenceBreakdown map[string]float64 `json:"confidence_breakdown"`
}

func (d *FeeMisclassificationDetector) Detect(ctx context.Context, in Input) ([]models.DetectionFinding, error) {
	if len(in.Dimensions) == 0 || len(in.Fees) == 0 {
		return nil, nil
	}

	feesBySKU := map[string][]models.FeeTransaction{}
	for _, fee := range in.Fees {
		feesBySKU[fee.SKU] = append(feesBySKU[fee.SKU], fee)
	}

	var out []models.DetectionFinding
	for _, dims := range in.Dimensions {
		txns := feesBySKU[dims.SKU]
		if len(txns) == 0 {
			continue
		}

		correctTier, billableOz := classifyTier(
			dims.LengthInches.InexactFloat64(),
			dims.WidthInches.InexactFloat64(),
			dims.HeightInches.InexactFloat64(),
			dims.WeightOunces.InexactFloat64(),
		)

		totalFee := decimal.Zero
		totalUnits := 0
		statedTier := ""
		firstAt, lastAt := txns[0].ChargedAt, txns[0].ChargedAt
		for _, tx := range txns {
			qty := tx.Quantity
			if qty <= 0 {
				qty = 1
			}
			totalFee = totalFee.Add(tx.FeeAmount.Abs())
			totalUnits += qty
			if tx.StatedTier != nil && statedTier == "" {
				statedTier = normalizeTier(*tx.StatedTier)
			}
			if tx.ChargedAt.Before(firstAt) {
				firstAt = tx.ChargedAt
			}
			if tx.ChargedAt.After(lastAt) {
				lastAt = tx.ChargedAt
			}
		}
		if totalUnits == 0 {
			continue
		}
		chargedPerUnit := totalFee.Div(decimal.NewFromInt(int64(totalUnits))).Round(2)

		chargedTier := statedTier
		if chargedTier == "" {
			chargedTier = tierFromFeeBand(chargedPerUnit)
		}
		if chargedTier == correctTier {
			continue
		}

		mismatchType := "size_tier_overcharge"
		if tierDimsBand[chargedTier] == tierDimsBand[correctTier] {
			mismatchType = "weight_tier_overcharge"
		}

		expectedFee := expectedFeeAt(correctTier, billableOz)
		overchargePerUnit := chargedPerUnit.Sub(expectedFee)
		if overchargePerUnit.LessThanOrEqual(decimal.Zero) {
			continue
		}
		totalOvercharge := overchargePerUnit.Mul(decimal.NewFromInt(int64(totalUnits)))
		if totalOvercharge.LessThan(feeOverchargeFloor) {
			continue
		}

		recurring := lastAt.Sub(firstAt).Hours() >= 7*24
		breakdown := map[string]float64{}
		confidence := 0.0
		if dims.Verified {
			confidence += feeConfVerifiedDims
			breakdown["dimensions_verified"] = feeConfVerifiedDims
		}
		if len(txns) >= feeMinTxnsForEvidence {
			confidence += feeConfEnoughTxns
			breakdown["transaction_volume"] = feeConfEnoughTxns
		}
		// The tier gap itself: a one-rank jump is already clear.
		confidence += feeConfClearMismatch
		breakdown["tier_mismatch"] = feeConfClearMismatch
		if recurring {
			confidence += feeConfRecurring
			breakdown["recurring_pattern"] = feeConfRecurring
		}
		if statedTier != "" {
			confidence += feeConfStatedTier
			breakdown["stated_tier"] = feeConfStatedTier
		}
		confidence = finding.Cap(confidence)
		if confidence < feeConfidenceFloor {
			continue
		}

		projectedAnnual := projectAnnual(totalOvercharge, lastAt.Sub(firstAt).Hours()/24)
		severity := feeSeverity(projectedAnnual, totalOvercharge, recurring)
		action := feeAction(confidence, severity, mismatchType)

		ev := feeEvidence{
			SKU:                 dims.SKU,
			CorrectTier:         correctTier,
			ChargedTier:         chargedTier,
			MismatchType:        mismatchType,
			BillableWeightOz:    billableOz,
			ExpectedFee:         expectedFee.StringFixed(2),
			ChargedFeePerUnit:   chargedPerUnit.StringFixed(2),
			OverchargePerUnit:   overchargePerUnit.StringFixed(2),
			TotalOvercharge:     totalOvercharge.StringFixed(2),
			ProjectedAnnual:     projectedAnnual.StringFixed(2),
			TransactionCount:    len(txns),
			RecurringPattern:    recurring,
			StatedTier:          statedTier,
			DimensionsVerified:  dims.Verified,
			RecommendedAction:   action,
			ConfidenceBreakdown: breakdown,
		}
		out = append(out, finding.New(in.MerchantID, in.SyncID, models.AnomalyFeeMisclassification,
			severity, totalOvercharge, confidence, ev, relatedFeeEventIDs(in.Events, dims.SKU), in.Now))

		if d.Logger != nil {
			d.Logger.Debug("fee tier mismatch",
				zap.String("sku", dims.SKU),
				zap.String("correct", correctTier),
				zap.String("charged", chargedTier),
				zap.String("overcharge", totalOvercharge.StringFixed(2)))
		}
	}
	return out, nil
}

// classifyTier derives the correct size tier from sorted dimensions, girth,
// and billable weight.
func classifyTier(length, width, height, actualOz float64) (string, float64) {
	dims := []float64{length, width, height}
	sort.Sort(sort.Reverse(sort.Float64Slice(dims)))
	longest, median, shortest := dims[0], dims[1], dims[2]

	girth := longest + 2*(median+shortest)
	cubicInches := length * width * height
	dimWeightOz := cubicInches / dimFactor * 16
	billableOz := actualOz
	if dimWeightOz > billableOz {
		billableOz = dimWeightOz
	}

	switch {
	case longest <= 15 && median <= 12 && shortest <= 0.75 && actualOz <= 16:
		return TierSmallStandard, billableOz
	case longest <= 60 && median <= 30 && girth <= 130 && billableOz <= 20*16:
		return TierLargeStandard, billableOz
	case longest <= 60 && median <= 30 && girth <= 130 && billableOz <= 70*16:
		return TierSmallOversize, billableOz
	case longest <= 108 && girth <= 130 && billableOz <= 150*16:
		return TierMediumOversize, billableOz
	case longest <= 108 && girth <= 165 && billableOz <= 150*16:
		return TierLargeOversize, billableOz
	default:
		return TierSpecialOversize, billableOz
	}
}

func expectedFeeAt(tier string, billableOz float64) decimal.Decimal {
	base := tierBaseFee[tier]
	included := tierIncludedWeightOz[tier]
	if billableOz <= included {
		return base
	}
	extraLbs := (billableOz - included) / 16
	surcharge := tierPerPoundSurcharge[tier].Mul(decimal.NewFromFloat(extraLbs))
	return base.Add(surcharge).Round(2)
}

func tierFromFeeBand(avgFee decimal.Decimal) string {
	for _, band := range feeBandCeilings {
		if avgFee.LessThanOrEqual(band.Ceiling) {
			return band.Tier
		}
	}
	return TierSpecialOversize
}

func normalizeTier(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.ReplaceAll(v, " ", "_")
	v = strings.ReplaceAll(v, "-", "_")
	if _, ok := tierRank[v]; ok {
		return v
	}
	return ""
}

func projectAnnual(totalOvercharge decimal.Decimal, spanDays float64) decimal.Decimal {
	if spanDays < 1 {
		return totalOvercharge
	}
	return totalOvercharge.Div(decimal.NewFromFloat(spanDays)).Mul(decimal.NewFromInt(365)).Round(2)
}

func feeSeverity(projectedAnnual, totalOvercharge decimal.Decimal, recurring bool) string {
	switch {
	case projectedAnnual.GreaterThanOrEqual(decimal.NewFromInt(1000)),
		totalOvercharge.GreaterThanOrEqual(decimal.NewFromInt(100)) && recurring:
		return models.SeverityCritical
	case projectedAnnual.GreaterThanOrEqual(decimal.NewFromInt(500)),
		totalOvercharge.GreaterThanOrEqual(decimal.NewFromInt(50)):
		return models.SeverityHigh
	case projectedAnnual.GreaterThanOrEqual(decimal.NewFromInt(100)),
		totalOvercharge.GreaterThanOrEqual(decimal.NewFromInt(20)):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func feeAction(confidence float64, severity, mismatchType string) string {
	if confidence >= 0.85 && (severity == models.SeverityCritical || severity == models.SeverityHigh) {
		return "request_remeasurement"
	}
	if confidence >= 0.70 {
		if mismatchType == "size_tier_overcharge" {
			return "dispute_classification"
		}
		return "file_refund"
	}
	return "monitor"
}

func relatedFeeEventIDs(events []models.LedgerEvent, sku string) []string {
	var ids []string
	for _, ev := range events {
		if ev.SourceType != models.SourceTypeFee {
			continue
		}
		if ev.SKU != nil && *ev.SKU == sku {
			ids = append(ids, ev.EventID)
		}
	}
	return ids
}
