package detector

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"clawback/internal/finding"
	"clawback/internal/models"
)

// Fair-price basis, in descending selection priority.
const (
	BasisCurrentListing = "current_listing"
	BasisMedian30       = "median_30d"
	BasisMedian90       = "median_90d"
	BasisMedian180      = "median_180d"
	BasisBuybox         = "buybox"
	BasisListPrice      = "list_price"
)

const (
	PatternRaceToBottom   = "race_to_bottom"
	PatternStaleSnapshot  = "stale_snapshot"
	PatternMedianIgnored  = "median_ignored"
	PatternTimingAnomaly  = "timing_anomaly"
	PatternNormalVariance = "normal_variance"
)

// Confidence weights (empirical, tunable).
const (
	refundConfStablePricing = 0.30
	refundConfClearBasis    = 0.25
	refundConfDeepHistory   = 0.20
	refundConfPattern       = 0.15
	refundConfRecentSale    = 0.10
	refundConfStableDeep    = 0.10
	refundConfidenceFloor   = 0.55
)

// stabilityCeiling gates the variance/median ratio for a price series to
// count as stable.
const stabilityCeiling = 0.15

// acceptableVarianceRatio: shortfalls within 10% of the fair price are noise.
const acceptableVarianceRatio = 0.10

var refundShortfallFloor = decimal.NewFromInt(5)

// RefundShortfallDetector compares each refund against a stability-gated
// fair-price hierarchy and reports shortfalls the merchant can reclaim.
type RefundShortfallDetector struct {
	Logger *zap.Logger
}

func (d *RefundShortfallDetector) Name() string { return "refund_price_shortfall" }

type refundEvidence struct {
	SKU             string  `json:"sku"`
	OrderID         string  `json:"order_id,omitempty"`
	FairPrice       string  `json:"fair_price"`
	FairPriceBasis  string  `json:"fair_price_basis"`
	RefundPerUnit   string  `json:"refund_per_unit"`
	ShortfallPerUnit string `json:"shortfall_per_unit"`
	TotalShortfall  string  `json:"total_shortfall"`
	ShortfallRatio  float64 `json:"shortfall_ratio"`
	Pattern         string  `json:"pattern"`
	PriceStable     bool    `json:"price_stable"`
	Samples90Day    int     `json:"samples_90d"`
	Systematic      bool    `json:"systematic"`
	ConfidenceBreakdown map[string]float64 `json:"confidence_breakdown"`
}

func (d *RefundShortfallDetector) Detect(ctx context.Context, in Input) ([]models.DetectionFinding, error) {
	if len(in.Refunds) == 0 || len(in.Prices) == 0 {
		return nil, nil
	}

	pricesBySKU := map[string][]models.PriceHistory{}
	for _, p := range in.Prices {
		pricesBySKU[p.SKU] = append(pricesBySKU[p.SKU], p)
	}
	for sku := range pricesBySKU {
		series := pricesBySKU[sku]
		sort.Slice(series, func(i, j int) bool { return series[i].ObservedAt.Before(series[j].ObservedAt) })
		pricesBySKU[sku] = series
	}

	type scored struct {
		finding  models.DetectionFinding
		evidence refundEvidence
		sku      string
	}
	var candidates []scored

	for _, refund := range in.Refunds {
		series := pricesBySKU[refund.SKU]
		if len(series) == 0 {
			continue
		}

		qty := refund.Quantity
		if qty <= 0 {
			qty = 1
		}
		refundPerUnit := refund.RefundAmount.Abs().Div(decimal.NewFromInt(int64(qty))).Round(2)

		returnedAt := refund.RefundedAt
		if refund.ReturnedAt != nil {
			returnedAt = *refund.ReturnedAt
		}

		fair, basis, stable, samples90 := fairPrice(series, returnedAt)
		if fair.LessThanOrEqual(decimal.Zero) {
			continue
		}

		shortfallPerUnit := fair.Sub(refundPerUnit)
		if shortfallPerUnit.LessThanOrEqual(decimal.Zero) {
			continue
		}
		ratio, _ := shortfallPerUnit.Div(fair).Float64()
		if ratio <= acceptableVarianceRatio {
			continue
		}
		totalShortfall := shortfallPerUnit.Mul(decimal.NewFromInt(int64(qty))).Round(2)
		if totalShortfall.LessThan(refundShortfallFloor) {
			continue
		}

		pattern := classifyRefundPattern(series, returnedAt, refundPerUnit, fair, basis, stable, ratio)
		if pattern == PatternNormalVariance {
			continue
		}

		breakdown := map[string]float64{}
		confidence := 0.0
		if stable {
			confidence += refundConfStablePricing
			breakdown["stable_pricing"] = refundConfStablePricing
		}
		if basis == BasisCurrentListing || basis == BasisMedian30 || basis == BasisMedian90 {
			confidence += refundConfClearBasis
			breakdown["clear_basis"] = refundConfClearBasis
		}
		if samples90 >= 10 {
			confidence += refundConfDeepHistory
			breakdown["deep_history"] = refundConfDeepHistory
		}
		confidence += refundConfPattern
		breakdown["pattern"] = refundConfPattern
		if saleWithin(series, returnedAt, 30) {
			confidence += refundConfRecentSale
			breakdown["recent_sale"] = refundConfRecentSale
		}
		if stable && ratio > 0.20 {
			confidence += refundConfStableDeep
			breakdown["stable_deep_shortfall"] = refundConfStableDeep
		}
		confidence = finding.Cap(confidence)
		if confidence < refundConfidenceFloor {
			continue
		}

		ev := refundEvidence{
			SKU:              refund.SKU,
			OrderID:          derefStr(refund.OrderID),
			FairPrice:        fair.StringFixed(2),
			FairPriceBasis:   basis,
			RefundPerUnit:    refundPerUnit.StringFixed(2),
			ShortfallPerUnit: shortfallPerUnit.StringFixed(2),
			TotalShortfall:   totalShortfall.StringFixed(2),
			ShortfallRatio:   ratio,
			Pattern:          pattern,
			PriceStable:      stable,
			Samples90Day:     samples90,
			ConfidenceBreakdown: breakdown,
		}
		item := finding.New(in.MerchantID, in.SyncID, models.AnomalyRefundShortfall,
			monetarySeverity(totalShortfall), totalShortfall, confidence, ev,
			relatedRefundEventIDs(in.Events, refund.SKU), in.Now)
		candidates = append(candidates, scored{finding: item, evidence: ev, sku: refund.SKU})
	}

	// Second pass: mark systematic shortfall behavior. All shortfalls here
	// are same-direction by construction (refund below fair price).
	perSKU := map[string]int{}
	for _, c := range candidates {
		perSKU[c.sku]++
	}
	runWide := len(candidates) >= 10
	var out []models.DetectionFinding
	for _, c := range candidates {
		if perSKU[c.sku] >= 3 || runWide {
			c.evidence.Systematic = true
			if raw, err := json.Marshal(c.evidence); err == nil {
				c.finding.Evidence = datatypes.JSON(raw)
			}
		}
		out = append(out, c.finding)
	}
	if d.Logger != nil && len(out) > 0 {
		d.Logger.Debug("refund shortfalls detected", zap.Int("count", len(out)))
	}
	return out, nil
}

// fairPrice selects the reference price a refund should have been computed
// against, by descending priority with stability and sample-count gates.
func fairPrice(series []models.PriceHistory, at time.Time) (price decimal.Decimal, basis string, stable bool, samples90 int) {
	w30 := windowPrices(series, at, 30)
	w90 := windowPrices(series, at, 90)
	w180 := windowPrices(series, at, 180)
	samples90 = len(w90)
	stable = isStable(w30)

	if latest := latestWithin(series, at, 14); latest != nil && stable {
		return latest.Price, BasisCurrentListing, stable, samples90
	}
	if len(w30) >= 5 && stable {
		return median(w30), BasisMedian30, stable, samples90
	}
	if len(w90) >= 10 {
		return median(w90), BasisMedian90, stable, samples90
	}
	if len(w180) > 0 {
		return median(w180), BasisMedian180, stable, samples90
	}
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].BuyboxPrice != nil && series[i].BuyboxPrice.GreaterThan(decimal.Zero) {
			return *series[i].BuyboxPrice, BasisBuybox, stable, samples90
		}
	}
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].ListPrice != nil && series[i].ListPrice.GreaterThan(decimal.Zero) {
			return *series[i].ListPrice, BasisListPrice, stable, samples90
		}
	}
	return decimal.Zero, "", stable, samples90
}

func classifyRefundPattern(series []models.PriceHistory, at time.Time, refundPerUnit, fair decimal.Decimal, basis string, stable bool, ratio float64) string {
	w30 := windowPrices(series, at, 30)

	if len(w30) > 0 {
		min30 := w30[0]
		for _, p := range w30[1:] {
			if p.LessThan(min30) {
				min30 = p
			}
		}
		// Refunded at (or essentially at) the 30-day floor.
		if refundPerUnit.Sub(min30).Abs().LessThanOrEqual(decimal.NewFromFloat(0.50)) {
			return PatternRaceToBottom
		}
	}

	if ratio > 0.20 {
		current := latestWithin(series, at, 14)
		matchesCurrent := current != nil && refundPerUnit.Sub(current.Price).Abs().LessThanOrEqual(decimal.NewFromFloat(0.50))
		matchesMedian := len(w30) > 0 && refundPerUnit.Sub(median(w30)).Abs().LessThanOrEqual(decimal.NewFromFloat(0.50))
		if !matchesCurrent && !matchesMedian {
			return PatternStaleSnapshot
		}
	}

	if stable && len(w30) >= 5 {
		if median(w30).Sub(refundPerUnit).Abs().GreaterThan(decimal.NewFromInt(2)) {
			return PatternMedianIgnored
		}
	}

	if ratio > 0.30 {
		return PatternTimingAnomaly
	}
	return PatternNormalVariance
}

// isStable gates on price variance relative to the median.
func isStable(prices []decimal.Decimal) bool {
	if len(prices) < 2 {
		return false
	}
	med := median(prices)
	if med.LessThanOrEqual(decimal.Zero) {
		return false
	}
	mean := decimal.Zero
	for _, p := range prices {
		mean = mean.Add(p)
	}
	mean = mean.Div(decimal.NewFromInt(int64(len(prices))))
	variance := decimal.Zero
	for _, p := range prices {
		diff := p.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(len(prices))))
	ratio, _ := variance.Div(med).Float64()
	return ratio <= stabilityCeiling
}

func windowPrices(series []models.PriceHistory, at time.Time, days int) []decimal.Decimal {
	cutoff := at.AddDate(0, 0, -days)
	var out []decimal.Decimal
	for _, p := range series {
		if p.ObservedAt.Before(cutoff) || p.ObservedAt.After(at) {
			continue
		}
		out = append(out, p.Price)
	}
	return out
}

func latestWithin(series []models.PriceHistory, at time.Time, days int) *models.PriceHistory {
	cutoff := at.AddDate(0, 0, -days)
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].ObservedAt.After(at) {
			continue
		}
		if series[i].ObservedAt.Before(cutoff) {
			return nil
		}
		return &series[i]
	}
	return nil
}

func saleWithin(series []models.PriceHistory, at time.Time, days int) bool {
	cutoff := at.AddDate(0, 0, -days)
	for _, p := range series {
		if p.SaleObserved && !p.ObservedAt.Before(cutoff) && !p.ObservedAt.After(at) {
			return true
		}
	}
	return false
}

func median(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

// monetarySeverity is the shared step function bucketing absolute impact.
func monetarySeverity(value decimal.Decimal) string {
	switch {
	case value.GreaterThanOrEqual(decimal.NewFromInt(500)):
		return models.SeverityCritical
	case value.GreaterThanOrEqual(decimal.NewFromInt(100)):
		return models.SeverityHigh
	case value.GreaterThanOrEqual(decimal.NewFromInt(25)):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func relatedRefundEventIDs(events []models.LedgerEvent, sku string) []string {
	var ids []string
	for _, ev := range events {
		if ev.SourceType != models.SourceTypeRefund && ev.SourceType != models.SourceTypeReturn {
			continue
		}
		if ev.SKU != nil && *ev.SKU == sku {
			ids = append(ids, ev.EventID)
		}
	}
	return ids
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
