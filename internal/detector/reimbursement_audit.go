package detector

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clawback/internal/finding"
	"clawback/internal/models"
)

const (
	partialReimbRatio     = 0.80
	delayedReimbAgeDays   = 30
	confPartialReimb      = 0.85
	confMisclassified     = 0.65
	confDelayedReimb      = 0.75
	confDelayedHighValue  = 0.95
)

var (
	partialShortfallFloor = decimal.NewFromInt(5)
	delayedExpectedFloor  = decimal.NewFromInt(10)
	delayedHighValueBar   = decimal.NewFromInt(100)
)

// Reimbursement types that hide the real loss category and usually pay out
// below the category minimum.
var catchAllReimbTypes = map[string]bool{
	"generic":       true,
	"other":         true,
	"miscellaneous": true,
}

// Per-type payout floors. A catch-all reimbursement above the floor of its
// plausible category is fine; below it, the classification cost money.
var reimbTypeMinimums = map[string]decimal.Decimal{
	"lost_warehouse":    decimal.NewFromInt(10),
	"damaged_warehouse": decimal.NewFromInt(10),
	"lost_inbound":      decimal.NewFromInt(15),
	"customer_return":   decimal.NewFromInt(5),
}

// ReimbursementAuditDetector cross-checks paid reimbursements against item
// cost and inventory loss records: partial payouts, catch-all classifications
// and losses that were never reimbursed at all.
type ReimbursementAuditDetector struct {
	Logger *zap.Logger
}

func (d *ReimbursementAuditDetector) Name() string { return "reimbursement_audit" }

type reimbEvidence struct {
	SKU               string `json:"sku"`
	ReimbursementType string `json:"reimbursement_type,omitempty"`
	AmountPaid        string `json:"amount_paid,omitempty"`
	ItemCost          string `json:"item_cost,omitempty"`
	Shortfall         string `json:"shortfall,omitempty"`
	CoverageRatio     float64 `json:"coverage_ratio,omitempty"`
	LossType          string `json:"loss_type,omitempty"`
	ExpectedValue     string `json:"expected_value,omitempty"`
	LossAgeDays       int    `json:"loss_age_days,omitempty"`
	Detail            string `json:"detail"`
}

func (d *ReimbursementAuditDetector) Detect(ctx context.Context, in Input) ([]models.DetectionFinding, error) {
	var out []models.DetectionFinding

	for _, r := range in.Reimbursements {
		if f, ok := d.checkPartial(in, r); ok {
			out = append(out, f)
		}
		if f, ok := d.checkMisclassified(in, r); ok {
			out = append(out, f)
		}
	}

	reimbBySKU := map[string][]models.ReimbursementEvent{}
	for _, r := range in.Reimbursements {
		reimbBySKU[r.SKU] = append(reimbBySKU[r.SKU], r)
	}
	for _, loss := range in.InventoryLosses {
		if f, ok := d.checkDelayed(in, loss, reimbBySKU[loss.SKU]); ok {
			out = append(out, f)
		}
	}

	if d.Logger != nil && len(out) > 0 {
		d.Logger.Debug("reimbursement anomalies detected", zap.Int("count", len(out)))
	}
	return out, nil
}

// checkPartial flags payouts under 80% of the recorded item cost.
func (d *ReimbursementAuditDetector) checkPartial(in Input, r models.ReimbursementEvent) (models.DetectionFinding, bool) {
	if r.ItemCost == nil || r.ItemCost.LessThanOrEqual(decimal.Zero) {
		return models.DetectionFinding{}, false
	}
	ratio, _ := r.AmountPaid.Div(*r.ItemCost).Float64()
	if ratio >= partialReimbRatio {
		return models.DetectionFinding{}, false
	}
	shortfall := r.ItemCost.Sub(r.AmountPaid).Round(2)
	if shortfall.LessThan(partialShortfallFloor) {
		return models.DetectionFinding{}, false
	}
	ev := reimbEvidence{
		SKU:               r.SKU,
		ReimbursementType: r.ReimbursementType,
		AmountPaid:        r.AmountPaid.StringFixed(2),
		ItemCost:          r.ItemCost.StringFixed(2),
		Shortfall:         shortfall.StringFixed(2),
		CoverageRatio:     ratio,
		Detail:            "reimbursement paid below recorded item cost",
	}
	return finding.New(in.MerchantID, in.SyncID, models.AnomalyPartialReimbursement,
		monetarySeverity(shortfall), shortfall, confPartialReimb, ev,
		relatedReimbEventIDs(in.Events, r.SKU), in.Now), true
}

// checkMisclassified flags catch-all reimbursement types paid above the floor
// of a specific category, where the specific category would have paid more.
func (d *ReimbursementAuditDetector) checkMisclassified(in Input, r models.ReimbursementEvent) (models.DetectionFinding, bool) {
	if !catchAllReimbTypes[strings.ToLower(r.ReimbursementType)] {
		return models.DetectionFinding{}, false
	}
	var above bool
	for _, min := range reimbTypeMinimums {
		if r.AmountPaid.GreaterThanOrEqual(min) {
			above = true
			break
		}
	}
	if !above {
		return models.DetectionFinding{}, false
	}
	ev := reimbEvidence{
		SKU:               r.SKU,
		ReimbursementType: r.ReimbursementType,
		AmountPaid:        r.AmountPaid.StringFixed(2),
		Detail:            "catch-all reimbursement type, specific category likely pays more",
	}
	return finding.New(in.MerchantID, in.SyncID, models.AnomalyMisclassifiedReimb,
		models.SeverityLow, r.AmountPaid, confMisclassified, ev,
		relatedReimbEventIDs(in.Events, r.SKU), in.Now), true
}

// checkDelayed flags inventory losses over 30 days old with no reimbursement
// for the same SKU on or after the loss date.
func (d *ReimbursementAuditDetector) checkDelayed(in Input, loss models.InventoryLossEvent, reimbs []models.ReimbursementEvent) (models.DetectionFinding, bool) {
	age := in.Now.Sub(loss.OccurredAt)
	if age < delayedReimbAgeDays*24*time.Hour {
		return models.DetectionFinding{}, false
	}
	if loss.ExpectedValue.LessThan(delayedExpectedFloor) {
		return models.DetectionFinding{}, false
	}
	for _, r := range reimbs {
		if !r.PaidAt.Before(loss.OccurredAt) {
			return models.DetectionFinding{}, false
		}
	}
	confidence := confDelayedReimb
	if loss.ExpectedValue.GreaterThanOrEqual(delayedHighValueBar) {
		confidence = confDelayedHighValue
	}
	ev := reimbEvidence{
		SKU:           loss.SKU,
		LossType:      loss.LossType,
		ExpectedValue: loss.ExpectedValue.StringFixed(2),
		LossAgeDays:   int(age.Hours() / 24),
		Detail:        "inventory loss never reimbursed",
	}
	return finding.New(in.MerchantID, in.SyncID, models.AnomalyDelayedReimbursement,
		monetarySeverity(loss.ExpectedValue), loss.ExpectedValue, confidence, ev,
		relatedReimbEventIDs(in.Events, loss.SKU), in.Now), true
}

func relatedReimbEventIDs(events []models.LedgerEvent, sku string) []string {
	var ids []string
	for _, ev := range events {
		if ev.SourceType != models.SourceTypeReimbursement && ev.SourceType != models.SourceTypeInventory {
			continue
		}
		if ev.SKU != nil && *ev.SKU == sku {
			ids = append(ids, ev.EventID)
		}
	}
	return ids
}
