package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"clawback/internal/client/classifier"
	"clawback/internal/finding"
	"clawback/internal/models"
)

const (
	classifierProbabilityFloor = 0.5
	classifierFallbackConf     = 0.65
)

// ClassifierBridgeDetector batches candidate claims to the external
// probabilistic classifier and turns its verdicts into findings. A classifier
// outage never fails the detection job: the detector degrades to a
// deterministic heuristic over positive-amount fee/adjustment events.
type ClassifierBridgeDetector struct {
	Client *classifier.Client
	Logger *zap.Logger
}

func (d *ClassifierBridgeDetector) Name() string { return "classifier_bridge" }

type classifierEvidence struct {
	ClaimID     string  `json:"claim_id"`
	ClaimType   string  `json:"claim_type"`
	Amount      string  `json:"amount"`
	Probability float64 `json:"probability,omitempty"`
	SKU         string  `json:"sku,omitempty"`
	Source      string  `json:"source"`
}

type bridgeCandidate struct {
	candidate classifier.Candidate
	amount    decimal.Decimal
	eventID   string
	heuristic bool
}

func (d *ClassifierBridgeDetector) Detect(ctx context.Context, in Input) ([]models.DetectionFinding, error) {
	candidates := d.collect(in)
	if len(candidates) == 0 {
		return nil, nil
	}

	byID := map[string]bridgeCandidate{}
	batch := make([]classifier.Candidate, 0, len(candidates))
	for _, c := range candidates {
		byID[c.candidate.ClaimID] = c
		batch = append(batch, c.candidate)
	}

	predictions, err := d.Client.PredictBatch(ctx, batch)
	if err != nil {
		if d.Logger != nil {
			d.Logger.Warn("classifier unavailable, using heuristic fallback", zap.Error(err))
		}
		return d.fallback(in, candidates), nil
	}

	var out []models.DetectionFinding
	for _, p := range predictions {
		if !p.Claimable || p.Probability < classifierProbabilityFloor {
			continue
		}
		c, ok := byID[p.ClaimID]
		if !ok {
			continue
		}
		ev := classifierEvidence{
			ClaimID:     p.ClaimID,
			ClaimType:   c.candidate.ClaimType,
			Amount:      c.amount.StringFixed(2),
			Probability: p.Probability,
			SKU:         c.candidate.SKU,
			Source:      "classifier",
		}
		var related []string
		if c.eventID != "" {
			related = []string{c.eventID}
		}
		out = append(out, finding.New(in.MerchantID, in.SyncID, models.AnomalyClassifierClaim,
			monetarySeverity(c.amount), c.amount, finding.Cap(p.Probability), ev, related, in.Now))
	}
	return out, nil
}

// collect builds the candidate batch: positive-amount fee and adjustment
// ledger events, plus inventory-availability discrepancies.
func (d *ClassifierBridgeDetector) collect(in Input) []bridgeCandidate {
	var out []bridgeCandidate

	for _, ev := range in.Events {
		if ev.SourceType != models.SourceTypeFee && ev.SourceType != models.SourceTypeAdjustment {
			continue
		}
		if ev.Amount.LessThanOrEqual(decimal.Zero) {
			continue
		}
		c := classifier.Candidate{
			ClaimID:    ev.EventID,
			MerchantID: in.MerchantID,
			ClaimType:  ev.SourceType,
			Currency:   ev.Currency,
			SKU:        derefStr(ev.SKU),
			EventDate:  ev.EventDate.Format(time.DateOnly),
		}
		c.Amount, _ = ev.Amount.Float64()
		out = append(out, bridgeCandidate{candidate: c, amount: ev.Amount, eventID: ev.EventID, heuristic: true})
	}

	for i, loss := range in.InventoryLosses {
		stranded := loss.ReservedQty > 0 && loss.AvailableQty == 0
		if !stranded && loss.DamagedQty == 0 {
			continue
		}
		c := classifier.Candidate{
			ClaimID:    fmt.Sprintf("inv_%s_%d", loss.SKU, i),
			MerchantID: in.MerchantID,
			ClaimType:  "inventory_discrepancy",
			Currency:   "USD",
			SKU:        loss.SKU,
			EventDate:  loss.OccurredAt.Format(time.DateOnly),
		}
		c.Amount, _ = loss.ExpectedValue.Float64()
		out = append(out, bridgeCandidate{candidate: c, amount: loss.ExpectedValue})
	}
	return out
}

// fallback is the deterministic heuristic used when the classifier is down:
// every positive-amount fee/adjustment candidate becomes a medium-severity,
// medium-confidence finding.
func (d *ClassifierBridgeDetector) fallback(in Input, candidates []bridgeCandidate) []models.DetectionFinding {
	var out []models.DetectionFinding
	for _, c := range candidates {
		if !c.heuristic {
			continue
		}
		ev := classifierEvidence{
			ClaimID:   c.candidate.ClaimID,
			ClaimType: c.candidate.ClaimType,
			Amount:    c.amount.StringFixed(2),
			SKU:       c.candidate.SKU,
			Source:    "heuristic_fallback",
		}
		out = append(out, finding.New(in.MerchantID, in.SyncID, models.AnomalyClassifierClaim,
			models.SeverityMedium, c.amount, classifierFallbackConf, ev,
			[]string{c.eventID}, in.Now))
	}
	return out
}
