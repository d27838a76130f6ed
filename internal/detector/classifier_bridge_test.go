package detector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"clawback/internal/client/classifier"
	"clawback/internal/models"
)

func bridgeInput(now time.Time) Input {
	sku := "SKU-C"
	return Input{
		MerchantID: "m-1",
		SyncID:     "sync-1",
		Now:        now,
		Events: []models.LedgerEvent{
			{EventID: "evt_aaa", SourceType: models.SourceTypeFee, SKU: &sku,
				Amount: decimal.NewFromInt(40), Currency: "USD", EventDate: now.AddDate(0, 0, -3)},
			{EventID: "evt_bbb", SourceType: models.SourceTypeAdjustment, SKU: &sku,
				Amount: decimal.NewFromInt(12), Currency: "USD", EventDate: now.AddDate(0, 0, -2)},
			// Negative amounts are payouts, not charges.
			{EventID: "evt_ccc", SourceType: models.SourceTypeFee, SKU: &sku,
				Amount: decimal.NewFromInt(-9), Currency: "USD", EventDate: now.AddDate(0, 0, -1)},
			// Orders never go to the classifier.
			{EventID: "evt_ddd", SourceType: models.SourceTypeOrder, SKU: &sku,
				Amount: decimal.NewFromInt(99), Currency: "USD", EventDate: now},
		},
		InventoryLosses: []models.InventoryLossEvent{{
			SKU:           "SKU-INV",
			LossType:      "warehouse_lost",
			ExpectedValue: decimal.NewFromInt(75),
			OccurredAt:    now.AddDate(0, 0, -20),
			ReservedQty:   4,
			AvailableQty:  0,
		}},
	}
}

func TestClassifierBridge_UsesPredictions(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	var gotClaims int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Claims []classifier.Candidate `json:"claims"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotClaims = len(req.Claims)
		resp := map[string]any{"predictions": []map[string]any{
			{"claim_id": "evt_aaa", "claimable": true, "probability": 0.82},
			{"claim_id": "evt_bbb", "claimable": true, "probability": 0.31},
			{"claim_id": "inv_SKU-INV_0", "claimable": false, "probability": 0.90},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	d := &ClassifierBridgeDetector{Client: classifier.NewClient(srv.Client(), srv.URL)}
	findings, err := d.Detect(context.Background(), bridgeInput(now))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	// Two positive fee/adjustment events plus one stranded-inventory candidate.
	if gotClaims != 3 {
		t.Fatalf("submitted claims = %d, want 3", gotClaims)
	}
	// Only evt_aaa is claimable above the probability floor.
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
	f := findings[0]
	if f.AnomalyType != models.AnomalyClassifierClaim {
		t.Fatalf("anomaly type = %q", f.AnomalyType)
	}
	if f.ConfidenceScore != 0.82 {
		t.Fatalf("confidence = %v, want the classifier probability", f.ConfidenceScore)
	}
	if !f.EstimatedValue.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("estimated value = %s, want 40.00", f.EstimatedValue)
	}
	var ev classifierEvidence
	if err := json.Unmarshal(f.Evidence, &ev); err != nil {
		t.Fatalf("unmarshal evidence: %v", err)
	}
	if ev.Source != "classifier" || ev.ClaimID != "evt_aaa" {
		t.Fatalf("evidence = %+v", ev)
	}
}

func TestClassifierBridge_OutageFallsBackToHeuristic(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	d := &ClassifierBridgeDetector{Client: classifier.NewClient(srv.Client(), srv.URL)}
	findings, err := d.Detect(context.Background(), bridgeInput(now))
	if err != nil {
		t.Fatalf("an outage must degrade, not fail: %v", err)
	}
	// Heuristic covers the ledger candidates only, not inventory ones.
	if len(findings) != 2 {
		t.Fatalf("findings = %d, want 2 heuristic findings", len(findings))
	}
	for i, f := range findings {
		if f.ConfidenceScore != classifierFallbackConf {
			t.Fatalf("finding %d: confidence = %v, want %v", i, f.ConfidenceScore, classifierFallbackConf)
		}
		if f.Severity != models.SeverityMedium {
			t.Fatalf("finding %d: severity = %q, want medium", i, f.Severity)
		}
		var ev classifierEvidence
		if err := json.Unmarshal(f.Evidence, &ev); err != nil {
			t.Fatalf("unmarshal evidence %d: %v", i, err)
		}
		if ev.Source != "heuristic_fallback" {
			t.Fatalf("finding %d: source = %q", i, ev.Source)
		}
	}
}

func TestClassifierBridge_UnreachableHostFallsBack(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	httpClient := &http.Client{Timeout: 200 * time.Millisecond}
	d := &ClassifierBridgeDetector{Client: classifier.NewClient(httpClient, "http://127.0.0.1:1")}
	findings, err := d.Detect(context.Background(), bridgeInput(now))
	if err != nil {
		t.Fatalf("connection failure must degrade, not fail: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("findings = %d, want 2 heuristic findings", len(findings))
	}
}

func TestClassifierBridge_NoCandidates(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	d := &ClassifierBridgeDetector{Client: classifier.NewClient(http.DefaultClient, "http://unused")}
	findings, err := d.Detect(context.Background(), Input{MerchantID: "m-1", SyncID: "sync-1", Now: now})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if findings != nil {
		t.Fatalf("findings = %v, want nil", findings)
	}
}
