package finding

import (
	"encoding/json"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"clawback/internal/models"
)

// DeadlineDays is the marketplace claim-filing window. The deadline is fixed
// at discovery time and never recomputed.
const DeadlineDays = 60

// ExpiryAlertWindowDays is how close to the deadline the one-time expiring
// alert fires.
const ExpiryAlertWindowDays = 7

func Deadline(discovery time.Time) time.Time {
	return discovery.Add(DeadlineDays * 24 * time.Hour)
}

// DaysRemaining is always derived from current time, never trusted from a
// stored value. Floors at 0 once the deadline has passed.
func DaysRemaining(deadline, now time.Time) int {
	days := int(math.Ceil(deadline.Sub(now).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// Cap clamps an additive confidence sum to [0,1].
func Cap(confidence float64) float64 {
	if confidence > 1 {
		return 1
	}
	if confidence < 0 {
		return 0
	}
	return confidence
}

// New builds a finding with its deadline fixed from the discovery date.
// Evidence must marshal; a marshal failure leaves an empty object rather
// than dropping the finding.
func New(merchantID, syncID, anomalyType, severity string, value decimal.Decimal, confidence float64, evidence any, relatedEventIDs []string, discovery time.Time) models.DetectionFinding {
	evRaw, err := json.Marshal(evidence)
	if err != nil || len(evRaw) == 0 {
		evRaw = []byte(`{}`)
	}
	idsRaw, _ := json.Marshal(relatedEventIDs)
	if len(relatedEventIDs) == 0 {
		idsRaw = []byte(`[]`)
	}
	discovery = discovery.UTC()
	return models.DetectionFinding{
		MerchantID:      merchantID,
		SyncID:          syncID,
		AnomalyType:     anomalyType,
		Severity:        severity,
		EstimatedValue:  value.Round(2),
		Currency:        "USD",
		ConfidenceScore: Cap(confidence),
		Evidence:        datatypes.JSON(evRaw),
		RelatedEventIDs: datatypes.JSON(idsRaw),
		DiscoveryDate:   discovery,
		DeadlineDate:    Deadline(discovery),
		Status:          models.FindingStatusPending,
	}
}
