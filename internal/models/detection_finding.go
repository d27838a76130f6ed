package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	FindingStatusPending  = "pending"
	FindingStatusReviewed = "reviewed"
	FindingStatusDisputed = "disputed"
	FindingStatusResolved = "resolved"
	FindingStatusExpired  = "expired"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	AnomalyFeeMisclassification  = "fee_misclassification"
	AnomalyRefundShortfall       = "refund_price_shortfall"
	AnomalyPartialReimbursement  = "partial_reimbursement"
	AnomalyMisclassifiedReimb    = "misclassified_reimbursement"
	AnomalyDelayedReimbursement  = "delayed_reimbursement"
	AnomalyClassifierClaim       = "classifier_claim"
	AnomalyInventoryDiscrepancy  = "inventory_discrepancy"
)

// DetectionFinding is a detector's output: a suspected monetizable
// discrepancy ("claim") with confidence, severity, and a fixed 60-day
// filing deadline. DeadlineDate is set at creation from DiscoveryDate and
// never recomputed; days-remaining is always derived from current time.
type DetectionFinding struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	MerchantID string `gorm:"type:varchar(64);not null;index:idx_finding_merchant_sync"`
	SyncID     string `gorm:"type:varchar(64);not null;index:idx_finding_merchant_sync"`

	AnomalyType string `gorm:"type:varchar(50);not null;index"`
	Severity    string `gorm:"type:varchar(10);not null;index"`

	EstimatedValue  decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Currency        string          `gorm:"type:varchar(3);not null;default:'USD'"`
	ConfidenceScore float64         `gorm:"not null"`

	// Evidence is detector-specific structured support for the claim.
	Evidence        datatypes.JSON `gorm:"type:jsonb;not null"`
	RelatedEventIDs datatypes.JSON `gorm:"type:jsonb"`

	DiscoveryDate time.Time `gorm:"type:timestamptz;not null"`
	DeadlineDate  time.Time `gorm:"type:timestamptz;not null;index"`

	Status              string `gorm:"type:varchar(20);not null;index;default:'pending'"`
	ExpirationAlertSent bool   `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (DetectionFinding) TableName() string {
	return "detection_findings"
}
