package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	SourceTypeOrder         = "order"
	SourceTypeRefund        = "refund"
	SourceTypeAdjustment    = "adjustment"
	SourceTypeFee           = "fee"
	SourceTypeReimbursement = "reimbursement"
	SourceTypeInventory     = "inventory"
	SourceTypeReturn        = "return"
)

// LedgerEvent is the deduplicated, canonical representation of one financial
// or inventory fact. EventID is derived from the event fingerprint and is
// immutable once created; merges only append metadata (source_event_ids,
// merge_count, reconciliation_notes); the canonical amount/date never change.
type LedgerEvent struct {
	EventID    string `gorm:"primaryKey;type:varchar(80)"`
	MerchantID string `gorm:"type:varchar(64);not null;index:idx_ledger_merchant_date"`

	SourceType   string `gorm:"type:varchar(20);not null;index"`
	SourceReport string `gorm:"type:varchar(120);not null"`

	// SourceEventIDs is the ordered JSON array of contributing raw event IDs.
	// Insertion order is merge order.
	SourceEventIDs datatypes.JSON `gorm:"type:jsonb;not null"`

	EventDate    time.Time       `gorm:"type:timestamptz;not null;index:idx_ledger_merchant_date"`
	OrderID      *string         `gorm:"type:varchar(64);index"`
	SKU          *string         `gorm:"type:varchar(120);index"`
	ASIN         *string         `gorm:"type:varchar(20)"`
	FNSKU        *string         `gorm:"type:varchar(20)"`
	Quantity     int             `gorm:"not null;default:1"`
	Amount       decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Currency     string          `gorm:"type:varchar(3);not null;default:'USD'"`
	EventSubtype string          `gorm:"type:varchar(60);not null"`

	MergeCount          int            `gorm:"not null;default:1"`
	ReconciliationNotes datatypes.JSON `gorm:"type:jsonb"`

	// IsDeduplicated marks an event already present in the persisted ledger
	// from an earlier sync run. Transient: set by the dedup engine, never stored.
	IsDeduplicated bool `gorm:"-"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (LedgerEvent) TableName() string {
	return "unified_ledger_events"
}
