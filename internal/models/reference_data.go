package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reference/auxiliary inputs to specific detectors. These tables are owned by
// upstream sync processes; the engine only reads them.

// ProductDimensions holds the measured physical profile for one SKU.
type ProductDimensions struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	MerchantID string `gorm:"type:varchar(64);not null;uniqueIndex:uk_dims_merchant_sku"`
	SKU        string `gorm:"type:varchar(120);not null;uniqueIndex:uk_dims_merchant_sku"`
	ASIN       *string `gorm:"type:varchar(20)"`

	LengthInches decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	WidthInches  decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	HeightInches decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	WeightOunces decimal.Decimal `gorm:"type:numeric(10,2);not null"`

	// Verified means the dimensions were independently re-measured rather
	// than scraped from the listing.
	Verified   bool       `gorm:"not null;default:false"`
	MeasuredAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (ProductDimensions) TableName() string {
	return "product_dimensions"
}

// FeeTransaction is one fulfillment-fee charge observed on the settlement feed.
type FeeTransaction struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	MerchantID string `gorm:"type:varchar(64);not null;index:idx_fee_merchant_sku"`
	SKU        string `gorm:"type:varchar(120);not null;index:idx_fee_merchant_sku"`
	OrderID    *string `gorm:"type:varchar(64);index"`

	FeeType    string          `gorm:"type:varchar(60);not null"`
	FeeAmount  decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Currency   string          `gorm:"type:varchar(3);not null;default:'USD'"`
	Quantity   int             `gorm:"not null;default:1"`
	// StatedTier is the size tier the marketplace reported for the charge,
	// when present on the feed.
	StatedTier *string   `gorm:"type:varchar(40)"`
	ChargedAt  time.Time `gorm:"type:timestamptz;not null;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (FeeTransaction) TableName() string {
	return "fee_transactions"
}

// RefundEvent is one customer refund observed for a SKU.
type RefundEvent struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	MerchantID string `gorm:"type:varchar(64);not null;index:idx_refund_merchant_sku"`
	SKU        string `gorm:"type:varchar(120);not null;index:idx_refund_merchant_sku"`
	OrderID    *string `gorm:"type:varchar(64);index"`

	RefundAmount decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Currency     string          `gorm:"type:varchar(3);not null;default:'USD'"`
	Quantity     int             `gorm:"not null;default:1"`
	Reason       *string         `gorm:"type:varchar(120)"`
	RefundedAt   time.Time       `gorm:"type:timestamptz;not null;index"`
	ReturnedAt   *time.Time      `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (RefundEvent) TableName() string {
	return "refund_events"
}

// PriceHistory is one observed price point for a SKU from the price-history
// aggregator.
type PriceHistory struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	MerchantID string `gorm:"type:varchar(64);not null;index:idx_price_merchant_sku"`
	SKU        string `gorm:"type:varchar(120);not null;index:idx_price_merchant_sku"`

	Price        decimal.Decimal  `gorm:"type:numeric(20,2);not null"`
	BuyboxPrice  *decimal.Decimal `gorm:"type:numeric(20,2)"`
	ListPrice    *decimal.Decimal `gorm:"type:numeric(20,2)"`
	Currency     string           `gorm:"type:varchar(3);not null;default:'USD'"`
	ObservedAt   time.Time        `gorm:"type:timestamptz;not null;index"`
	SaleObserved bool             `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (PriceHistory) TableName() string {
	return "price_history"
}

// ReimbursementEvent is one reimbursement paid by the marketplace.
type ReimbursementEvent struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	MerchantID string `gorm:"type:varchar(64);not null;index:idx_reimb_merchant_sku"`
	SKU        string `gorm:"type:varchar(120);not null;index:idx_reimb_merchant_sku"`

	ReimbursementType string          `gorm:"type:varchar(60);not null"`
	AmountPaid        decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Currency          string          `gorm:"type:varchar(3);not null;default:'USD'"`
	Quantity          int             `gorm:"not null;default:1"`
	// ItemCost is the merchant's known per-unit cost, when synced.
	ItemCost *decimal.Decimal `gorm:"type:numeric(20,2)"`
	PaidAt   time.Time        `gorm:"type:timestamptz;not null;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (ReimbursementEvent) TableName() string {
	return "reimbursement_events"
}

// InventoryLossEvent is one recorded inventory loss or damage incident.
type InventoryLossEvent struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	MerchantID string `gorm:"type:varchar(64);not null;index:idx_loss_merchant_sku"`
	SKU        string `gorm:"type:varchar(120);not null;index:idx_loss_merchant_sku"`

	LossType      string          `gorm:"type:varchar(40);not null"`
	Quantity      int             `gorm:"not null;default:1"`
	ExpectedValue decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Currency      string          `gorm:"type:varchar(3);not null;default:'USD'"`
	OccurredAt    time.Time       `gorm:"type:timestamptz;not null;index"`

	// Availability snapshot at the time of the incident, used by the
	// classifier bridge to spot stuck reserved/damaged stock.
	AvailableQty int `gorm:"not null;default:0"`
	ReservedQty  int `gorm:"not null;default:0"`
	DamagedQty   int `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (InventoryLossEvent) TableName() string {
	return "inventory_loss_events"
}
