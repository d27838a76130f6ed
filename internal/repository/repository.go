package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"clawback/internal/models"
)

// Repository is the unified persistence contract for the reconciliation and
// detection engine. Every write the engine performs is a point upsert keyed
// by a stable ID so duplicate processing converges rather than compounds.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Unified ledger
	UpsertLedgerEvents(ctx context.Context, items []models.LedgerEvent) error
	GetLedgerEventByID(ctx context.Context, eventID string) (*models.LedgerEvent, error)
	ListLedgerEventsByIDs(ctx context.Context, merchantID string, eventIDs []string) ([]models.LedgerEvent, error)
	ListLedgerEvents(ctx context.Context, params ListLedgerEventsParams) ([]models.LedgerEvent, error)
	CountLedgerEvents(ctx context.Context, params ListLedgerEventsParams) (int64, error)
	SumLedgerAmountsByType(ctx context.Context, merchantID string, start, end time.Time) (map[string]SourceTypeTotal, error)
	PurgeLedgerEvents(ctx context.Context, merchantID string, eventIDs []string) (int64, error)

	// Reference data (read-only, owned by upstream sync)
	ListProductDimensions(ctx context.Context, merchantID string, skus []string) ([]models.ProductDimensions, error)
	ListFeeTransactions(ctx context.Context, merchantID string, skus []string, since *time.Time) ([]models.FeeTransaction, error)
	ListRefundEvents(ctx context.Context, merchantID string, since *time.Time) ([]models.RefundEvent, error)
	ListPriceHistory(ctx context.Context, merchantID string, skus []string, since *time.Time) ([]models.PriceHistory, error)
	ListReimbursementEvents(ctx context.Context, merchantID string, since *time.Time) ([]models.ReimbursementEvent, error)
	ListInventoryLossEvents(ctx context.Context, merchantID string, since *time.Time) ([]models.InventoryLossEvent, error)

	// Findings
	ReplaceFindingsForRun(ctx context.Context, merchantID, syncID string, items []models.DetectionFinding) error
	GetFindingByID(ctx context.Context, id uint64) (*models.DetectionFinding, error)
	ListFindings(ctx context.Context, params ListFindingsParams) ([]models.DetectionFinding, error)
	CountFindings(ctx context.Context, params ListFindingsParams) (int64, error)
	UpdateFindingStatus(ctx context.Context, id uint64, status string) error
	ExpireDueFindings(ctx context.Context, now time.Time) (int64, error)
	ListExpiringFindings(ctx context.Context, now time.Time, window time.Duration, limit int) ([]models.DetectionFinding, error)
	MarkExpirationAlertSent(ctx context.Context, id uint64) error

	// Detection jobs
	CreateDetectionJob(ctx context.Context, item *models.DetectionJob) (created bool, err error)
	GetDetectionJob(ctx context.Context, merchantID, syncID string) (*models.DetectionJob, error)
	ListDetectionJobs(ctx context.Context, params ListDetectionJobsParams) ([]models.DetectionJob, error)
	MarkJobProcessing(ctx context.Context, merchantID, syncID string, startedAt time.Time) error
	MarkJobCompleted(ctx context.Context, merchantID, syncID string, completedAt time.Time) error
	MarkJobFailed(ctx context.Context, merchantID, syncID string, errMsg string) error
	ListStuckJobs(ctx context.Context, olderThan time.Time, limit int) ([]models.DetectionJob, error)
	ResetJobToPending(ctx context.Context, merchantID, syncID string) error

	// Sync state
	GetSyncState(ctx context.Context, scope string) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, state *models.SyncState) error
	ListSyncStates(ctx context.Context) ([]models.SyncState, error)

	// System settings
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error)
}

type ListLedgerEventsParams struct {
	MerchantID string
	SourceType *string
	OrderID    *string
	SKU        *string
	Start      *time.Time
	End        *time.Time
	Limit      int
	Offset     int
	OrderBy    string
	Asc        *bool
}

type ListFindingsParams struct {
	MerchantID    *string
	SyncID        *string
	AnomalyType   *string
	Severity      *string
	Status        *string
	MinConfidence *float64
	MinValue      *decimal.Decimal
	Limit         int
	Offset        int
	OrderBy       string
	Asc           *bool
}

type ListDetectionJobsParams struct {
	MerchantID *string
	Status     *string
	Limit      int
	Offset     int
}

// SourceTypeTotal is one per-source-type aggregate row for reconciliation.
type SourceTypeTotal struct {
	Count  int64
	Amount decimal.Decimal
}
