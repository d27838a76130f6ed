package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"clawback/internal/models"
	"clawback/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Only the ledger surface is functional; dedup tests need nothing else.
type stubRepo struct {
	events    map[string]models.LedgerEvent
	listFails bool
	upserts   int
}

func newStubRepo() *stubRepo {
	return &stubRepo{events: map[string]models.LedgerEvent{}}
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) UpsertLedgerEvents(ctx context.Context, items []models.LedgerEvent) error {
	for _, ev := range items {
		s.events[ev.EventID] = ev
	}
	s.upserts += len(items)
	return nil
}

func (s *stubRepo) GetLedgerEventByID(ctx context.Context, eventID string) (*models.LedgerEvent, error) {
	ev, ok := s.events[eventID]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (s *stubRepo) ListLedgerEventsByIDs(ctx context.Context, merchantID string, eventIDs []string) ([]models.LedgerEvent, error) {
	if s.listFails {
		return nil, errors.New("ledger unavailable")
	}
	var out []models.LedgerEvent
	for _, id := range eventIDs {
		if ev, ok := s.events[id]; ok && ev.MerchantID == merchantID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *stubRepo) ListLedgerEvents(ctx context.Context, params repository.ListLedgerEventsParams) ([]models.LedgerEvent, error) {
	return nil, nil
}
func (s *stubRepo) CountLedgerEvents(ctx context.Context, params repository.ListLedgerEventsParams) (int64, error) {
	return 0, nil
}
func (s *stubRepo) SumLedgerAmountsByType(ctx context.Context, merchantID string, start, end time.Time) (map[string]repository.SourceTypeTotal, error) {
	return nil, nil
}
func (s *stubRepo) PurgeLedgerEvents(ctx context.Context, merchantID string, eventIDs []string) (int64, error) {
	return 0, nil
}

func (s *stubRepo) ListProductDimensions(ctx context.Context, merchantID string, skus []string) ([]models.ProductDimensions, error) {
	return nil, nil
}
func (s *stubRepo) ListFeeTransactions(ctx context.Context, merchantID string, skus []string, since *time.Time) ([]models.FeeTransaction, error) {
	return nil, nil
}
func (s *stubRepo) ListRefundEvents(ctx context.Context, merchantID string, since *time.Time) ([]models.RefundEvent, error) {
	return nil, nil
}
func (s *stubRepo) ListPriceHistory(ctx context.Context, merchantID string, skus []string, since *time.Time) ([]models.PriceHistory, error) {
	return nil, nil
}
func (s *stubRepo) ListReimbursementEvents(ctx context.Context, merchantID string, since *time.Time) ([]models.ReimbursementEvent, error) {
	return nil, nil
}
func (s *stubRepo) ListInventoryLossEvents(ctx context.Context, merchantID string, since *time.Time) ([]models.InventoryLossEvent, error) {
	return nil, nil
}

func (s *stubRepo) ReplaceFindingsForRun(ctx context.Context, merchantID, syncID string, items []models.DetectionFinding) error {
	return nil
}
func (s *stubRepo) GetFindingByID(ctx context.Context, id uint64) (*models.DetectionFinding, error) {
	return nil, nil
}
func (s *stubRepo) ListFindings(ctx context.Context, params repository.ListFindingsParams) ([]models.DetectionFinding, error) {
	return nil, nil
}
func (s *stubRepo) CountFindings(ctx context.Context, params repository.ListFindingsParams) (int64, error) {
	return 0, nil
}
func (s *stubRepo) UpdateFindingStatus(ctx context.Context, id uint64, status string) error {
	return nil
}
func (s *stubRepo) ExpireDueFindings(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}
func (s *stubRepo) ListExpiringFindings(ctx context.Context, now time.Time, window time.Duration, limit int) ([]models.DetectionFinding, error) {
	return nil, nil
}
func (s *stubRepo) MarkExpirationAlertSent(ctx context.Context, id uint64) error { return nil }

func (s *stubRepo) CreateDetectionJob(ctx context.Context, item *models.DetectionJob) (bool, error) {
	return true, nil
}
func (s *stubRepo) GetDetectionJob(ctx context.Context, merchantID, syncID string) (*models.DetectionJob, error) {
	return nil, nil
}
func (s *stubRepo) ListDetectionJobs(ctx context.Context, params repository.ListDetectionJobsParams) ([]models.DetectionJob, error) {
	return nil, nil
}
func (s *stubRepo) MarkJobProcessing(ctx context.Context, merchantID, syncID string, startedAt time.Time) error {
	return nil
}
func (s *stubRepo) MarkJobCompleted(ctx context.Context, merchantID, syncID string, completedAt time.Time) error {
	return nil
}
func (s *stubRepo) MarkJobFailed(ctx context.Context, merchantID, syncID string, errMsg string) error {
	return nil
}
func (s *stubRepo) ListStuckJobs(ctx context.Context, olderThan time.Time, limit int) ([]models.DetectionJob, error) {
	return nil, nil
}
func (s *stubRepo) ResetJobToPending(ctx context.Context, merchantID, syncID string) error {
	return nil
}

func (s *stubRepo) GetSyncState(ctx context.Context, scope string) (*models.SyncState, error) {
	return nil, nil
}
func (s *stubRepo) SaveSyncState(ctx context.Context, state *models.SyncState) error { return nil }
func (s *stubRepo) ListSyncStates(ctx context.Context) ([]models.SyncState, error)   { return nil, nil }

func (s *stubRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	return nil
}
func (s *stubRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	return nil, nil
}
func (s *stubRepo) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	return nil, nil
}

var _ repository.Repository = (*stubRepo)(nil)
