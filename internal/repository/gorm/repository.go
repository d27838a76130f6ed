package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"clawback/internal/models"
	"clawback/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Unified ledger ----------------------------------------------------------

func (s *Store) UpsertLedgerEvents(ctx context.Context, items []models.LedgerEvent) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	// Upsert keyed by event_id. The canonical amount/date are immutable once
	// created; only merge metadata may be rewritten.
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_event_ids",
			"merge_count",
			"reconciliation_notes",
			"updated_at",
		}),
	}).CreateInBatches(items, 200).Error
}

func (s *Store) GetLedgerEventByID(ctx context.Context, eventID string) (*models.LedgerEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.LedgerEvent
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListLedgerEventsByIDs(ctx context.Context, merchantID string, eventIDs []string) ([]models.LedgerEvent, error) {
	if s == nil || s.db == nil || len(eventIDs) == 0 {
		return nil, nil
	}
	var items []models.LedgerEvent
	err := s.db.WithContext(ctx).
		Model(&models.LedgerEvent{}).
		Where("merchant_id = ?", merchantID).
		Where("event_id IN ?", eventIDs).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListLedgerEvents(ctx context.Context, params repository.ListLedgerEventsParams) ([]models.LedgerEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.ledgerQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "event_date")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.LedgerEvent
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountLedgerEvents(ctx context.Context, params repository.ListLedgerEventsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.ledgerQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ledgerQuery(ctx context.Context, params repository.ListLedgerEventsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.LedgerEvent{})
	if strings.TrimSpace(params.MerchantID) != "" {
		query = query.Where("merchant_id = ?", strings.TrimSpace(params.MerchantID))
	}
	if params.SourceType != nil && strings.TrimSpace(*params.SourceType) != "" {
		query = query.Where("source_type = ?", strings.TrimSpace(*params.SourceType))
	}
	if params.OrderID != nil && strings.TrimSpace(*params.OrderID) != "" {
		query = query.Where("order_id = ?", strings.TrimSpace(*params.OrderID))
	}
	if params.SKU != nil && strings.TrimSpace(*params.SKU) != "" {
		query = query.Where("sku = ?", strings.TrimSpace(*params.SKU))
	}
	if params.Start != nil && !params.Start.IsZero() {
		query = query.Where("event_date >= ?", *params.Start)
	}
	if params.End != nil && !params.End.IsZero() {
		query = query.Where("event_date <= ?", *params.End)
	}
	return query
}

func (s *Store) SumLedgerAmountsByType(ctx context.Context, merchantID string, start, end time.Time) (map[string]repository.SourceTypeTotal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	type row struct {
		SourceType string
		Count      int64
		Amount     decimal.Decimal
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&models.LedgerEvent{}).
		Select("source_type, COUNT(*) AS count, COALESCE(SUM(amount),0) AS amount").
		Where("merchant_id = ?", merchantID).
		Where("event_date >= ?", start).
		Where("event_date <= ?", end).
		Group("source_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]repository.SourceTypeTotal, len(rows))
	for _, r := range rows {
		out[r.SourceType] = repository.SourceTypeTotal{Count: r.Count, Amount: r.Amount}
	}
	return out, nil
}

func (s *Store) PurgeLedgerEvents(ctx context.Context, merchantID string, eventIDs []string) (int64, error) {
	if s == nil || s.db == nil || len(eventIDs) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Where("event_id IN ?", eventIDs).
		Delete(&models.LedgerEvent{})
	return res.RowsAffected, res.Error
}

// --- Reference data ----------------------------------------------------------

func (s *Store) ListProductDimensions(ctx context.Context, merchantID string, skus []string) ([]models.ProductDimensions, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ProductDimensions{}).Where("merchant_id = ?", merchantID)
	if len(skus) > 0 {
		query = query.Where("sku IN ?", cleanStrings(skus))
	}
	var items []models.ProductDimensions
	if err := query.Order("sku asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListFeeTransactions(ctx context.Context, merchantID string, skus []string, since *time.Time) ([]models.FeeTransaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.FeeTransaction{}).Where("merchant_id = ?", merchantID)
	if len(skus) > 0 {
		query = query.Where("sku IN ?", cleanStrings(skus))
	}
	if since != nil && !since.IsZero() {
		query = query.Where("charged_at >= ?", *since)
	}
	var items []models.FeeTransaction
	if err := query.Order("charged_at asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListRefundEvents(ctx context.Context, merchantID string, since *time.Time) ([]models.RefundEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.RefundEvent{}).Where("merchant_id = ?", merchantID)
	if since != nil && !since.IsZero() {
		query = query.Where("refunded_at >= ?", *since)
	}
	var items []models.RefundEvent
	if err := query.Order("refunded_at asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPriceHistory(ctx context.Context, merchantID string, skus []string, since *time.Time) ([]models.PriceHistory, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.PriceHistory{}).Where("merchant_id = ?", merchantID)
	if len(skus) > 0 {
		query = query.Where("sku IN ?", cleanStrings(skus))
	}
	if since != nil && !since.IsZero() {
		query = query.Where("observed_at >= ?", *since)
	}
	var items []models.PriceHistory
	if err := query.Order("observed_at asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListReimbursementEvents(ctx context.Context, merchantID string, since *time.Time) ([]models.ReimbursementEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ReimbursementEvent{}).Where("merchant_id = ?", merchantID)
	if since != nil && !since.IsZero() {
		query = query.Where("paid_at >= ?", *since)
	}
	var items []models.ReimbursementEvent
	if err := query.Order("paid_at asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListInventoryLossEvents(ctx context.Context, merchantID string, since *time.Time) ([]models.InventoryLossEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.InventoryLossEvent{}).Where("merchant_id = ?", merchantID)
	if since != nil && !since.IsZero() {
		query = query.Where("occurred_at >= ?", *since)
	}
	var items []models.InventoryLossEvent
	if err := query.Order("occurred_at asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Findings ----------------------------------------------------------------

func (s *Store) ReplaceFindingsForRun(ctx context.Context, merchantID, syncID string, items []models.DetectionFinding) error {
	if s == nil || s.db == nil {
		return nil
	}
	// Replace only still-pending findings from a previous attempt of the same
	// run; reviewed/disputed/resolved/expired findings are operator state and
	// must survive reprocessing.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("merchant_id = ?", merchantID).
			Where("sync_id = ?", syncID).
			Where("status = ?", models.FindingStatusPending).
			Delete(&models.DetectionFinding{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.CreateInBatches(items, 200).Error
	})
}

func (s *Store) GetFindingByID(ctx context.Context, id uint64) (*models.DetectionFinding, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.DetectionFinding
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListFindings(ctx context.Context, params repository.ListFindingsParams) ([]models.DetectionFinding, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.findingsQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.DetectionFinding
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountFindings(ctx context.Context, params repository.ListFindingsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.findingsQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) findingsQuery(ctx context.Context, params repository.ListFindingsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.DetectionFinding{})
	if params.MerchantID != nil && strings.TrimSpace(*params.MerchantID) != "" {
		query = query.Where("merchant_id = ?", strings.TrimSpace(*params.MerchantID))
	}
	if params.SyncID != nil && strings.TrimSpace(*params.SyncID) != "" {
		query = query.Where("sync_id = ?", strings.TrimSpace(*params.SyncID))
	}
	if params.AnomalyType != nil && strings.TrimSpace(*params.AnomalyType) != "" {
		query = query.Where("anomaly_type = ?", strings.TrimSpace(*params.AnomalyType))
	}
	if params.Severity != nil && strings.TrimSpace(*params.Severity) != "" {
		query = query.Where("severity = ?", strings.TrimSpace(*params.Severity))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.MinConfidence != nil {
		query = query.Where("confidence_score >= ?", *params.MinConfidence)
	}
	if params.MinValue != nil {
		query = query.Where("estimated_value >= ?", *params.MinValue)
	}
	return query
}

func (s *Store) UpdateFindingStatus(ctx context.Context, id uint64, status string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.DetectionFinding{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *Store) ExpireDueFindings(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).
		Model(&models.DetectionFinding{}).
		Where("deadline_date < ?", now).
		Where("status NOT IN ?", []string{models.FindingStatusResolved, models.FindingStatusExpired}).
		Updates(map[string]any{
			"status":     models.FindingStatusExpired,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (s *Store) ListExpiringFindings(ctx context.Context, now time.Time, window time.Duration, limit int) ([]models.DetectionFinding, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	limit = normalizeLimit(limit, 200)
	var items []models.DetectionFinding
	err := s.db.WithContext(ctx).
		Model(&models.DetectionFinding{}).
		Where("deadline_date > ?", now).
		Where("deadline_date <= ?", now.Add(window)).
		Where("expiration_alert_sent = ?", false).
		Where("status NOT IN ?", []string{models.FindingStatusResolved, models.FindingStatusExpired}).
		Order("deadline_date asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkExpirationAlertSent(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.DetectionFinding{}).
		Where("id = ?", id).
		Where("expiration_alert_sent = ?", false).
		Updates(map[string]any{
			"expiration_alert_sent": true,
			"updated_at":            time.Now().UTC(),
		}).Error
}

// --- Detection jobs ----------------------------------------------------------

func (s *Store) CreateDetectionJob(ctx context.Context, item *models.DetectionJob) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "sync_id"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetDetectionJob(ctx context.Context, merchantID, syncID string) (*models.DetectionJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.DetectionJob
	err := s.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Where("sync_id = ?", syncID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListDetectionJobs(ctx context.Context, params repository.ListDetectionJobsParams) ([]models.DetectionJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.DetectionJob{})
	if params.MerchantID != nil && strings.TrimSpace(*params.MerchantID) != "" {
		query = query.Where("merchant_id = ?", strings.TrimSpace(*params.MerchantID))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.DetectionJob
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkJobProcessing(ctx context.Context, merchantID, syncID string, startedAt time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.DetectionJob{}).
		Where("merchant_id = ?", merchantID).
		Where("sync_id = ?", syncID).
		Updates(map[string]any{
			"status":     models.JobStatusProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": startedAt,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *Store) MarkJobCompleted(ctx context.Context, merchantID, syncID string, completedAt time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.DetectionJob{}).
		Where("merchant_id = ?", merchantID).
		Where("sync_id = ?", syncID).
		Updates(map[string]any{
			"status":       models.JobStatusCompleted,
			"completed_at": completedAt,
			"last_error":   nil,
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (s *Store) MarkJobFailed(ctx context.Context, merchantID, syncID string, errMsg string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.DetectionJob{}).
		Where("merchant_id = ?", merchantID).
		Where("sync_id = ?", syncID).
		Updates(map[string]any{
			"status":     models.JobStatusFailed,
			"last_error": errMsg,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *Store) ListStuckJobs(ctx context.Context, olderThan time.Time, limit int) ([]models.DetectionJob, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 100)
	var items []models.DetectionJob
	err := s.db.WithContext(ctx).
		Model(&models.DetectionJob{}).
		Where("status = ?", models.JobStatusProcessing).
		Where("started_at IS NOT NULL").
		Where("started_at < ?", olderThan).
		Order("started_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ResetJobToPending(ctx context.Context, merchantID, syncID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.DetectionJob{}).
		Where("merchant_id = ?", merchantID).
		Where("sync_id = ?", syncID).
		Where("status = ?", models.JobStatusProcessing).
		Updates(map[string]any{
			"status":     models.JobStatusPending,
			"updated_at": time.Now().UTC(),
		}).Error
}

// --- Sync state --------------------------------------------------------------

func (s *Store) GetSyncState(ctx context.Context, scope string) (*models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var state models.SyncState
	err := s.db.WithContext(ctx).Where("scope = ?", scope).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Store) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	if s == nil || s.db == nil || state == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"cursor",
			"watermark_ts",
			"last_success_at",
			"last_attempt_at",
			"last_error",
			"stats_json",
		}),
	}).Create(state).Error
}

func (s *Store) ListSyncStates(ctx context.Context) ([]models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var states []models.SyncState
	if err := s.db.WithContext(ctx).Order("scope asc").Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}

// --- System settings ---------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SystemSetting
	if err := s.db.WithContext(ctx).Order("key asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- Helpers -----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}

var _ repository.Repository = (*Store)(nil)
