package db

import (
	"clawback/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.LedgerEvent{},
		&models.DetectionFinding{},
		&models.DetectionJob{},
		&models.ProductDimensions{},
		&models.FeeTransaction{},
		&models.RefundEvent{},
		&models.PriceHistory{},
		&models.ReimbursementEvent{},
		&models.InventoryLossEvent{},
		&models.SyncState{},
		&models.SystemSetting{},
	)
}
