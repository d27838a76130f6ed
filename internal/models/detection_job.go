package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// DetectionJob is the durable idempotency record for one detection run,
// keyed by (merchant_id, sync_id). It is created on enqueue, mutated only by
// the processing worker, and never deleted.
type DetectionJob struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	MerchantID string `gorm:"type:varchar(64);not null;uniqueIndex:uk_job_merchant_sync"`
	SyncID     string `gorm:"type:varchar(64);not null;uniqueIndex:uk_job_merchant_sync"`

	Status   string         `gorm:"type:varchar(20);not null;index;default:'pending'"`
	Attempts int            `gorm:"not null;default:0"`
	Payload  datatypes.JSON `gorm:"type:jsonb"`

	LastError   *string    `gorm:"type:text"`
	StartedAt   *time.Time `gorm:"type:timestamptz"`
	CompletedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (DetectionJob) TableName() string {
	return "detection_jobs"
}

// JobPayload is the queue/direct-execution payload carried by a DetectionJob.
type JobPayload struct {
	MerchantID string `json:"merchant_id"`
	SyncID     string `json:"sync_id"`
	Sandbox    bool   `json:"sandbox"`
}
