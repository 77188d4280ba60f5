package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SyncDeadLetter captures events terminally rejected at ingestion, kept for
// auditing and remediation.
type SyncDeadLetter struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID      uuid.UUID       `gorm:"column:event_id;type:uuid;not null;index"`
	StoreID      uuid.UUID       `gorm:"column:store_id;type:uuid;not null;index"`
	DeviceID     uuid.UUID       `gorm:"column:device_id;type:uuid;not null"`
	Seq          int64           `gorm:"column:seq;not null"`
	Type         string          `gorm:"column:type;not null"`
	Payload      json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Reason       string          `gorm:"column:reason;not null"`
	ErrorMessage *string         `gorm:"column:error_message"`
	FailedAt     time.Time       `gorm:"column:failed_at;autoCreateTime"`
}

func (SyncDeadLetter) TableName() string { return "sync_dead_letters" }
