package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeadLetter holds terminally rejected events on the terminal side. Entries
// stay inspectable; they are never retried automatically.
type DeadLetter struct {
	EventID      uuid.UUID       `gorm:"column:event_id;type:uuid;primaryKey"`
	Type         string          `gorm:"column:type;not null"`
	Payload      json.RawMessage `gorm:"column:payload;not null"`
	Seq          int64           `gorm:"column:seq;not null"`
	StoreID      uuid.UUID       `gorm:"column:store_id;type:uuid;not null"`
	DeviceID     uuid.UUID       `gorm:"column:device_id;type:uuid;not null"`
	Reason       string          `gorm:"column:reason;not null"`
	ErrorMessage *string         `gorm:"column:error_message"`
	AttemptCount int             `gorm:"column:attempt_count;not null;default:0"`
	FailedAt     time.Time       `gorm:"column:failed_at;autoCreateTime"`
}

func (DeadLetter) TableName() string { return "dead_letters" }
