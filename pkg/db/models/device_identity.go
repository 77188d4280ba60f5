package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceIdentity is the single-row table holding this installation's stable
// identity and the last issued sequence number. LastSeq is bumped in the same
// transaction as the queue insert so restart resumes from max(seq)+1.
type DeviceIdentity struct {
	ID        int       `gorm:"column:id;primaryKey"`
	DeviceID  uuid.UUID `gorm:"column:device_id;type:uuid;not null"`
	StoreID   uuid.UUID `gorm:"column:store_id;type:uuid;not null"`
	LastSeq   int64     `gorm:"column:last_seq;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (DeviceIdentity) TableName() string { return "device_identity" }
