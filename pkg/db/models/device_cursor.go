package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceCursor tracks the highest contiguously applied sequence number per
// (store, device). A submitted seq beyond last_seq+1 signals a gap and the
// event is withheld.
type DeviceCursor struct {
	StoreID   uuid.UUID `gorm:"column:store_id;type:uuid;primaryKey"`
	DeviceID  uuid.UUID `gorm:"column:device_id;type:uuid;primaryKey"`
	LastSeq   int64     `gorm:"column:last_seq;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (DeviceCursor) TableName() string { return "device_cursors" }
