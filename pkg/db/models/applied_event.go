package models

import (
	"time"

	"github.com/google/uuid"
)

// AppliedEvent is the durable idempotency record. It is written in the same
// transaction as the entity mutation it covers; ArrivalSeq is the server
// arrival order used as the last-write-wins key for replace-class events.
type AppliedEvent struct {
	EventID    uuid.UUID `gorm:"column:event_id;type:uuid;primaryKey"`
	StoreID    uuid.UUID `gorm:"column:store_id;type:uuid;not null;index:ix_applied_events_store"`
	DeviceID   uuid.UUID `gorm:"column:device_id;type:uuid;not null"`
	Seq        int64     `gorm:"column:seq;not null"`
	Type       string    `gorm:"column:type;not null"`
	Status     string    `gorm:"column:status;not null"`
	Reason     *string   `gorm:"column:reason"`
	ArrivalSeq int64     `gorm:"column:arrival_seq;not null;index:ix_applied_events_arrival"`
	AppliedAt  time.Time `gorm:"column:applied_at;autoCreateTime"`
}

func (AppliedEvent) TableName() string { return "applied_events" }
