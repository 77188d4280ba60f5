package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RateHistory records every exchange rate the server accepted for a store.
// The latest row bounds plausibility checks on client-submitted snapshots.
type RateHistory struct {
	ID         int64           `gorm:"column:id;primaryKey;autoIncrement"`
	StoreID    uuid.UUID       `gorm:"column:store_id;type:uuid;not null;index"`
	Rate       decimal.Decimal `gorm:"column:rate;type:numeric(18,6);not null"`
	FetchedAt  time.Time       `gorm:"column:fetched_at;not null"`
	RecordedAt time.Time       `gorm:"column:recorded_at;autoCreateTime"`
}

func (RateHistory) TableName() string { return "rate_history" }
