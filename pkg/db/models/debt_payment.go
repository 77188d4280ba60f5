package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DebtPayment is one immutable payment record. EventID links it to the
// originating sync event; the unique index makes replayed applies visible as
// constraint violations even if the idempotency record were lost.
type DebtPayment struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	DebtID        uuid.UUID       `gorm:"column:debt_id;type:uuid;not null;index"`
	StoreID       uuid.UUID       `gorm:"column:store_id;type:uuid;not null;index"`
	EventID       uuid.UUID       `gorm:"column:event_id;type:uuid;not null;uniqueIndex:ux_debt_payments_event"`
	DeviceID      uuid.UUID       `gorm:"column:device_id;type:uuid;not null"`
	AmountUSD     decimal.Decimal `gorm:"column:amount_usd;type:numeric(14,2);not null"`
	AmountVES     decimal.Decimal `gorm:"column:amount_ves;type:numeric(18,2);not null"`
	Rate          decimal.Decimal `gorm:"column:rate;type:numeric(18,6);not null"`
	RateFetchedAt time.Time       `gorm:"column:rate_fetched_at;not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (DebtPayment) TableName() string { return "debt_payments" }
