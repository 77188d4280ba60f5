package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Debt is a customer obligation in dual currency. AmountVES is derived once
// from the rate snapshot embedded in the creating event and never recomputed.
type Debt struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	StoreID         uuid.UUID       `gorm:"column:store_id;type:uuid;not null;index"`
	CustomerID      uuid.UUID       `gorm:"column:customer_id;type:uuid;not null;index"`
	AmountUSD       decimal.Decimal `gorm:"column:amount_usd;type:numeric(14,2);not null"`
	AmountVES       decimal.Decimal `gorm:"column:amount_ves;type:numeric(18,2);not null"`
	Rate            decimal.Decimal `gorm:"column:rate;type:numeric(18,6);not null"`
	RateFetchedAt   time.Time       `gorm:"column:rate_fetched_at;not null"`
	PaidUSD         decimal.Decimal `gorm:"column:paid_usd;type:numeric(14,2);not null;default:0"`
	Settled         bool            `gorm:"column:settled;not null;default:false"`
	Note            *string         `gorm:"column:note"`
	UpdatedArrival  int64           `gorm:"column:updated_arrival;not null;default:0"`
	UpdatedByDevice uuid.UUID       `gorm:"column:updated_by_device;type:uuid"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (Debt) TableName() string { return "debts" }

// Remaining returns the outstanding USD balance.
func (d Debt) Remaining() decimal.Decimal {
	return d.AmountUSD.Sub(d.PaidUSD)
}
