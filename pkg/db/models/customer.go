package models

import (
	"time"

	"github.com/google/uuid"
)

// Customer is the canonical customer entity. The id is client-generated so
// offline creates can be referenced by later offline events.
type Customer struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	StoreID         uuid.UUID `gorm:"column:store_id;type:uuid;not null;index"`
	Name            string    `gorm:"column:name;not null"`
	Phone           *string   `gorm:"column:phone"`
	Note            *string   `gorm:"column:note"`
	UpdatedArrival  int64     `gorm:"column:updated_arrival;not null;default:0"`
	UpdatedByDevice uuid.UUID `gorm:"column:updated_by_device;type:uuid"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Customer) TableName() string { return "customers" }
