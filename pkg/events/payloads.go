package events

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payload schema version 1 for every type below. The payload must describe
// the full mutation with no dependency on ephemeral local state: entity ids
// are client-generated so an offline create can be referenced by later
// offline events.

type CustomerCreated struct {
	CustomerID uuid.UUID `json:"customer_id" validate:"required"`
	Name       string    `json:"name" validate:"required,max=200"`
	Phone      string    `json:"phone,omitempty" validate:"omitempty,max=32"`
	Note       string    `json:"note,omitempty" validate:"omitempty,max=2000"`
}

type CustomerUpdated struct {
	CustomerID uuid.UUID `json:"customer_id" validate:"required"`
	Name       string    `json:"name" validate:"required,max=200"`
	Phone      string    `json:"phone,omitempty" validate:"omitempty,max=32"`
	Note       string    `json:"note,omitempty" validate:"omitempty,max=2000"`
}

type DebtCreated struct {
	DebtID     uuid.UUID       `json:"debt_id" validate:"required"`
	CustomerID uuid.UUID       `json:"customer_id" validate:"required"`
	AmountUSD  decimal.Decimal `json:"amount_usd" validate:"required"`
	Note       string          `json:"note,omitempty" validate:"omitempty,max=2000"`
	Rate       RateSnapshot    `json:"rate_snapshot" validate:"required"`
}

type DebtPaymentAdded struct {
	PaymentID uuid.UUID       `json:"payment_id" validate:"required"`
	DebtID    uuid.UUID       `json:"debt_id" validate:"required"`
	AmountUSD decimal.Decimal `json:"amount_usd" validate:"required"`
	Rate      RateSnapshot    `json:"rate_snapshot" validate:"required"`
}

type DebtNoteChanged struct {
	DebtID uuid.UUID `json:"debt_id" validate:"required"`
	Note   string    `json:"note" validate:"max=2000"`
}
