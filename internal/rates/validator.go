package rates

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/yoeldevsoft25/lacaja-sync/pkg/db/models"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
)

// Validator bounds client-submitted rate snapshots against the server's own
// last known rate. Implausible values are a semantic conflict, not something
// to silently trust.
type Validator struct {
	db      *gorm.DB
	bandPct int64
}

// NewValidator builds a validator with the given plausibility band in
// percent (e.g. 20 accepts rates within ±20% of the last accepted one).
func NewValidator(db *gorm.DB, bandPct int) (*Validator, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if bandPct <= 0 || bandPct >= 100 {
		return nil, fmt.Errorf("band percent must be in (0,100), got %d", bandPct)
	}
	return &Validator{db: db, bandPct: int64(bandPct)}, nil
}

// WithTx returns a validator bound to the provided transaction.
func (v *Validator) WithTx(tx *gorm.DB) *Validator {
	if tx == nil {
		return v
	}
	return &Validator{db: tx, bandPct: v.bandPct}
}

// Check validates the snapshot against the store's last accepted rate and
// records it on success. The first rate a store ever submits is accepted as
// the baseline.
func (v *Validator) Check(ctx context.Context, storeID uuid.UUID, snapshot events.RateSnapshot) error {
	if snapshot.Rate.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("rate must be positive, got %s", snapshot.Rate)
	}

	var last models.RateHistory
	err := v.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("id DESC").
		First(&last).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// first rate for this store; accept as baseline
	case err != nil:
		return err
	default:
		band := last.Rate.Mul(decimal.NewFromInt(v.bandPct)).Div(decimal.NewFromInt(100))
		low := last.Rate.Sub(band)
		high := last.Rate.Add(band)
		if snapshot.Rate.LessThan(low) || snapshot.Rate.GreaterThan(high) {
			return fmt.Errorf("rate %s outside plausible band [%s, %s]", snapshot.Rate, low, high)
		}
	}

	record := models.RateHistory{
		StoreID:   storeID,
		Rate:      snapshot.Rate,
		FetchedAt: snapshot.RateFetchedAt,
	}
	return v.db.WithContext(ctx).Create(&record).Error
}
