package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/yoeldevsoft25/lacaja-sync/pkg/db/models"
)

// Queries reads the sync bookkeeping tables for the inspection endpoints.
type Queries struct {
	db dbClient
}

func NewQueries(db dbClient) (*Queries, error) {
	if db == nil {
		return nil, errors.New("database client is required")
	}
	return &Queries{db: db}, nil
}

// ListDeadLetters returns terminally rejected events for a store, newest
// first.
func (q *Queries) ListDeadLetters(ctx context.Context, storeID uuid.UUID, limit int) ([]models.SyncDeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.SyncDeadLetter
	err := q.db.DB().WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("failed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	return rows, nil
}

// ListCursors returns the last accepted sequence per device for a store.
func (q *Queries) ListCursors(ctx context.Context, storeID uuid.UUID) ([]models.DeviceCursor, error) {
	var rows []models.DeviceCursor
	err := q.db.DB().WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("device_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing device cursors: %w", err)
	}
	return rows, nil
}
