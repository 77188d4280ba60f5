package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yoeldevsoft25/lacaja-sync/pkg/db/models"
)

const identityRowID = 1

// Identity is this installation's stable identity. Generated once on first
// boot and persisted for the app's lifetime.
type Identity struct {
	DeviceID uuid.UUID
	StoreID  uuid.UUID
}

// Store persists the single identity row in the terminal-local database.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// LoadOrCreate returns the persisted identity, creating it on first boot.
// storeID is only consulted when the row does not exist yet; afterwards the
// persisted tenant wins and a mismatch is an error rather than a silent
// re-parent.
func (s *Store) LoadOrCreate(ctx context.Context, storeID uuid.UUID) (Identity, error) {
	var row models.DeviceIdentity
	err := s.db.WithContext(ctx).First(&row, "id = ?", identityRowID).Error
	if err == nil {
		if storeID != uuid.Nil && storeID != row.StoreID {
			return Identity{}, fmt.Errorf("device belongs to store %s, not %s", row.StoreID, storeID)
		}
		return Identity{DeviceID: row.DeviceID, StoreID: row.StoreID}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, err
	}
	if storeID == uuid.Nil {
		return Identity{}, errors.New("store id is required on first boot")
	}

	row = models.DeviceIdentity{
		ID:       identityRowID,
		DeviceID: uuid.New(),
		StoreID:  storeID,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Identity{}, fmt.Errorf("persisting device identity: %w", err)
	}
	return Identity{DeviceID: row.DeviceID, StoreID: row.StoreID}, nil
}
