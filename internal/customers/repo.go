package customers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yoeldevsoft25/lacaja-sync/pkg/db/models"
)

// Repository manages persistence for canonical customers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, customer *models.Customer) error
	Get(ctx context.Context, storeID, id uuid.UUID) (*models.Customer, error)
	Save(ctx context.Context, customer *models.Customer) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a customer repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, customer *models.Customer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

func (r *repository) Get(ctx context.Context, storeID, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND id = ?", storeID, id).
		First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *repository) Save(ctx context.Context, customer *models.Customer) error {
	return r.db.WithContext(ctx).Save(customer).Error
}
