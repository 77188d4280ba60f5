package debts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yoeldevsoft25/lacaja-sync/pkg/db/models"
)

// Repository manages persistence for debts and their payment records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, debt *models.Debt) error
	Get(ctx context.Context, storeID, id uuid.UUID) (*models.Debt, error)
	Save(ctx context.Context, debt *models.Debt) error
	AddPayment(ctx context.Context, payment *models.DebtPayment) error
	HasPaymentForEvent(ctx context.Context, eventID uuid.UUID) (bool, error)
	ListPayments(ctx context.Context, debtID uuid.UUID) ([]models.DebtPayment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a debt repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, debt *models.Debt) error {
	return r.db.WithContext(ctx).Create(debt).Error
}

func (r *repository) Get(ctx context.Context, storeID, id uuid.UUID) (*models.Debt, error) {
	var debt models.Debt
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND id = ?", storeID, id).
		First(&debt).Error
	if err != nil {
		return nil, err
	}
	return &debt, nil
}

func (r *repository) Save(ctx context.Context, debt *models.Debt) error {
	return r.db.WithContext(ctx).Save(debt).Error
}

func (r *repository) AddPayment(ctx context.Context, payment *models.DebtPayment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) HasPaymentForEvent(ctx context.Context, eventID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DebtPayment{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) ListPayments(ctx context.Context, debtID uuid.UUID) ([]models.DebtPayment, error) {
	var payments []models.DebtPayment
	err := r.db.WithContext(ctx).
		Where("debt_id = ?", debtID).
		Order("created_at ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
