package projector

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/yoeldevsoft25/lacaja-sync/internal/customers"
	"github.com/yoeldevsoft25/lacaja-sync/internal/debts"
	"github.com/yoeldevsoft25/lacaja-sync/internal/rates"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/db"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/db/models"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
)

// Projector turns the per-device-ordered event stream into updates on
// canonical entities. Append-class events commute across devices;
// replace-class events resolve last-write-wins by server arrival order with
// device_id as a deterministic tiebreak. Client created_at is never
// consulted.
type Projector struct {
	registry  *events.DecoderRegistry
	customers customers.Repository
	debts     debts.Repository
	rates     *rates.Validator
}

type Params struct {
	Registry      *events.DecoderRegistry
	Customers     customers.Repository
	Debts         debts.Repository
	RateValidator *rates.Validator
}

func New(params Params) (*Projector, error) {
	if params.Registry == nil {
		return nil, errors.New("decoder registry is required")
	}
	if params.Customers == nil {
		return nil, errors.New("customer repository is required")
	}
	if params.Debts == nil {
		return nil, errors.New("debt repository is required")
	}
	if params.RateValidator == nil {
		return nil, errors.New("rate validator is required")
	}
	return &Projector{
		registry:  params.Registry,
		customers: params.Customers,
		debts:     params.Debts,
		rates:     params.RateValidator,
	}, nil
}

// Apply projects one event inside the provided transaction. arrivalSeq is
// the server arrival order already assigned to the event's idempotency
// record. A returned *Rejection is terminal for the event but must not
// abort the transaction; any other error must.
func (p *Projector) Apply(ctx context.Context, tx *gorm.DB, event events.Event, arrivalSeq int64) error {
	if !event.Type.IsValid() {
		return reject(events.ReasonUnknownType, "no handler for type %q", event.Type)
	}

	decoded, err := p.registry.Decode(event.Type, event.Version, event.Payload)
	if err != nil {
		return reject(events.ReasonValidation, "decoding payload: %v", err)
	}

	// The declared merge class routes the event: append-class handlers are
	// commutative inserts, replace-class handlers go through LWW.
	class, err := events.MergeClassFor(event.Type)
	if err != nil {
		return reject(events.ReasonUnknownType, "no merge class for type %q", event.Type)
	}

	switch class {
	case events.MergeAppend:
		switch payload := decoded.(type) {
		case events.CustomerCreated:
			return p.applyCustomerCreated(ctx, tx, event, payload)
		case events.DebtCreated:
			return p.applyDebtCreated(ctx, tx, event, payload)
		case events.DebtPaymentAdded:
			return p.applyDebtPaymentAdded(ctx, tx, event, payload)
		}
	case events.MergeReplace:
		switch payload := decoded.(type) {
		case events.CustomerUpdated:
			return p.applyCustomerUpdated(ctx, tx, event, payload, arrivalSeq)
		case events.DebtNoteChanged:
			return p.applyDebtNoteChanged(ctx, tx, event, payload, arrivalSeq)
		}
	}
	return reject(events.ReasonUnknownType, "no %s-class handler for %T", class, decoded)
}

func (p *Projector) applyCustomerCreated(ctx context.Context, tx *gorm.DB, event events.Event, payload events.CustomerCreated) error {
	// Existence is checked with a read, not by letting the INSERT hit the
	// constraint: a failed statement aborts the whole batch transaction on
	// postgres and would poison every retry of the batch.
	_, err := p.customers.WithTx(tx).Get(ctx, event.StoreID, payload.CustomerID)
	if err == nil {
		return reject(events.ReasonDuplicateEntity, "customer %s already exists", payload.CustomerID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("checking for existing customer: %w", err)
	}

	customer := &models.Customer{
		ID:              payload.CustomerID,
		StoreID:         event.StoreID,
		Name:            payload.Name,
		UpdatedByDevice: event.DeviceID,
	}
	if payload.Phone != "" {
		customer.Phone = &payload.Phone
	}
	if payload.Note != "" {
		customer.Note = &payload.Note
	}
	if err := p.customers.WithTx(tx).Create(ctx, customer); err != nil {
		if db.IsUniqueViolation(err, "") {
			return fmt.Errorf("customer %s inserted concurrently: %w", payload.CustomerID, err)
		}
		return fmt.Errorf("creating customer: %w", err)
	}
	return nil
}

func (p *Projector) applyCustomerUpdated(ctx context.Context, tx *gorm.DB, event events.Event, payload events.CustomerUpdated, arrivalSeq int64) error {
	customer, err := p.customers.WithTx(tx).Get(ctx, event.StoreID, payload.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reject(events.ReasonUnknownTarget, "customer %s not found", payload.CustomerID)
		}
		return fmt.Errorf("loading customer: %w", err)
	}

	if losesLWW(customer.UpdatedArrival, customer.UpdatedByDevice.String(), arrivalSeq, event.DeviceID.String()) {
		return nil
	}

	customer.Name = payload.Name
	customer.Phone = nil
	if payload.Phone != "" {
		customer.Phone = &payload.Phone
	}
	customer.Note = nil
	if payload.Note != "" {
		customer.Note = &payload.Note
	}
	customer.UpdatedArrival = arrivalSeq
	customer.UpdatedByDevice = event.DeviceID
	if err := p.customers.WithTx(tx).Save(ctx, customer); err != nil {
		return fmt.Errorf("saving customer: %w", err)
	}
	return nil
}

func (p *Projector) applyDebtCreated(ctx context.Context, tx *gorm.DB, event events.Event, payload events.DebtCreated) error {
	_, err := p.debts.WithTx(tx).Get(ctx, event.StoreID, payload.DebtID)
	if err == nil {
		return reject(events.ReasonDuplicateEntity, "debt %s already exists", payload.DebtID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("checking for existing debt: %w", err)
	}

	if err := p.rates.WithTx(tx).Check(ctx, event.StoreID, payload.Rate); err != nil {
		return reject(events.ReasonImplausibleRate, "%v", err)
	}

	debt := &models.Debt{
		ID:              payload.DebtID,
		StoreID:         event.StoreID,
		CustomerID:      payload.CustomerID,
		AmountUSD:       payload.AmountUSD,
		AmountVES:       secondaryAmount(payload.AmountUSD, payload.Rate.Rate),
		Rate:            payload.Rate.Rate,
		RateFetchedAt:   payload.Rate.RateFetchedAt,
		PaidUSD:         decimal.Zero,
		UpdatedByDevice: event.DeviceID,
	}
	if payload.Note != "" {
		debt.Note = &payload.Note
	}
	if err := p.debts.WithTx(tx).Create(ctx, debt); err != nil {
		if db.IsUniqueViolation(err, "") {
			return fmt.Errorf("debt %s inserted concurrently: %w", payload.DebtID, err)
		}
		return fmt.Errorf("creating debt: %w", err)
	}
	return nil
}

func (p *Projector) applyDebtPaymentAdded(ctx context.Context, tx *gorm.DB, event events.Event, payload events.DebtPaymentAdded) error {
	debt, err := p.debts.WithTx(tx).Get(ctx, event.StoreID, payload.DebtID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reject(events.ReasonUnknownTarget, "debt %s not found", payload.DebtID)
		}
		return fmt.Errorf("loading debt: %w", err)
	}
	if debt.Settled {
		return reject(events.ReasonDebtSettled, "debt %s is already settled", debt.ID)
	}
	if payload.AmountUSD.GreaterThan(debt.Remaining()) {
		return reject(events.ReasonOverpayment, "payment %s exceeds remaining %s", payload.AmountUSD, debt.Remaining())
	}
	if err := p.rates.WithTx(tx).Check(ctx, event.StoreID, payload.Rate); err != nil {
		return reject(events.ReasonImplausibleRate, "%v", err)
	}
	exists, err := p.debts.WithTx(tx).HasPaymentForEvent(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("checking for existing payment: %w", err)
	}
	if exists {
		return reject(events.ReasonDuplicateEntity, "payment for event %s already recorded", event.EventID)
	}

	payment := &models.DebtPayment{
		ID:            payload.PaymentID,
		DebtID:        debt.ID,
		StoreID:       event.StoreID,
		EventID:       event.EventID,
		DeviceID:      event.DeviceID,
		AmountUSD:     payload.AmountUSD,
		AmountVES:     secondaryAmount(payload.AmountUSD, payload.Rate.Rate),
		Rate:          payload.Rate.Rate,
		RateFetchedAt: payload.Rate.RateFetchedAt,
	}
	if err := p.debts.WithTx(tx).AddPayment(ctx, payment); err != nil {
		if db.IsUniqueViolation(err, "") {
			return fmt.Errorf("payment for event %s inserted concurrently: %w", event.EventID, err)
		}
		return fmt.Errorf("recording payment: %w", err)
	}

	debt.PaidUSD = debt.PaidUSD.Add(payload.AmountUSD)
	if debt.PaidUSD.GreaterThanOrEqual(debt.AmountUSD) {
		debt.Settled = true
	}
	if err := p.debts.WithTx(tx).Save(ctx, debt); err != nil {
		return fmt.Errorf("saving debt: %w", err)
	}
	return nil
}

func (p *Projector) applyDebtNoteChanged(ctx context.Context, tx *gorm.DB, event events.Event, payload events.DebtNoteChanged, arrivalSeq int64) error {
	debt, err := p.debts.WithTx(tx).Get(ctx, event.StoreID, payload.DebtID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return reject(events.ReasonUnknownTarget, "debt %s not found", payload.DebtID)
		}
		return fmt.Errorf("loading debt: %w", err)
	}

	if losesLWW(debt.UpdatedArrival, debt.UpdatedByDevice.String(), arrivalSeq, event.DeviceID.String()) {
		return nil
	}

	debt.Note = nil
	if payload.Note != "" {
		debt.Note = &payload.Note
	}
	debt.UpdatedArrival = arrivalSeq
	debt.UpdatedByDevice = event.DeviceID
	if err := p.debts.WithTx(tx).Save(ctx, debt); err != nil {
		return fmt.Errorf("saving debt: %w", err)
	}
	return nil
}

// losesLWW reports whether an incoming replace-class write loses against the
// entity's recorded winner. Arrival order decides; equal arrivals (possible
// only on replay) fall back to lexicographic device id.
func losesLWW(recordedArrival int64, recordedDevice string, arrivalSeq int64, deviceID string) bool {
	if recordedArrival != arrivalSeq {
		return recordedArrival > arrivalSeq
	}
	return recordedDevice > deviceID
}

// secondaryAmount derives the VES amount from the rate frozen at event
// creation. Banker's rounding to 2 places, never recomputed later.
func secondaryAmount(usd, rate decimal.Decimal) decimal.Decimal {
	return usd.Mul(rate).RoundBank(2)
}
