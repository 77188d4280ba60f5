package localview

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
)

// SyncStatus distinguishes server-confirmed state from state that is only
// saved locally. The UI must never present "pending" as unconditional
// success.
type SyncStatus string

const (
	StatusSynced  SyncStatus = "synced"
	StatusPending SyncStatus = "pending"
)

// Notifier receives user-visible outcomes. Speculative state is never
// silently abandoned.
type Notifier interface {
	EventRejected(ctx context.Context, eventID uuid.UUID, reason, message string)
}

// CustomerView is the UI-facing customer projection.
type CustomerView struct {
	ID     uuid.UUID
	Name   string
	Phone  string
	Note   string
	Status SyncStatus
}

// DebtView is the UI-facing debt projection in dual currency.
type DebtView struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	AmountUSD  decimal.Decimal
	AmountVES  decimal.Decimal
	Rate       decimal.Decimal
	PaidUSD    decimal.Decimal
	Settled    bool
	Note       string
	Status     SyncStatus
}

type state struct {
	customers map[uuid.UUID]CustomerView
	debts     map[uuid.UUID]DebtView
}

func newState() *state {
	return &state{
		customers: make(map[uuid.UUID]CustomerView),
		debts:     make(map[uuid.UUID]DebtView),
	}
}

func (s *state) clone() *state {
	next := newState()
	for id, c := range s.customers {
		next.customers[id] = c
	}
	for id, d := range s.debts {
		next.debts[id] = d
	}
	return next
}

// View reflects not-yet-confirmed events in the UI immediately. Confirmed
// state and a speculative overlay are kept separately: on ack the event's
// effect is folded into the confirmed base; on reject it is rolled back by
// replaying the remaining overlay.
type View struct {
	mu          sync.Mutex
	registry    *events.DecoderRegistry
	notifier    Notifier
	confirmed   *state
	speculative []events.Event
}

func New(registry *events.DecoderRegistry, notifier Notifier) (*View, error) {
	if registry == nil {
		return nil, errors.New("decoder registry is required")
	}
	return &View{
		registry:  registry,
		notifier:  notifier,
		confirmed: newState(),
	}, nil
}

// Apply overlays an enqueued event onto the view. Called synchronously with
// enqueue for instant feedback; the entry shows as pending until acked.
func (v *View) Apply(event events.Event) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	// Validate eagerly so a malformed event fails at enqueue time, not at
	// reconcile time.
	if _, err := v.registry.Decode(event.Type, event.Version, event.Payload); err != nil {
		return err
	}
	v.speculative = append(v.speculative, event)
	return nil
}

// Confirm folds an acknowledged event into the confirmed base. Visually a
// no-op: the materialized state is unchanged except the sync status flips.
func (v *View) Confirm(eventID uuid.UUID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, event := range v.speculative {
		if event.EventID == eventID {
			v.applyTo(v.confirmed, event, StatusSynced)
			v.speculative = append(v.speculative[:i], v.speculative[i+1:]...)
			return
		}
	}
}

// Reject rolls the speculative entry back and raises an explicit,
// user-visible error.
func (v *View) Reject(ctx context.Context, eventID uuid.UUID, reason, message string) {
	v.mu.Lock()
	for i, event := range v.speculative {
		if event.EventID == eventID {
			v.speculative = append(v.speculative[:i], v.speculative[i+1:]...)
			break
		}
	}
	v.mu.Unlock()
	if v.notifier != nil {
		v.notifier.EventRejected(ctx, eventID, reason, message)
	}
}

// Restore replays still-queued events after a restart so speculative state
// survives instead of vanishing.
func (v *View) Restore(queued []events.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speculative = append([]events.Event(nil), queued...)
}

// Customer returns the materialized customer view.
func (v *View) Customer(id uuid.UUID) (CustomerView, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.materialize()
	customer, ok := s.customers[id]
	return customer, ok
}

// Debt returns the materialized debt view.
func (v *View) Debt(id uuid.UUID) (DebtView, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.materialize()
	debt, ok := s.debts[id]
	return debt, ok
}

// PendingCount reports how many speculative events await acknowledgment.
func (v *View) PendingCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.speculative)
}

func (v *View) materialize() *state {
	s := v.confirmed.clone()
	for _, event := range v.speculative {
		v.applyTo(s, event, StatusPending)
	}
	return s
}

func (v *View) applyTo(s *state, event events.Event, status SyncStatus) {
	decoded, err := v.registry.Decode(event.Type, event.Version, event.Payload)
	if err != nil {
		// Already validated at Apply; a decode failure here means the local
		// store was edited out from under us. Drop rather than panic.
		return
	}
	switch payload := decoded.(type) {
	case events.CustomerCreated:
		s.customers[payload.CustomerID] = CustomerView{
			ID:     payload.CustomerID,
			Name:   payload.Name,
			Phone:  payload.Phone,
			Note:   payload.Note,
			Status: status,
		}
	case events.CustomerUpdated:
		customer, ok := s.customers[payload.CustomerID]
		if !ok {
			return
		}
		customer.Name = payload.Name
		customer.Phone = payload.Phone
		customer.Note = payload.Note
		customer.Status = status
		s.customers[payload.CustomerID] = customer
	case events.DebtCreated:
		s.debts[payload.DebtID] = DebtView{
			ID:         payload.DebtID,
			CustomerID: payload.CustomerID,
			AmountUSD:  payload.AmountUSD,
			AmountVES:  payload.AmountUSD.Mul(payload.Rate.Rate).RoundBank(2),
			Rate:       payload.Rate.Rate,
			PaidUSD:    decimal.Zero,
			Note:       payload.Note,
			Status:     status,
		}
	case events.DebtPaymentAdded:
		debt, ok := s.debts[payload.DebtID]
		if !ok {
			return
		}
		debt.PaidUSD = debt.PaidUSD.Add(payload.AmountUSD)
		if debt.PaidUSD.GreaterThanOrEqual(debt.AmountUSD) {
			debt.Settled = true
		}
		debt.Status = status
		s.debts[payload.DebtID] = debt
	case events.DebtNoteChanged:
		debt, ok := s.debts[payload.DebtID]
		if !ok {
			return
		}
		debt.Note = payload.Note
		debt.Status = status
		s.debts[payload.DebtID] = debt
	}
}

// SeedConfirmed installs server-fetched state as the confirmed base, e.g.
// after login or a reconciliation fetch.
func (v *View) SeedConfirmed(customers []CustomerView, debts []DebtView) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.confirmed = newState()
	for _, customer := range customers {
		customer.Status = StatusSynced
		v.confirmed.customers[customer.ID] = customer
	}
	for _, debt := range debts {
		debt.Status = StatusSynced
		v.confirmed.debts[debt.ID] = debt
	}
}
