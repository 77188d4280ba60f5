package ingest

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yoeldevsoft25/lacaja-sync/internal/customers"
	"github.com/yoeldevsoft25/lacaja-sync/internal/debts"
	"github.com/yoeldevsoft25/lacaja-sync/internal/projector"
	"github.com/yoeldevsoft25/lacaja-sync/internal/rates"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/config"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/db"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/db/models"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/logger"
)

type harness struct {
	guard   *Guard
	client  *db.Client
	storeID uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	client, err := db.New(ctx, config.DBConfig{
		DSN:          filepath.Join(t.TempDir(), "server.db"),
		Driver:       "sqlite",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, nil)
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	err = client.DB().AutoMigrate(
		&models.Customer{},
		&models.Debt{},
		&models.DebtPayment{},
		&models.AppliedEvent{},
		&models.DeviceCursor{},
		&models.SyncDeadLetter{},
		&models.RateHistory{},
	)
	if err != nil {
		t.Fatalf("migrating: %v", err)
	}

	rateValidator, err := rates.NewValidator(client.DB(), 20)
	if err != nil {
		t.Fatalf("rate validator: %v", err)
	}
	proj, err := projector.New(projector.Params{
		Registry:      events.DefaultRegistry(),
		Customers:     customers.NewRepository(client.DB()),
		Debts:         debts.NewRepository(client.DB()),
		RateValidator: rateValidator,
	})
	if err != nil {
		t.Fatalf("projector: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	guard, err := NewGuard(GuardParams{
		DB:        client,
		Projector: proj,
		Logger:    logg,
	})
	if err != nil {
		t.Fatalf("guard: %v", err)
	}

	return &harness{guard: guard, client: client, storeID: uuid.New()}
}

func (h *harness) event(t *testing.T, deviceID uuid.UUID, seq int64, eventType events.Type, payload any) events.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	return events.Event{
		EventID:   uuid.New(),
		Type:      eventType,
		Payload:   raw,
		CreatedAt: time.Now().UnixMilli(),
		Seq:       seq,
		StoreID:   h.storeID,
		DeviceID:  deviceID,
		Version:   1,
		Actor:     events.ActorRef{UserID: uuid.New(), Role: "cashier"},
	}
}

func (h *harness) receive(t *testing.T, evts ...events.Event) []events.Outcome {
	t.Helper()
	resp, err := h.guard.Receive(context.Background(), events.BatchRequest{StoreID: h.storeID, Events: evts})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return resp.Results
}

func rateSnapshot(rate string) events.RateSnapshot {
	return events.RateSnapshot{Rate: decimal.RequireFromString(rate), RateFetchedAt: time.Now()}
}

func (h *harness) cursor(t *testing.T, deviceID uuid.UUID) int64 {
	t.Helper()
	var cursor models.DeviceCursor
	err := h.client.DB().
		Where("store_id = ? AND device_id = ?", h.storeID, deviceID).
		First(&cursor).Error
	if err != nil {
		t.Fatalf("loading cursor: %v", err)
	}
	return cursor.LastSeq
}

func TestBatchAppliesAndAdvancesCursor(t *testing.T) {
	h := newHarness(t)
	deviceID := uuid.New()
	customerID := uuid.New()
	debtID := uuid.New()

	results := h.receive(t,
		h.event(t, deviceID, 1, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: customerID, Name: "Maria"}),
		h.event(t, deviceID, 2, events.TypeDebtCreated, events.DebtCreated{
			DebtID: debtID, CustomerID: customerID,
			AmountUSD: decimal.RequireFromString("10"), Rate: rateSnapshot("100"),
		}),
		h.event(t, deviceID, 3, events.TypeDebtPaymentAdded, events.DebtPaymentAdded{
			PaymentID: uuid.New(), DebtID: debtID,
			AmountUSD: decimal.RequireFromString("4"), Rate: rateSnapshot("100"),
		}),
	)

	for i, outcome := range results {
		if outcome.Status != events.StatusApplied {
			t.Fatalf("event %d: expected applied, got %s (%s)", i, outcome.Status, outcome.Reason)
		}
	}
	if got := h.cursor(t, deviceID); got != 3 {
		t.Fatalf("expected cursor 3, got %d", got)
	}

	var debt models.Debt
	if err := h.client.DB().First(&debt, "id = ?", debtID).Error; err != nil {
		t.Fatalf("loading debt: %v", err)
	}
	if !debt.PaidUSD.Equal(decimal.RequireFromString("4")) {
		t.Fatalf("expected paid 4, got %s", debt.PaidUSD)
	}
	// VES amount frozen from the event's rate snapshot, never recomputed.
	if !debt.AmountVES.Equal(decimal.RequireFromString("1000")) {
		t.Fatalf("expected amount_ves 1000, got %s", debt.AmountVES)
	}
}

func TestDuplicateReplayReturnsRecordedOutcome(t *testing.T) {
	h := newHarness(t)
	deviceID := uuid.New()
	customerID := uuid.New()

	created := h.event(t, deviceID, 1, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: customerID, Name: "Maria"})

	first := h.receive(t, created)
	if first[0].Status != events.StatusApplied {
		t.Fatalf("expected applied, got %s", first[0].Status)
	}

	// Ack lost, client resubmits the identical event.
	second := h.receive(t, created)
	if second[0].Status != events.StatusDuplicate {
		t.Fatalf("expected duplicate, got %s", second[0].Status)
	}
	if second[0].Recorded != events.StatusApplied {
		t.Fatalf("duplicate must carry the recorded status, got %s", second[0].Recorded)
	}

	var count int64
	if err := h.client.DB().Model(&models.Customer{}).Count(&count).Error; err != nil {
		t.Fatalf("counting customers: %v", err)
	}
	if count != 1 {
		t.Fatalf("replay must not double-apply, got %d customers", count)
	}
}

func TestSequenceGapIsWithheld(t *testing.T) {
	h := newHarness(t)
	deviceID := uuid.New()
	customerID := uuid.New()

	h.receive(t, h.event(t, deviceID, 1, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: customerID, Name: "Maria"}))

	// seq 2 never arrives; seq 3 must be withheld without consuming anything.
	gapped := h.event(t, deviceID, 3, events.TypeCustomerUpdated, events.CustomerUpdated{CustomerID: customerID, Name: "Maria R."})
	results := h.receive(t, gapped)
	if results[0].Status != events.StatusRejected || results[0].Reason != events.ReasonSequenceGap {
		t.Fatalf("expected rejected/sequence_gap, got %s/%s", results[0].Status, results[0].Reason)
	}
	if got := h.cursor(t, deviceID); got != 1 {
		t.Fatalf("gap must not advance the cursor, got %d", got)
	}

	// After resync the client resubmits the full range in order.
	results = h.receive(t,
		h.event(t, deviceID, 2, events.TypeCustomerUpdated, events.CustomerUpdated{CustomerID: customerID, Name: "Maria Rivas"}),
		gapped,
	)
	for i, outcome := range results {
		if outcome.Status != events.StatusApplied {
			t.Fatalf("resynced event %d: expected applied, got %s (%s)", i, outcome.Status, outcome.Reason)
		}
	}
	if got := h.cursor(t, deviceID); got != 3 {
		t.Fatalf("expected cursor 3 after resync, got %d", got)
	}
}

func TestSequenceReplayWithUnknownEventIsRejected(t *testing.T) {
	h := newHarness(t)
	deviceID := uuid.New()

	h.receive(t, h.event(t, deviceID, 1, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: uuid.New(), Name: "Maria"}))

	// A different event claiming an already-consumed seq is corruption, not a
	// retry.
	rogue := h.event(t, deviceID, 1, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: uuid.New(), Name: "Pedro"})
	results := h.receive(t, rogue)
	if results[0].Status != events.StatusRejected || results[0].Reason != events.ReasonSequenceReplay {
		t.Fatalf("expected rejected/sequence_replay, got %s/%s", results[0].Status, results[0].Reason)
	}
}

func TestPaymentOnSettledDebtIsRejected(t *testing.T) {
	h := newHarness(t)
	deviceA := uuid.New()
	deviceB := uuid.New()
	customerID := uuid.New()
	debtID := uuid.New()

	h.receive(t,
		h.event(t, deviceA, 1, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: customerID, Name: "Maria"}),
		h.event(t, deviceA, 2, events.TypeDebtCreated, events.DebtCreated{
			DebtID: debtID, CustomerID: customerID,
			AmountUSD: decimal.RequireFromString("10"), Rate: rateSnapshot("100"),
		}),
		h.event(t, deviceA, 3, events.TypeDebtPaymentAdded, events.DebtPaymentAdded{
			PaymentID: uuid.New(), DebtID: debtID,
			AmountUSD: decimal.RequireFromString("10"), Rate: rateSnapshot("100"),
		}),
	)

	// Device B recorded a payment offline before it learned the debt settled.
	results := h.receive(t, h.event(t, deviceB, 1, events.TypeDebtPaymentAdded, events.DebtPaymentAdded{
		PaymentID: uuid.New(), DebtID: debtID,
		AmountUSD: decimal.RequireFromString("5"), Rate: rateSnapshot("100"),
	}))
	if results[0].Status != events.StatusRejected || results[0].Reason != events.ReasonDebtSettled {
		t.Fatalf("expected rejected/debt_settled, got %s/%s", results[0].Status, results[0].Reason)
	}

	// Terminal rejection still consumes the sequence slot and leaves an
	// inspectable record.
	if got := h.cursor(t, deviceB); got != 1 {
		t.Fatalf("expected cursor 1 for device B, got %d", got)
	}
	var letters int64
	if err := h.client.DB().Model(&models.SyncDeadLetter{}).Count(&letters).Error; err != nil {
		t.Fatalf("counting dead letters: %v", err)
	}
	if letters != 1 {
		t.Fatalf("expected 1 dead letter, got %d", letters)
	}
}

func TestOverpaymentIsRejected(t *testing.T) {
	h := newHarness(t)
	deviceID := uuid.New()
	customerID := uuid.New()
	debtID := uuid.New()

	h.receive(t,
		h.event(t, deviceID, 1, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: customerID, Name: "Maria"}),
		h.event(t, deviceID, 2, events.TypeDebtCreated, events.DebtCreated{
			DebtID: debtID, CustomerID: customerID,
			AmountUSD: decimal.RequireFromString("10"), Rate: rateSnapshot("100"),
		}),
	)

	results := h.receive(t, h.event(t, deviceID, 3, events.TypeDebtPaymentAdded, events.DebtPaymentAdded{
		PaymentID: uuid.New(), DebtID: debtID,
		AmountUSD: decimal.RequireFromString("10.01"), Rate: rateSnapshot("100"),
	}))
	if results[0].Status != events.StatusRejected || results[0].Reason != events.ReasonOverpayment {
		t.Fatalf("expected rejected/overpayment, got %s/%s", results[0].Status, results[0].Reason)
	}
}

func TestConcurrentPaymentsFromTwoDevicesBothApply(t *testing.T) {
	h := newHarness(t)
	deviceA := uuid.New()
	deviceB := uuid.New()
	customerID := uuid.New()
	debtID := uuid.New()

	h.receive(t,
		h.event(t, deviceA, 1, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: customerID, Name: "Maria"}),
		h.event(t, deviceA, 2, events.TypeDebtCreated, events.DebtCreated{
			DebtID: debtID, CustomerID: customerID,
			AmountUSD: decimal.RequireFromString("10"), Rate: rateSnapshot("100"),
		}),
	)

	// Append-class events from different devices commute: both payments land
	// regardless of which device synced first.
	a := h.receive(t, h.event(t, deviceA, 3, events.TypeDebtPaymentAdded, events.DebtPaymentAdded{
		PaymentID: uuid.New(), DebtID: debtID,
		AmountUSD: decimal.RequireFromString("3"), Rate: rateSnapshot("100"),
	}))
	b := h.receive(t, h.event(t, deviceB, 1, events.TypeDebtPaymentAdded, events.DebtPaymentAdded{
		PaymentID: uuid.New(), DebtID: debtID,
		AmountUSD: decimal.RequireFromString("4"), Rate: rateSnapshot("100"),
	}))
	if a[0].Status != events.StatusApplied || b[0].Status != events.StatusApplied {
		t.Fatalf("expected both payments applied, got %s and %s", a[0].Status, b[0].Status)
	}

	var debt models.Debt
	if err := h.client.DB().First(&debt, "id = ?", debtID).Error; err != nil {
		t.Fatalf("loading debt: %v", err)
	}
	if !debt.PaidUSD.Equal(decimal.RequireFromString("7")) {
		t.Fatalf("expected paid 7, got %s", debt.PaidUSD)
	}
	if debt.Settled {
		t.Fatal("debt must not be settled at 7 of 10")
	}
}

func TestReplaceClassLastArrivalWins(t *testing.T) {
	h := newHarness(t)
	deviceA := uuid.New()
	deviceB := uuid.New()
	customerID := uuid.New()

	h.receive(t, h.event(t, deviceA, 1, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: customerID, Name: "Maria"}))

	// Device A's update was created later on the wall clock but arrives
	// first; device B's earlier edit arrives second and still wins, because
	// arrival order decides, never client time.
	h.receive(t, h.event(t, deviceA, 2, events.TypeCustomerUpdated, events.CustomerUpdated{CustomerID: customerID, Name: "Maria A"}))
	h.receive(t, h.event(t, deviceB, 1, events.TypeCustomerUpdated, events.CustomerUpdated{CustomerID: customerID, Name: "Maria B"}))

	var customer models.Customer
	if err := h.client.DB().First(&customer, "id = ?", customerID).Error; err != nil {
		t.Fatalf("loading customer: %v", err)
	}
	if customer.Name != "Maria B" {
		t.Fatalf("expected last arrival to win, got %q", customer.Name)
	}
}

func TestImplausibleRateIsRejected(t *testing.T) {
	h := newHarness(t)
	deviceID := uuid.New()
	customerID := uuid.New()

	h.receive(t,
		h.event(t, deviceID, 1, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: customerID, Name: "Maria"}),
		h.event(t, deviceID, 2, events.TypeDebtCreated, events.DebtCreated{
			DebtID: uuid.New(), CustomerID: customerID,
			AmountUSD: decimal.RequireFromString("10"), Rate: rateSnapshot("100"),
		}),
	)

	results := h.receive(t, h.event(t, deviceID, 3, events.TypeDebtCreated, events.DebtCreated{
		DebtID: uuid.New(), CustomerID: customerID,
		AmountUSD: decimal.RequireFromString("10"), Rate: rateSnapshot("200"),
	}))
	if results[0].Status != events.StatusRejected || results[0].Reason != events.ReasonImplausibleRate {
		t.Fatalf("expected rejected/implausible_rate, got %s/%s", results[0].Status, results[0].Reason)
	}
}

func TestStoreMismatchIsRejected(t *testing.T) {
	h := newHarness(t)
	deviceID := uuid.New()

	rogue := h.event(t, deviceID, 1, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: uuid.New(), Name: "Maria"})
	rogue.StoreID = uuid.New()

	resp, err := h.guard.Receive(context.Background(), events.BatchRequest{StoreID: h.storeID, Events: []events.Event{rogue}})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if resp.Results[0].Status != events.StatusRejected || resp.Results[0].Reason != events.ReasonStoreMismatch {
		t.Fatalf("expected rejected/store_mismatch, got %s/%s", resp.Results[0].Status, resp.Results[0].Reason)
	}
}

func TestDuplicateEntityRejectsWithoutPoisoningBatch(t *testing.T) {
	h := newHarness(t)
	deviceID := uuid.New()
	customerID := uuid.New()
	otherID := uuid.New()

	results := h.receive(t,
		h.event(t, deviceID, 1, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: customerID, Name: "Maria"}),
		h.event(t, deviceID, 2, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: customerID, Name: "Maria again"}),
		h.event(t, deviceID, 3, events.TypeCustomerCreated, events.CustomerCreated{CustomerID: otherID, Name: "Pedro"}),
	)

	if results[0].Status != events.StatusApplied {
		t.Fatalf("first create should apply, got %s/%s", results[0].Status, results[0].Reason)
	}
	if results[1].Status != events.StatusRejected || results[1].Reason != events.ReasonDuplicateEntity {
		t.Fatalf("expected rejected/duplicate_entity, got %s/%s", results[1].Status, results[1].Reason)
	}
	// The rejection must not abort the shared transaction: the event after it
	// still applies and the batch commits.
	if results[2].Status != events.StatusApplied {
		t.Fatalf("event after the rejection should apply, got %s/%s", results[2].Status, results[2].Reason)
	}

	if got := h.cursor(t, deviceID); got != 3 {
		t.Fatalf("expected cursor 3, got %d", got)
	}

	var customer models.Customer
	if err := h.client.DB().First(&customer, "id = ?", customerID).Error; err != nil {
		t.Fatalf("loading customer: %v", err)
	}
	if customer.Name != "Maria" {
		t.Fatalf("duplicate create must not overwrite, got %q", customer.Name)
	}

	var letters []models.SyncDeadLetter
	if err := h.client.DB().Find(&letters).Error; err != nil {
		t.Fatalf("loading dead letters: %v", err)
	}
	if len(letters) != 1 || letters[0].Reason != events.ReasonDuplicateEntity {
		t.Fatalf("expected one duplicate_entity dead letter, got %+v", letters)
	}
}
