package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yoeldevsoft25/lacaja-sync/internal/eventlog"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/db/models"
	pkgerrors "github.com/yoeldevsoft25/lacaja-sync/pkg/errors"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/logger"
)

type fakeLog struct {
	entries    []eventlog.Entry
	acked      []uuid.UUID
	failed     []uuid.UUID
	requeued   []uuid.UUID
	inFlight   []uuid.UUID
	dead       map[uuid.UUID]string
	recovered  int64
	resyncs    int
	failedErrs []error
}

func newFakeLog(entries ...eventlog.Entry) *fakeLog {
	return &fakeLog{entries: entries, dead: map[uuid.UUID]string{}}
}

func (f *fakeLog) Recover(ctx context.Context) (int64, error) { return f.recovered, nil }

func (f *fakeLog) PeekBatch(ctx context.Context, n int) ([]eventlog.Entry, error) {
	if len(f.entries) > n {
		return f.entries[:n], nil
	}
	return f.entries, nil
}

func (f *fakeLog) MarkInFlight(ctx context.Context, ids []uuid.UUID) error {
	f.inFlight = append(f.inFlight, ids...)
	return nil
}

func (f *fakeLog) Ack(ctx context.Context, eventID uuid.UUID) error {
	f.acked = append(f.acked, eventID)
	f.remove(eventID)
	return nil
}

func (f *fakeLog) MarkFailed(ctx context.Context, ids []uuid.UUID, cause error) error {
	f.failed = append(f.failed, ids...)
	f.failedErrs = append(f.failedErrs, cause)
	for i := range f.entries {
		for _, id := range ids {
			if f.entries[i].Event.EventID == id {
				f.entries[i].Attempts++
			}
		}
	}
	return nil
}

func (f *fakeLog) Requeue(ctx context.Context, ids []uuid.UUID, cause error) error {
	f.requeued = append(f.requeued, ids...)
	return nil
}

func (f *fakeLog) DeadLetter(ctx context.Context, eventID uuid.UUID, reason string, cause error) error {
	f.dead[eventID] = reason
	f.remove(eventID)
	return nil
}

func (f *fakeLog) ResetForResync(ctx context.Context) error {
	f.resyncs++
	return nil
}

func (f *fakeLog) remove(eventID uuid.UUID) {
	for i, entry := range f.entries {
		if entry.Event.EventID == eventID {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return
		}
	}
}

type fakeTransport struct {
	submits   int
	responses []func(events.BatchRequest) (events.BatchResponse, error)
}

func (f *fakeTransport) Submit(ctx context.Context, batch events.BatchRequest) (events.BatchResponse, error) {
	idx := f.submits
	f.submits++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx](batch)
}

func allApplied(batch events.BatchRequest) (events.BatchResponse, error) {
	resp := events.BatchResponse{}
	for _, event := range batch.Events {
		resp.Results = append(resp.Results, events.Outcome{EventID: event.EventID, Status: events.StatusApplied})
	}
	return resp, nil
}

type fakeView struct {
	confirmed []uuid.UUID
	rejected  []uuid.UUID
}

func (f *fakeView) Confirm(eventID uuid.UUID) { f.confirmed = append(f.confirmed, eventID) }

func (f *fakeView) Reject(ctx context.Context, eventID uuid.UUID, reason, message string) {
	f.rejected = append(f.rejected, eventID)
}

func testEntry(seq int64, attempts int) eventlog.Entry {
	payload, _ := json.Marshal(events.CustomerCreated{CustomerID: uuid.New(), Name: "Maria"})
	return eventlog.Entry{
		Event: events.Event{
			EventID:  uuid.New(),
			Type:     events.TypeCustomerCreated,
			Payload:  payload,
			Seq:      seq,
			StoreID:  uuid.New(),
			DeviceID: uuid.New(),
			Version:  1,
			Actor:    events.ActorRef{UserID: uuid.New()},
		},
		State:    models.QueueStatePending,
		Attempts: attempts,
	}
}

func newTestService(t *testing.T, log eventLog, transport Transport, view viewUpdater) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Log:       log,
		Transport: transport,
		View:      view,
		StoreID:   uuid.New(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestFlushAcksAppliedEvents(t *testing.T) {
	first := testEntry(1, 0)
	second := testEntry(2, 0)
	log := newFakeLog(first, second)
	transport := &fakeTransport{responses: []func(events.BatchRequest) (events.BatchResponse, error){allApplied}}
	view := &fakeView{}
	svc := newTestService(t, log, transport, view)

	processed, err := svc.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to be processed")
	}
	if len(log.acked) != 2 {
		t.Fatalf("expected 2 acks, got %d", len(log.acked))
	}
	if len(view.confirmed) != 2 {
		t.Fatalf("expected 2 view confirms, got %d", len(view.confirmed))
	}
	if len(log.entries) != 0 {
		t.Fatalf("queue should drain, %d left", len(log.entries))
	}
}

func TestFlushRequeuesOnTransportError(t *testing.T) {
	entry := testEntry(1, 0)
	log := newFakeLog(entry)
	transport := &fakeTransport{responses: []func(events.BatchRequest) (events.BatchResponse, error){
		func(events.BatchRequest) (events.BatchResponse, error) {
			return events.BatchResponse{}, pkgerrors.New(pkgerrors.CodeDependency, "server unreachable")
		},
	}}
	svc := newTestService(t, log, transport, nil)

	_, err := svc.Flush(context.Background())
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(log.requeued) != 1 {
		t.Fatalf("expected 1 entry requeued, got %d", len(log.requeued))
	}
	if len(log.failed) != 0 {
		t.Fatal("transport failures must not consume the delivery budget")
	}
	if len(log.entries) != 1 {
		t.Fatal("requeued entry must stay queued for retry")
	}
}

func TestOfflineRetriesNeverDeadLetter(t *testing.T) {
	entry := testEntry(1, 0)
	log := newFakeLog(entry)
	transport := &fakeTransport{responses: []func(events.BatchRequest) (events.BatchResponse, error){
		func(events.BatchRequest) (events.BatchResponse, error) {
			return events.BatchResponse{}, pkgerrors.New(pkgerrors.CodeDependency, "connection refused")
		},
	}}
	svc := newTestService(t, log, transport, nil)

	// Well past the delivery budget. Every round fails in transit, so the
	// event keeps waiting for connectivity instead of giving up.
	for i := 0; i < defaultMaxAttempts+5; i++ {
		if _, err := svc.Flush(context.Background()); err == nil {
			t.Fatal("expected transport error")
		}
	}
	if len(log.dead) != 0 {
		t.Fatalf("offline event must never be dead-lettered, got %v", log.dead)
	}
	if len(log.entries) != 1 {
		t.Fatal("offline event must stay queued")
	}
	if log.entries[0].Attempts != 0 {
		t.Fatalf("offline rounds must not accrue attempts, got %d", log.entries[0].Attempts)
	}
}

func TestFlushDeadLettersTerminalRejection(t *testing.T) {
	entry := testEntry(1, 0)
	log := newFakeLog(entry)
	transport := &fakeTransport{responses: []func(events.BatchRequest) (events.BatchResponse, error){
		func(batch events.BatchRequest) (events.BatchResponse, error) {
			return events.BatchResponse{Results: []events.Outcome{{
				EventID: batch.Events[0].EventID,
				Status:  events.StatusRejected,
				Reason:  events.ReasonDebtSettled,
			}}}, nil
		},
	}}
	view := &fakeView{}
	svc := newTestService(t, log, transport, view)

	if _, err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if reason, ok := log.dead[entry.Event.EventID]; !ok || reason != events.ReasonDebtSettled {
		t.Fatalf("expected dead letter with debt_settled, got %v", log.dead)
	}
	if len(view.rejected) != 1 {
		t.Fatal("rejection must roll back the optimistic view")
	}
}

func TestFlushSurfacesRecordedRejectionOnDuplicate(t *testing.T) {
	entry := testEntry(1, 0)
	log := newFakeLog(entry)
	transport := &fakeTransport{responses: []func(events.BatchRequest) (events.BatchResponse, error){
		func(batch events.BatchRequest) (events.BatchResponse, error) {
			return events.BatchResponse{Results: []events.Outcome{{
				EventID:  batch.Events[0].EventID,
				Status:   events.StatusDuplicate,
				Recorded: events.StatusRejected,
				Reason:   events.ReasonDebtSettled,
			}}}, nil
		},
	}}
	view := &fakeView{}
	svc := newTestService(t, log, transport, view)

	if _, err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if reason, ok := log.dead[entry.Event.EventID]; !ok || reason != events.ReasonDebtSettled {
		t.Fatalf("replayed rejection must dead-letter with its recorded reason, got %v", log.dead)
	}
	if len(view.confirmed) != 0 {
		t.Fatal("a recorded rejection must never be confirmed")
	}
	if len(view.rejected) != 1 {
		t.Fatal("the rejection must roll back the optimistic view")
	}
	if len(log.acked) != 0 {
		t.Fatal("a recorded rejection must not be acked as delivered")
	}
}

func TestFlushAcksDuplicateOfAppliedEvent(t *testing.T) {
	entry := testEntry(1, 0)
	log := newFakeLog(entry)
	transport := &fakeTransport{responses: []func(events.BatchRequest) (events.BatchResponse, error){
		func(batch events.BatchRequest) (events.BatchResponse, error) {
			return events.BatchResponse{Results: []events.Outcome{{
				EventID:  batch.Events[0].EventID,
				Status:   events.StatusDuplicate,
				Recorded: events.StatusApplied,
			}}}, nil
		},
	}}
	view := &fakeView{}
	svc := newTestService(t, log, transport, view)

	if _, err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(log.acked) != 1 {
		t.Fatalf("duplicate of an applied event acks normally, got %d acks", len(log.acked))
	}
	if len(view.confirmed) != 1 {
		t.Fatal("duplicate of an applied event confirms the view")
	}
	if len(log.dead) != 0 {
		t.Fatal("nothing to dead-letter for an applied duplicate")
	}
}

func TestFlushTriggersResyncOnSequenceGap(t *testing.T) {
	entry := testEntry(5, 0)
	log := newFakeLog(entry)
	transport := &fakeTransport{responses: []func(events.BatchRequest) (events.BatchResponse, error){
		func(batch events.BatchRequest) (events.BatchResponse, error) {
			return events.BatchResponse{Results: []events.Outcome{{
				EventID: batch.Events[0].EventID,
				Status:  events.StatusRejected,
				Reason:  events.ReasonSequenceGap,
			}}}, nil
		},
	}}
	svc := newTestService(t, log, transport, nil)

	if _, err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if log.resyncs != 1 {
		t.Fatalf("expected a resync, got %d", log.resyncs)
	}
	if len(log.dead) != 0 {
		t.Fatal("gap-withheld events must not be dead-lettered")
	}
	if len(log.entries) != 1 {
		t.Fatal("gap-withheld event must stay queued")
	}
}

func TestFlushDeadLettersExhaustedEntriesBeforeSubmit(t *testing.T) {
	exhausted := testEntry(1, 10)
	fresh := testEntry(2, 0)
	log := newFakeLog(exhausted, fresh)
	transport := &fakeTransport{responses: []func(events.BatchRequest) (events.BatchResponse, error){allApplied}}
	view := &fakeView{}
	svc := newTestService(t, log, transport, view)

	if _, err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, ok := log.dead[exhausted.Event.EventID]; !ok {
		t.Fatal("exhausted entry must be dead-lettered")
	}
	if transport.submits != 1 {
		t.Fatalf("expected 1 submit, got %d", transport.submits)
	}
	if len(log.acked) != 1 || log.acked[0] != fresh.Event.EventID {
		t.Fatalf("only the fresh entry should be submitted and acked, got %v", log.acked)
	}
}

func TestFlushRequeuesEventsMissingFromResponse(t *testing.T) {
	entry := testEntry(1, 0)
	log := newFakeLog(entry)
	transport := &fakeTransport{responses: []func(events.BatchRequest) (events.BatchResponse, error){
		func(events.BatchRequest) (events.BatchResponse, error) {
			return events.BatchResponse{}, nil
		},
	}}
	svc := newTestService(t, log, transport, nil)

	if _, err := svc.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(log.failed) != 1 {
		t.Fatalf("event without outcome must be requeued, got %d failed", len(log.failed))
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	log := newFakeLog()
	transport := &fakeTransport{responses: []func(events.BatchRequest) (events.BatchResponse, error){allApplied}}
	svc := newTestService(t, log, transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
