package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/yoeldevsoft25/lacaja-sync/api/middleware"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/db/models"
	pkgerrors "github.com/yoeldevsoft25/lacaja-sync/pkg/errors"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/logger"
)

type fakeIngest struct {
	received *events.BatchRequest
	resp     events.BatchResponse
	err      error
}

func (f *fakeIngest) Receive(ctx context.Context, batch events.BatchRequest) (events.BatchResponse, error) {
	f.received = &batch
	return f.resp, f.err
}

type fakeQueries struct {
	deadLetters []models.SyncDeadLetter
	cursors     []models.DeviceCursor
	lastLimit   int
	lastStore   uuid.UUID
}

func (f *fakeQueries) ListDeadLetters(ctx context.Context, storeID uuid.UUID, limit int) ([]models.SyncDeadLetter, error) {
	f.lastStore = storeID
	f.lastLimit = limit
	return f.deadLetters, nil
}

func (f *fakeQueries) ListCursors(ctx context.Context, storeID uuid.UUID) ([]models.DeviceCursor, error) {
	f.lastStore = storeID
	return f.cursors, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func requestWithStore(t *testing.T, method, target string, storeID uuid.UUID, body any) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(middleware.WithStoreID(req.Context(), storeID.String()))
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope.Error.Code
}

func TestSubmitBatchReturnsOutcomes(t *testing.T) {
	storeID := uuid.New()
	eventID := uuid.New()
	svc := &fakeIngest{resp: events.BatchResponse{Results: []events.Outcome{{EventID: eventID, Status: events.StatusApplied}}}}

	req := requestWithStore(t, http.MethodPost, "/api/v1/sync/events", storeID, events.BatchRequest{
		StoreID: storeID,
		Events:  []events.Event{},
	})
	rec := httptest.NewRecorder()
	SubmitBatch(svc, testLogger())(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp events.BatchResponse
	decodeData(t, rec, &resp)
	if len(resp.Results) != 1 || resp.Results[0].EventID != eventID {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
	if svc.received == nil || svc.received.StoreID != storeID {
		t.Fatal("batch must reach the ingest service")
	}
}

func TestSubmitBatchRejectsStoreMismatch(t *testing.T) {
	svc := &fakeIngest{}
	req := requestWithStore(t, http.MethodPost, "/api/v1/sync/events", uuid.New(), events.BatchRequest{
		StoreID: uuid.New(),
	})
	rec := httptest.NewRecorder()
	SubmitBatch(svc, testLogger())(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != string(pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden code, got %s", code)
	}
	if svc.received != nil {
		t.Fatal("mismatched batch must never reach the ingest service")
	}
}

func TestSubmitBatchRequiresStoreContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/events", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	SubmitBatch(&fakeIngest{}, testLogger())(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without store context, got %d", rec.Code)
	}
}

func TestSubmitBatchRejectsMalformedBody(t *testing.T) {
	storeID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/events", bytes.NewReader([]byte(`{not json`)))
	req = req.WithContext(middleware.WithStoreID(req.Context(), storeID.String()))
	rec := httptest.NewRecorder()
	SubmitBatch(&fakeIngest{}, testLogger())(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != string(pkgerrors.CodeValidation) {
		t.Fatalf("expected validation code, got %s", code)
	}
}

func TestSubmitBatchPropagatesServiceError(t *testing.T) {
	storeID := uuid.New()
	svc := &fakeIngest{err: pkgerrors.New(pkgerrors.CodeValidation, "batch exceeds limit")}
	req := requestWithStore(t, http.MethodPost, "/api/v1/sync/events", storeID, events.BatchRequest{StoreID: storeID})
	rec := httptest.NewRecorder()
	SubmitBatch(svc, testLogger())(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListDeadLettersUsesLimitParam(t *testing.T) {
	storeID := uuid.New()
	queries := &fakeQueries{deadLetters: []models.SyncDeadLetter{{Reason: "overpayment"}}}

	req := requestWithStore(t, http.MethodGet, "/api/v1/sync/dead-letters?limit=5", storeID, nil)
	rec := httptest.NewRecorder()
	ListDeadLetters(queries, testLogger())(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if queries.lastLimit != 5 {
		t.Fatalf("expected limit 5, got %d", queries.lastLimit)
	}
	if queries.lastStore != storeID {
		t.Fatalf("query must be scoped to the token store, got %s", queries.lastStore)
	}
	var rows []models.SyncDeadLetter
	decodeData(t, rec, &rows)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}

func TestListDeadLettersRejectsBadLimit(t *testing.T) {
	req := requestWithStore(t, http.MethodGet, "/api/v1/sync/dead-letters?limit=zero", uuid.New(), nil)
	rec := httptest.NewRecorder()
	ListDeadLetters(&fakeQueries{}, testLogger())(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListCursorsScopesToStore(t *testing.T) {
	storeID := uuid.New()
	queries := &fakeQueries{cursors: []models.DeviceCursor{{LastSeq: 7}}}

	req := requestWithStore(t, http.MethodGet, "/api/v1/sync/cursors", storeID, nil)
	rec := httptest.NewRecorder()
	ListCursors(queries, testLogger())(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if queries.lastStore != storeID {
		t.Fatalf("expected store %s, got %s", storeID, queries.lastStore)
	}
	var rows []models.DeviceCursor
	decodeData(t, rec, &rows)
	if len(rows) != 1 || rows[0].LastSeq != 7 {
		t.Fatalf("unexpected cursors: %+v", rows)
	}
}
