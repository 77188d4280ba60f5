package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/yoeldevsoft25/lacaja-sync/api/middleware"
	"github.com/yoeldevsoft25/lacaja-sync/api/responses"
	"github.com/yoeldevsoft25/lacaja-sync/api/validators"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/db/models"
	pkgerrors "github.com/yoeldevsoft25/lacaja-sync/pkg/errors"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/logger"
)

// IngestService accepts event batches from terminals.
type IngestService interface {
	Receive(ctx context.Context, batch events.BatchRequest) (events.BatchResponse, error)
}

// SyncQueries exposes the server-side sync bookkeeping for inspection.
type SyncQueries interface {
	ListDeadLetters(ctx context.Context, storeID uuid.UUID, limit int) ([]models.SyncDeadLetter, error)
	ListCursors(ctx context.Context, storeID uuid.UUID) ([]models.DeviceCursor, error)
}

// SubmitBatch ingests a batch of events for the authenticated store.
func SubmitBatch(svc IngestService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ingest service unavailable"))
			return
		}

		storeID, err := storeFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var batch events.BatchRequest
		if err := validators.DecodeJSONBody(r, &batch); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if batch.StoreID != storeID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "batch store does not match credentials"))
			return
		}

		resp, err := svc.Receive(r.Context(), batch)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}

// ListDeadLetters returns terminally rejected events for the store.
func ListDeadLetters(queries SyncQueries, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if queries == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queries unavailable"))
			return
		}

		storeID, err := storeFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit := 50
		if limitStr := strings.TrimSpace(r.URL.Query().Get("limit")); limitStr != "" {
			value, err := strconv.Atoi(limitStr)
			if err != nil || value <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			limit = value
		}

		rows, err := queries.ListDeadLetters(r.Context(), storeID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// ListCursors returns the per-device sequence cursors for the store.
func ListCursors(queries SyncQueries, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if queries == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queries unavailable"))
			return
		}

		storeID, err := storeFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := queries.ListCursors(r.Context(), storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

func storeFromContext(ctx context.Context) (uuid.UUID, error) {
	raw := middleware.StoreIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing")
	}
	storeID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid store id")
	}
	return storeID, nil
}
