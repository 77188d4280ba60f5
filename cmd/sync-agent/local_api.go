package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yoeldevsoft25/lacaja-sync/api/responses"
	"github.com/yoeldevsoft25/lacaja-sync/api/validators"
	"github.com/yoeldevsoft25/lacaja-sync/internal/device"
	"github.com/yoeldevsoft25/lacaja-sync/internal/eventlog"
	"github.com/yoeldevsoft25/lacaja-sync/internal/localview"
	"github.com/yoeldevsoft25/lacaja-sync/internal/rates"
	pkgerrors "github.com/yoeldevsoft25/lacaja-sync/pkg/errors"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/logger"
)

// localAPI is the loopback surface the POS frontend talks to. It records
// events into the durable log and reflects them optimistically; it never
// talks to the server itself.
type localAPI struct {
	logg     *logger.Logger
	log      *eventlog.Log
	resolver *rates.Resolver
	view     *localview.View
	identity device.Identity
}

func newLocalAPI(logg *logger.Logger, log *eventlog.Log, resolver *rates.Resolver, view *localview.View, identity device.Identity) *localAPI {
	return &localAPI{logg: logg, log: log, resolver: resolver, view: view, identity: identity}
}

func (a *localAPI) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/local/v1/events", a.recordEvent)
	r.Post("/local/v1/rate", a.updateRate)
	r.Get("/local/v1/status", a.status)
	r.Get("/local/v1/dead-letters", a.deadLetters)
	return r
}

type recordEventRequest struct {
	Type    events.Type     `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
	Actor   events.ActorRef `json:"actor" validate:"required"`
}

// recordEvent commits the event locally and applies it to the optimistic
// view. Monetary events get the current rate snapshot stamped in; a stale
// snapshot refuses the event before anything is written.
func (a *localAPI) recordEvent(w http.ResponseWriter, r *http.Request) {
	var req recordEventRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), a.logg, w, err)
		return
	}
	if !req.Type.IsValid() {
		responses.WriteError(r.Context(), a.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown event type"))
		return
	}

	payload := req.Payload
	if req.Type.IsMonetary() {
		snapshot, err := a.resolver.Snapshot()
		if err != nil {
			responses.WriteError(r.Context(), a.logg, w, err)
			return
		}
		stamped, err := stampRate(payload, snapshot)
		if err != nil {
			responses.WriteError(r.Context(), a.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payload"))
			return
		}
		payload = stamped
	}

	draft := events.Draft{
		EventID:   uuid.New(),
		Type:      req.Type,
		Payload:   payload,
		CreatedAt: time.Now().UnixMilli(),
		Version:   1,
		Actor:     req.Actor,
	}

	eventID, err := a.log.Enqueue(r.Context(), draft)
	if err != nil {
		responses.WriteError(r.Context(), a.logg, w, err)
		return
	}

	if err := a.view.Apply(events.Event{
		EventID:   draft.EventID,
		Type:      draft.Type,
		Payload:   draft.Payload,
		CreatedAt: draft.CreatedAt,
		StoreID:   a.identity.StoreID,
		DeviceID:  a.identity.DeviceID,
		Version:   draft.Version,
		Actor:     draft.Actor,
	}); err != nil {
		a.logg.Warn(a.logg.WithEventID(r.Context(), eventID.String()), "optimistic apply failed: "+err.Error())
	}

	responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{
		"event_id": eventID,
		"status":   localview.StatusPending,
	})
}

type updateRateRequest struct {
	Rate      decimal.Decimal `json:"rate" validate:"required"`
	FetchedAt time.Time       `json:"fetched_at" validate:"required"`
}

func (a *localAPI) updateRate(w http.ResponseWriter, r *http.Request) {
	var req updateRateRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		responses.WriteError(r.Context(), a.logg, w, err)
		return
	}
	if err := a.resolver.Update(req.Rate, req.FetchedAt); err != nil {
		responses.WriteError(r.Context(), a.logg, w, err)
		return
	}
	responses.WriteSuccess(w, map[string]string{"status": "ok"})
}

func (a *localAPI) status(w http.ResponseWriter, r *http.Request) {
	pending, err := a.log.PendingCount(r.Context())
	if err != nil {
		responses.WriteError(r.Context(), a.logg, w, err)
		return
	}
	responses.WriteSuccess(w, map[string]any{
		"store_id":  a.identity.StoreID,
		"device_id": a.identity.DeviceID,
		"pending":   pending,
	})
}

func (a *localAPI) deadLetters(w http.ResponseWriter, r *http.Request) {
	rows, err := a.log.ListDeadLetters(r.Context(), 50)
	if err != nil {
		responses.WriteError(r.Context(), a.logg, w, err)
		return
	}
	responses.WriteSuccess(w, rows)
}

// stampRate overwrites the payload's rate snapshot with the freshly resolved
// one so the client UI cannot submit an outdated rate.
func stampRate(payload json.RawMessage, snapshot events.RateSnapshot) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	fields["rate_snapshot"] = raw
	return json.Marshal(fields)
}
