package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActorRef identifies who performed the action. The server re-validates it
// against the batch token; it is never trusted on its own.
type ActorRef struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role,omitempty"`
}

// RateSnapshot freezes the exchange-rate context at event creation time.
// Secondary-currency amounts derived from it are never recomputed.
type RateSnapshot struct {
	Rate          decimal.Decimal `json:"rate"`
	RateFetchedAt time.Time       `json:"rate_fetched_at"`
}

// Event is one immutable user-initiated mutation bound for the canonical
// store. CreatedAt is client wall-clock milliseconds and advisory only; Seq
// carries the per-device causal order.
type Event struct {
	EventID   uuid.UUID       `json:"event_id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"created_at"`
	Seq       int64           `json:"seq"`
	StoreID   uuid.UUID       `json:"store_id"`
	DeviceID  uuid.UUID       `json:"device_id"`
	Version   int             `json:"version"`
	Actor     ActorRef        `json:"actor"`
}

// Draft is what callers hand to the local event log. Seq is always zero on
// input; the queue overwrites it with the real sequence value at enqueue.
type Draft struct {
	EventID   uuid.UUID
	Type      Type
	Payload   json.RawMessage
	CreatedAt int64
	Version   int
	Actor     ActorRef
}

// NewDraft fills the identity fields callers rarely care about.
func NewDraft(eventType Type, payload any, actor ActorRef) (Draft, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Draft{}, err
	}
	return Draft{
		EventID:   uuid.New(),
		Type:      eventType,
		Payload:   raw,
		CreatedAt: time.Now().UnixMilli(),
		Version:   1,
		Actor:     actor,
	}, nil
}
