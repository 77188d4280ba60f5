package events

import "github.com/google/uuid"

// Outcome status values returned per event by the ingestion endpoint.
type Status string

const (
	StatusApplied   Status = "applied"
	StatusDuplicate Status = "duplicate"
	StatusRejected  Status = "rejected"
)

// Rejection reasons the client branches on.
const (
	ReasonValidation      = "validation_failed"
	ReasonUnknownType     = "unknown_event_type"
	ReasonSequenceGap     = "sequence_gap"
	ReasonSequenceReplay  = "sequence_replay"
	ReasonDebtSettled     = "debt_already_settled"
	ReasonOverpayment     = "overpayment"
	ReasonUnknownTarget   = "unknown_target"
	ReasonImplausibleRate = "implausible_rate"
	ReasonDuplicateEntity = "duplicate_entity"
	ReasonStoreMismatch   = "store_mismatch"
)

// Outcome is the per-event result of a batch submission. A duplicate carries
// the originally recorded terminal status in Recorded so a client that lost
// the first response converges on the same state.
type Outcome struct {
	EventID  uuid.UUID `json:"event_id"`
	Status   Status    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	Recorded Status    `json:"recorded,omitempty"`
}

// BatchRequest is the ingestion wire contract: a batch of events scoped to
// one store.
type BatchRequest struct {
	StoreID uuid.UUID `json:"store_id"`
	Events  []Event   `json:"events"`
}

// BatchResponse returns one outcome per submitted event, in request order.
type BatchResponse struct {
	Results []Outcome `json:"results"`
}
