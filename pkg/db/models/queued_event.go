package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QueueState tracks the outbox lifecycle of a locally recorded event.
type QueueState string

const (
	QueueStatePending  QueueState = "pending"
	QueueStateInFlight QueueState = "in_flight"
	QueueStateFailed   QueueState = "failed"
)

// QueuedEvent is one durable entry in the terminal-local event log. Rows are
// deleted on ack; rejected rows move to DeadLetter.
type QueuedEvent struct {
	EventID      uuid.UUID       `gorm:"column:event_id;type:uuid;primaryKey"`
	Type         string          `gorm:"column:type;not null"`
	Payload      json.RawMessage `gorm:"column:payload;not null"`
	CreatedAtMS  int64           `gorm:"column:created_at_ms;not null"`
	Seq          int64           `gorm:"column:seq;not null;uniqueIndex:ux_queued_events_seq"`
	StoreID      uuid.UUID       `gorm:"column:store_id;type:uuid;not null"`
	DeviceID     uuid.UUID       `gorm:"column:device_id;type:uuid;not null"`
	Version      int             `gorm:"column:version;not null;default:1"`
	ActorUserID  uuid.UUID       `gorm:"column:actor_user_id;type:uuid;not null"`
	ActorRole    string          `gorm:"column:actor_role"`
	State        QueueState      `gorm:"column:state;not null;default:'pending';index"`
	AttemptCount int             `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string         `gorm:"column:last_error"`
	EnqueuedAt   time.Time       `gorm:"column:enqueued_at;autoCreateTime"`
}

func (QueuedEvent) TableName() string { return "queued_events" }
