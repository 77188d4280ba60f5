package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yoeldevsoft25/lacaja-sync/internal/device"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/db/models"
	pkgerrors "github.com/yoeldevsoft25/lacaja-sync/pkg/errors"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
)

const maxDeadLetterErrorLen = 1024

// Entry is one queued event plus its delivery bookkeeping.
type Entry struct {
	Event    events.Event
	State    models.QueueState
	Attempts int
}

// Log is the durable local event log. It owns PENDING/IN_FLIGHT/FAILED
// entries; the server owns the authoritative applied/rejected outcome.
// Mutating operations are serialized so a batch read never observes a
// partial write.
type Log struct {
	mu       sync.Mutex
	db       *gorm.DB
	identity device.Identity
}

// New binds a log to the terminal-local database and device identity.
func New(db *gorm.DB, identity device.Identity) (*Log, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if identity.DeviceID == uuid.Nil || identity.StoreID == uuid.Nil {
		return nil, errors.New("device identity is required")
	}
	return &Log{db: db, identity: identity}, nil
}

// Migrate creates the terminal-local tables. The agent database is embedded,
// so schema comes from AutoMigrate rather than goose.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.DeviceIdentity{},
		&models.QueuedEvent{},
		&models.DeadLetter{},
	)
}

// Enqueue assigns the next sequence number and commits the event before
// returning. Callers must treat a PersistenceError as "not saved" and must
// not apply optimistic UI state.
func (l *Log) Enqueue(ctx context.Context, draft events.Draft) (uuid.UUID, error) {
	if !draft.Type.IsValid() {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown event type "+string(draft.Type))
	}
	if draft.EventID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ident models.DeviceIdentity
		if err := tx.First(&ident, "id = ?", 1).Error; err != nil {
			return err
		}
		seq := ident.LastSeq + 1
		if err := tx.Model(&models.DeviceIdentity{}).
			Where("id = ?", 1).
			Update("last_seq", seq).Error; err != nil {
			return err
		}

		row := models.QueuedEvent{
			EventID:     draft.EventID,
			Type:        string(draft.Type),
			Payload:     draft.Payload,
			CreatedAtMS: draft.CreatedAt,
			Seq:         seq,
			StoreID:     l.identity.StoreID,
			DeviceID:    l.identity.DeviceID,
			Version:     draft.Version,
			ActorUserID: draft.Actor.UserID,
			ActorRole:   draft.Actor.Role,
			State:       models.QueueStatePending,
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "committing event to local log")
	}
	return draft.EventID, nil
}

// PeekBatch returns up to n oldest PENDING/FAILED entries, oldest-first.
func (l *Log) PeekBatch(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 1
	}
	var rows []models.QueuedEvent
	err := l.db.WithContext(ctx).
		Where("state IN ?", []models.QueueState{models.QueueStatePending, models.QueueStateFailed}).
		Order("seq ASC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "reading pending batch")
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entryFromRow(row))
	}
	return entries, nil
}

// MarkInFlight transitions the given entries to IN_FLIGHT before a batch is
// submitted. Recover reverts the mark if the process dies mid-flight.
func (l *Log) MarkInFlight(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.db.WithContext(ctx).Model(&models.QueuedEvent{}).
		Where("event_id IN ?", ids).
		Update("state", models.QueueStateInFlight).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "marking batch in flight")
	}
	return nil
}

// Ack removes the entry; no-op if already removed.
func (l *Log) Ack(ctx context.Context, eventID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.db.WithContext(ctx).
		Delete(&models.QueuedEvent{}, "event_id = ?", eventID).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "acking event")
	}
	return nil
}

// MarkFailed returns entries to the retry path with an incremented attempt
// count. Only failures that reached the server count here; a dead connection
// goes through Requeue instead.
func (l *Log) MarkFailed(ctx context.Context, ids []uuid.UUID, cause error) error {
	return l.requeue(ctx, ids, cause, true)
}

// Requeue returns entries to the retry path without consuming the delivery
// budget. Used for transport failures: an offline terminal retries forever.
func (l *Log) Requeue(ctx context.Context, ids []uuid.UUID, cause error) error {
	return l.requeue(ctx, ids, cause, false)
}

func (l *Log) requeue(ctx context.Context, ids []uuid.UUID, cause error, countAttempt bool) error {
	if len(ids) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	updates := map[string]any{
		"state": models.QueueStateFailed,
	}
	if countAttempt {
		updates["attempt_count"] = gorm.Expr("attempt_count + 1")
	}
	if cause != nil {
		msg := truncateError(cause.Error())
		updates["last_error"] = msg
	}
	err := l.db.WithContext(ctx).Model(&models.QueuedEvent{}).
		Where("event_id IN ?", ids).
		Updates(updates).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "marking batch failed")
	}
	return nil
}

// DeadLetter moves an entry out of the retry path into the inspectable
// terminal list.
func (l *Log) DeadLetter(ctx context.Context, eventID uuid.UUID, reason string, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.QueuedEvent
		if err := tx.First(&row, "event_id = ?", eventID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "loading event for dead letter")
		}
		entry := models.DeadLetter{
			EventID:      row.EventID,
			Type:         row.Type,
			Payload:      row.Payload,
			Seq:          row.Seq,
			StoreID:      row.StoreID,
			DeviceID:     row.DeviceID,
			Reason:       reason,
			AttemptCount: row.AttemptCount,
		}
		if cause != nil {
			msg := truncateError(cause.Error())
			entry.ErrorMessage = &msg
		}
		if err := tx.Create(&entry).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "inserting dead letter")
		}
		if err := tx.Delete(&models.QueuedEvent{}, "event_id = ?", eventID).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "removing dead-lettered event")
		}
		return nil
	})
}

// Recover replays all IN_FLIGHT entries as PENDING. Called once at startup:
// a crash between enqueue and ack must never lose an event.
func (l *Log) Recover(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := l.db.WithContext(ctx).Model(&models.QueuedEvent{}).
		Where("state = ?", models.QueueStateInFlight).
		Update("state", models.QueueStatePending)
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodePersistence, res.Error, "recovering in-flight entries")
	}
	return res.RowsAffected, nil
}

// ResetForResync returns every queued entry to PENDING so the full
// unacknowledged range is resubmitted in order after a sequence-gap
// rejection.
func (l *Log) ResetForResync(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.db.WithContext(ctx).Model(&models.QueuedEvent{}).
		Where("state <> ?", models.QueueStatePending).
		Update("state", models.QueueStatePending).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "resetting queue for resync")
	}
	return nil
}

// PendingCount returns how many entries still await acknowledgment.
func (l *Log) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.QueuedEvent{}).Count(&count).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "counting pending entries")
	}
	return count, nil
}

// ListDeadLetters returns terminally failed events, newest first.
func (l *Log) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.DeadLetter
	err := l.db.WithContext(ctx).
		Order("failed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "listing dead letters")
	}
	return rows, nil
}

func entryFromRow(row models.QueuedEvent) Entry {
	return Entry{
		Event: events.Event{
			EventID:   row.EventID,
			Type:      events.Type(row.Type),
			Payload:   json.RawMessage(row.Payload),
			CreatedAt: row.CreatedAtMS,
			Seq:       row.Seq,
			StoreID:   row.StoreID,
			DeviceID:  row.DeviceID,
			Version:   row.Version,
			Actor: events.ActorRef{
				UserID: row.ActorUserID,
				Role:   row.ActorRole,
			},
		},
		State:    row.State,
		Attempts: row.AttemptCount,
	}
}

func truncateError(message string) string {
	if len(message) <= maxDeadLetterErrorLen {
		return message
	}
	return message[:maxDeadLetterErrorLen]
}
