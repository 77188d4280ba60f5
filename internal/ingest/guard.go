package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yoeldevsoft25/lacaja-sync/internal/projector"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/db/models"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/logger"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/metrics"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/redis"
)

const dedupScope = "ingest"

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	DB() *gorm.DB
}

// Guard guarantees at-most-once effect for submitted events. The durable
// applied_events record is written in the same transaction as the entity
// mutation; redis only short-circuits known replays before the transaction
// is opened.
type Guard struct {
	db       dbClient
	dedup    redis.DedupStore
	proj     *projector.Projector
	logg     *logger.Logger
	metrics  *metrics.IngestMetrics
	dedupTTL time.Duration
	maxBatch int
}

type GuardParams struct {
	DB        dbClient
	Dedup     redis.DedupStore
	Projector *projector.Projector
	Logger    *logger.Logger
	Metrics   *metrics.IngestMetrics
	DedupTTL  time.Duration
	MaxBatch  int
}

func NewGuard(params GuardParams) (*Guard, error) {
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Projector == nil {
		return nil, errors.New("projector is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	ttl := params.DedupTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	maxBatch := params.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 200
	}
	return &Guard{
		db:       params.DB,
		dedup:    params.Dedup,
		proj:     params.Projector,
		logg:     params.Logger,
		metrics:  params.Metrics,
		dedupTTL: ttl,
		maxBatch: maxBatch,
	}, nil
}

// Receive applies a batch of events for one store and returns one outcome
// per event, in request order. The whole batch commits or rolls back as one
// transaction; a rolled-back batch is safe to resubmit because every event
// is deduplicated individually.
func (g *Guard) Receive(ctx context.Context, batch events.BatchRequest) (events.BatchResponse, error) {
	if batch.StoreID == uuid.Nil {
		return events.BatchResponse{}, errors.New("store id is required")
	}
	if len(batch.Events) == 0 {
		return events.BatchResponse{Results: []events.Outcome{}}, nil
	}
	if len(batch.Events) > g.maxBatch {
		return events.BatchResponse{}, fmt.Errorf("batch of %d exceeds limit %d", len(batch.Events), g.maxBatch)
	}

	started := time.Now()
	results := make([]events.Outcome, len(batch.Events))

	// Fast path: replays the cache already knows about skip the transaction.
	pending := make([]int, 0, len(batch.Events))
	for i, event := range batch.Events {
		if outcome, ok := g.cachedOutcome(ctx, event); ok {
			results[i] = outcome
			g.countOutcome(results[i])
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) > 0 {
		err := g.db.WithTx(ctx, func(tx *gorm.DB) error {
			for _, i := range pending {
				outcome, err := g.receiveOne(ctx, tx, batch.StoreID, batch.Events[i])
				if err != nil {
					return err
				}
				results[i] = outcome
			}
			return nil
		})
		if err != nil {
			return events.BatchResponse{}, err
		}
		for _, i := range pending {
			g.countOutcome(results[i])
			g.markDeduped(ctx, batch.Events[i])
		}
	}

	g.metrics.ObserveBatch(batch.StoreID.String(), time.Since(started))
	return events.BatchResponse{Results: results}, nil
}

func (g *Guard) receiveOne(ctx context.Context, tx *gorm.DB, storeID uuid.UUID, event events.Event) (events.Outcome, error) {
	if event.StoreID != storeID {
		return rejected(event, events.ReasonStoreMismatch), nil
	}
	if event.Actor.UserID == uuid.Nil {
		return rejected(event, events.ReasonValidation), nil
	}

	// Authoritative dedup check, inside the transaction.
	var recorded models.AppliedEvent
	err := tx.Where("event_id = ?", event.EventID).First(&recorded).Error
	if err == nil {
		return duplicate(event, recorded), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return events.Outcome{}, fmt.Errorf("checking applied record: %w", err)
	}

	cursor, err := g.lockCursor(tx, storeID, event.DeviceID)
	if err != nil {
		return events.Outcome{}, err
	}
	switch {
	case event.Seq <= cursor.LastSeq:
		// The sequence slot is consumed but no applied record exists: the
		// device reused or rewound its sequence, which only corruption or a
		// cloned identity produces. Refuse rather than guess.
		return rejected(event, events.ReasonSequenceReplay), nil
	case event.Seq > cursor.LastSeq+1:
		// Withheld: a dependent event may be missing. Nothing is recorded so
		// the retry after resync can still apply.
		return rejected(event, events.ReasonSequenceGap), nil
	}

	var maxArrival int64
	if err := tx.Model(&models.AppliedEvent{}).
		Select("COALESCE(MAX(arrival_seq), 0)").
		Scan(&maxArrival).Error; err != nil {
		return events.Outcome{}, fmt.Errorf("reading arrival sequence: %w", err)
	}

	record := models.AppliedEvent{
		EventID:    event.EventID,
		StoreID:    storeID,
		DeviceID:   event.DeviceID,
		Seq:        event.Seq,
		Type:       string(event.Type),
		Status:     string(events.StatusApplied),
		ArrivalSeq: maxArrival + 1,
	}
	if err := tx.Create(&record).Error; err != nil {
		return events.Outcome{}, fmt.Errorf("recording applied event: %w", err)
	}

	outcome := events.Outcome{EventID: event.EventID, Status: events.StatusApplied}
	if applyErr := g.proj.Apply(ctx, tx, event, record.ArrivalSeq); applyErr != nil {
		rejection := projector.AsRejection(applyErr)
		if rejection == nil {
			return events.Outcome{}, applyErr
		}
		reason := rejection.Reason
		if err := tx.Model(&models.AppliedEvent{}).
			Where("event_id = ?", event.EventID).
			Updates(map[string]any{
				"status": string(events.StatusRejected),
				"reason": reason,
			}).Error; err != nil {
			return events.Outcome{}, fmt.Errorf("recording rejection: %w", err)
		}
		if err := g.insertDeadLetter(tx, storeID, event, rejection); err != nil {
			return events.Outcome{}, err
		}
		outcome = events.Outcome{EventID: event.EventID, Status: events.StatusRejected, Reason: reason}

		logCtx := g.logg.WithFields(ctx, map[string]any{
			"event_id": event.EventID.String(),
			"type":     string(event.Type),
			"reason":   reason,
		})
		g.logg.Warn(logCtx, "event rejected at ingestion")
	}

	// Applied and terminally rejected events both consume the sequence slot;
	// only withheld gaps leave the cursor untouched.
	if err := tx.Model(&models.DeviceCursor{}).
		Where("store_id = ? AND device_id = ?", storeID, event.DeviceID).
		Update("last_seq", event.Seq).Error; err != nil {
		return events.Outcome{}, fmt.Errorf("advancing device cursor: %w", err)
	}

	return outcome, nil
}

// lockCursor loads the device cursor for update, creating it on first
// contact with a device. Row locking only applies on postgres; the sqlite
// path (tests) serializes on its single connection.
func (g *Guard) lockCursor(tx *gorm.DB, storeID, deviceID uuid.UUID) (*models.DeviceCursor, error) {
	query := tx.Where("store_id = ? AND device_id = ?", storeID, deviceID)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var cursor models.DeviceCursor
	err := query.First(&cursor).Error
	if err == nil {
		return &cursor, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("locking device cursor: %w", err)
	}
	cursor = models.DeviceCursor{StoreID: storeID, DeviceID: deviceID, LastSeq: 0}
	if err := tx.Create(&cursor).Error; err != nil {
		return nil, fmt.Errorf("creating device cursor: %w", err)
	}
	return &cursor, nil
}

func (g *Guard) insertDeadLetter(tx *gorm.DB, storeID uuid.UUID, event events.Event, rejection *projector.Rejection) error {
	msg := rejection.Message
	entry := models.SyncDeadLetter{
		EventID:      event.EventID,
		StoreID:      storeID,
		DeviceID:     event.DeviceID,
		Seq:          event.Seq,
		Type:         string(event.Type),
		Payload:      event.Payload,
		Reason:       rejection.Reason,
		ErrorMessage: &msg,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	return nil
}

// cachedOutcome answers replays from redis-plus-one-read without opening
// the batch transaction. Missing cache entries fall through to the
// authoritative path.
func (g *Guard) cachedOutcome(ctx context.Context, event events.Event) (events.Outcome, bool) {
	if g.dedup == nil {
		return events.Outcome{}, false
	}
	key := g.dedup.DedupKey(dedupScope, event.EventID.String())
	if _, err := g.dedup.Get(ctx, key); err != nil {
		return events.Outcome{}, false
	}
	var recorded models.AppliedEvent
	if err := g.db.DB().WithContext(ctx).
		Where("event_id = ?", event.EventID).
		First(&recorded).Error; err != nil {
		return events.Outcome{}, false
	}
	return duplicate(event, recorded), true
}

func (g *Guard) markDeduped(ctx context.Context, event events.Event) {
	if g.dedup == nil {
		return
	}
	key := g.dedup.DedupKey(dedupScope, event.EventID.String())
	if _, err := g.dedup.SetNX(ctx, key, "1", g.dedupTTL); err != nil {
		g.logg.Warn(g.logg.WithEventID(ctx, event.EventID.String()), "dedup cache write failed")
	}
}

func (g *Guard) countOutcome(outcome events.Outcome) {
	g.metrics.IncOutcome(string(outcome.Status), outcome.Reason)
}

func duplicate(event events.Event, recorded models.AppliedEvent) events.Outcome {
	outcome := events.Outcome{
		EventID:  event.EventID,
		Status:   events.StatusDuplicate,
		Recorded: events.Status(recorded.Status),
	}
	if recorded.Reason != nil {
		outcome.Reason = *recorded.Reason
	}
	return outcome
}

func rejected(event events.Event, reason string) events.Outcome {
	return events.Outcome{EventID: event.EventID, Status: events.StatusRejected, Reason: reason}
}
