package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/yoeldevsoft25/lacaja-sync/internal/eventlog"
	pkgerrors "github.com/yoeldevsoft25/lacaja-sync/pkg/errors"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/events"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/logger"
	"github.com/yoeldevsoft25/lacaja-sync/pkg/metrics"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	defaultBackoffBase  = time.Second
	defaultBackoffCap   = 60 * time.Second
	defaultMaxAttempts  = 10
	jitterWindow        = 250 * time.Millisecond

	reasonMaxAttempts = "max_attempts"
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type eventLog interface {
	Recover(ctx context.Context) (int64, error)
	PeekBatch(ctx context.Context, n int) ([]eventlog.Entry, error)
	MarkInFlight(ctx context.Context, ids []uuid.UUID) error
	Ack(ctx context.Context, eventID uuid.UUID) error
	MarkFailed(ctx context.Context, ids []uuid.UUID, cause error) error
	Requeue(ctx context.Context, ids []uuid.UUID, cause error) error
	DeadLetter(ctx context.Context, eventID uuid.UUID, reason string, cause error) error
	ResetForResync(ctx context.Context) error
}

type viewUpdater interface {
	Confirm(eventID uuid.UUID)
	Reject(ctx context.Context, eventID uuid.UUID, reason, message string)
}

// Service drains the local event log to the server. One batch is in flight
// at a time; outcomes are applied per event so a partially accepted batch
// never blocks the accepted prefix.
type Service struct {
	logg         *logger.Logger
	log          eventLog
	transport    Transport
	view         viewUpdater
	metrics      *metrics.DispatchMetrics
	storeID      uuid.UUID
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	backoffBase  time.Duration
	backoffCap   time.Duration
}

type ServiceParams struct {
	Logger       *logger.Logger
	Log          eventLog
	Transport    Transport
	View         viewUpdater
	Metrics      *metrics.DispatchMetrics
	StoreID      uuid.UUID
	BatchSize    int
	MaxAttempts  int
	PollInterval time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Log == nil {
		return nil, errors.New("event log is required")
	}
	if params.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if params.StoreID == uuid.Nil {
		return nil, errors.New("store id is required")
	}

	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	poll := params.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	base := params.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	maxBackoff := params.BackoffCap
	if maxBackoff <= 0 {
		maxBackoff = defaultBackoffCap
	}

	return &Service{
		logg:         params.Logger,
		log:          params.Log,
		transport:    params.Transport,
		view:         params.View,
		metrics:      params.Metrics,
		storeID:      params.StoreID,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: poll,
		backoffBase:  base,
		backoffCap:   maxBackoff,
	}, nil
}

// Run drains the log until the context is canceled. Transport failures back
// off exponentially with jitter; a successful round trip resets the backoff.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	recovered, err := s.log.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering in-flight entries: %w", err)
	}
	if recovered > 0 {
		s.logg.Info(s.logg.WithField(ctx, "recovered", recovered), "requeued in-flight entries from previous run")
	}

	backoff := s.backoffBase

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "dispatcher context canceled")
			return ctx.Err()
		default:
		}

		processed, err := s.Flush(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "batch dispatch failed")
			if sleepErr := s.sleep(ctx, withJitter(backoff)); sleepErr != nil {
				return sleepErr
			}
			backoff = nextBackoff(backoff, s.backoffBase, s.backoffCap)
			continue
		}

		backoff = s.backoffBase

		if processed {
			continue
		}
		if err := s.sleep(ctx, withJitter(s.pollInterval)); err != nil {
			return err
		}
	}
}

// Flush submits at most one batch. It reports whether any entries were
// processed; a transport or persistence failure leaves the batch on the
// retry path and returns the error.
func (s *Service) Flush(ctx context.Context) (bool, error) {
	entries, err := s.log.PeekBatch(ctx, s.batchSize)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}

	batch, ids, err := s.prepare(ctx, entries)
	if err != nil {
		return true, err
	}
	if len(batch.Events) == 0 {
		return true, nil
	}

	if err := s.log.MarkInFlight(ctx, ids); err != nil {
		return true, err
	}

	started := time.Now()
	resp, err := s.transport.Submit(ctx, batch)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ObserveRoundTrip(outcome, time.Since(started))
	if err != nil {
		// The batch never got a verdict. Requeue without touching the
		// delivery budget: an offline terminal retries until the link is
		// back, however long that takes.
		if markErr := s.log.Requeue(ctx, ids, err); markErr != nil {
			return true, fmt.Errorf("requeuing batch: %w", markErr)
		}
		if pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
			s.logg.Error(ctx, "server refused batch credentials, backing off", err)
		}
		return true, err
	}

	if err := s.applyOutcomes(ctx, batch, resp); err != nil {
		return true, err
	}
	return true, nil
}

// prepare filters exhausted entries into the dead-letter list and builds the
// wire batch from the rest. The attempt budget only counts submissions the
// server answered without resolving the event; offline retries never consume
// it.
func (s *Service) prepare(ctx context.Context, entries []eventlog.Entry) (events.BatchRequest, []uuid.UUID, error) {
	batch := events.BatchRequest{StoreID: s.storeID, Events: make([]events.Event, 0, len(entries))}
	ids := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		if entry.Attempts >= s.maxAttempts {
			cause := fmt.Errorf("gave up after %d delivery attempts", entry.Attempts)
			if err := s.log.DeadLetter(ctx, entry.Event.EventID, reasonMaxAttempts, cause); err != nil {
				return events.BatchRequest{}, nil, err
			}
			s.metrics.IncDeadLettered(reasonMaxAttempts)
			s.notifyReject(ctx, entry.Event.EventID, reasonMaxAttempts, cause.Error())
			continue
		}
		batch.Events = append(batch.Events, entry.Event)
		ids = append(ids, entry.Event.EventID)
	}
	return batch, ids, nil
}

func (s *Service) applyOutcomes(ctx context.Context, batch events.BatchRequest, resp events.BatchResponse) error {
	outcomes := make(map[uuid.UUID]events.Outcome, len(resp.Results))
	for _, outcome := range resp.Results {
		outcomes[outcome.EventID] = outcome
	}

	resync := false
	for _, event := range batch.Events {
		outcome, ok := outcomes[event.EventID]
		if !ok {
			// The server answered but skipped this event. Requeue it; the
			// idempotency guard makes the resubmit harmless.
			if err := s.log.MarkFailed(ctx, []uuid.UUID{event.EventID}, errors.New("missing outcome in batch response")); err != nil {
				return err
			}
			continue
		}

		switch outcome.Status {
		case events.StatusApplied, events.StatusDuplicate:
			if outcome.Status == events.StatusDuplicate && outcome.Recorded == events.StatusRejected {
				// The server already rejected this event and the first
				// response was lost. Surface the recorded verdict instead of
				// promoting the speculative state as confirmed.
				if err := s.deadLetterRejected(ctx, event.EventID, outcome.Reason); err != nil {
					return err
				}
				continue
			}
			if err := s.log.Ack(ctx, event.EventID); err != nil {
				return err
			}
			s.metrics.IncAcked(string(outcome.Status))
			if s.view != nil {
				s.view.Confirm(event.EventID)
			}
		case events.StatusRejected:
			if outcome.Reason == events.ReasonSequenceGap {
				// The server is missing an earlier event. Nothing was recorded
				// for this one, so resubmitting the full unacked range in order
				// repairs the stream.
				resync = true
				s.metrics.IncFailed(events.ReasonSequenceGap)
				continue
			}
			if err := s.deadLetterRejected(ctx, event.EventID, outcome.Reason); err != nil {
				return err
			}
		default:
			if err := s.log.MarkFailed(ctx, []uuid.UUID{event.EventID}, fmt.Errorf("unknown outcome status %q", outcome.Status)); err != nil {
				return err
			}
		}
	}

	if resync {
		s.logg.Warn(ctx, "server reported a sequence gap, resubmitting full unacknowledged range")
		if err := s.log.ResetForResync(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) deadLetterRejected(ctx context.Context, eventID uuid.UUID, reason string) error {
	cause := fmt.Errorf("rejected by server: %s", reason)
	if err := s.log.DeadLetter(ctx, eventID, reason, cause); err != nil {
		return err
	}
	s.metrics.IncDeadLettered(reason)
	s.notifyReject(ctx, eventID, reason, cause.Error())
	return nil
}

func (s *Service) notifyReject(ctx context.Context, eventID uuid.UUID, reason, message string) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_id": eventID.String(),
		"reason":   reason,
	})
	s.logg.Warn(logCtx, "event moved to dead letters")
	if s.view != nil {
		s.view.Reject(ctx, eventID, reason, message)
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}
