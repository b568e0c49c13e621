package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// EventStore persists journal batches.
type EventStore interface {
	CopyEvents(ctx context.Context, events []model.SessionEvent) error
	InsertEvent(ctx context.Context, ev model.SessionEvent) error
}

// JournalWorker drains the session-event queue into PostgreSQL in batches.
type JournalWorker struct {
	store EventStore
	queue Queue
	log   zerolog.Logger

	batchSize    int
	batchTimeout time.Duration
	pollTimeout  time.Duration
	errorBackoff time.Duration
	requeueDelay time.Duration
}

// NewJournalWorker creates a JournalWorker with production batching.
func NewJournalWorker(store EventStore, queue Queue, log zerolog.Logger) *JournalWorker {
	return &JournalWorker{
		store:        store,
		queue:        queue,
		log:          log.With().Str("component", "journal_worker").Logger(),
		batchSize:    BatchSize,
		batchTimeout: BatchTimeout,
		pollTimeout:  PollTimeout,
		errorBackoff: 3 * time.Second,
		requeueDelay: 2 * time.Second,
	}
}

// Start runs until ctx is cancelled, then flushes what it holds. Call in a
// goroutine.
func (w *JournalWorker) Start(ctx context.Context) {
	w.log.Info().Msg("JournalWorker started")

	buffer := make([]model.SessionEvent, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		// 1. Flush on size or age.
		if len(buffer) > 0 && (len(buffer) >= w.batchSize || time.Since(lastFlush) >= w.batchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		// 2. Graceful shutdown.
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch.
		data, err := w.queue.Pop(ctx, w.pollTimeout)
		if err != nil {
			if errors.Is(err, ErrQueueEmpty) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Dur("backoff", w.errorBackoff).Msg("Queue error, backing off")
			sleepCtx(ctx, w.errorBackoff)
			continue
		}

		// 4. Decode. Malformed payloads cannot be retried.
		var ev model.SessionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			w.log.Error().Err(err).Str("data", string(data)).Msg("Discarding malformed session event")
			continue
		}
		buffer = append(buffer, ev)
	}
}

// flushSafe tries a bulk copy, then row-by-row inserts, then requeues.
func (w *JournalWorker) flushSafe(ctx context.Context, batch []model.SessionEvent) {
	err := w.store.CopyEvents(ctx, batch)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Journal batch persisted")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk copy failed, attempting row-by-row recovery")

	var requeue [][]byte
	for _, ev := range batch {
		if err := w.store.InsertEvent(ctx, ev); err != nil {
			w.log.Error().Err(err).Str("attempt_id", ev.AttemptID).Str("event", string(ev.Type)).Msg("Insert failed, requeueing")
			data, _ := json.Marshal(ev)
			requeue = append(requeue, data)
		}
	}
	if len(requeue) == 0 {
		return
	}

	pushCtx := context.WithoutCancel(ctx)
	if err := w.queue.Push(pushCtx, requeue...); err != nil {
		w.log.Error().Err(err).Int("count", len(requeue)).Msg("CRITICAL: Failed to requeue session events. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(requeue)).Msg("Requeued failed session events")
	// Avoid thrashing while the database is down.
	sleepCtx(ctx, w.requeueDelay)
}

func (w *JournalWorker) shutdown(buffer []model.SessionEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
