package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/vidassess/internal/config"
	"github.com/stemsi/vidassess/internal/model"
	"github.com/stemsi/vidassess/internal/repository"
)

// AttemptStore persists submission attempts.
type AttemptStore interface {
	Insert(ctx context.Context, a *model.SubmissionAttempt) error
}

// SubmissionWorker consumes persist_video_submissions_queue and writes the
// attempts to PostgreSQL.
type SubmissionWorker struct {
	store      AttemptStore
	rdb        *redis.Client
	log        zerolog.Logger
	retryDelay time.Duration
}

// NewSubmissionWorker creates a new SubmissionWorker.
func NewSubmissionWorker(store AttemptStore, rdb *redis.Client, log zerolog.Logger) *SubmissionWorker {
	return &SubmissionWorker{
		store:      store,
		rdb:        rdb,
		log:        log.With().Str("component", "submission_worker").Logger(),
		retryDelay: 5 * time.Second,
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *SubmissionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *SubmissionWorker) processNext(ctx context.Context) {
	queue := config.WorkerKey.PersistSubmissionsQueue

	result, err := w.rdb.BLPop(ctx, time.Second, queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	attempt, ok := w.decode(result[1])
	if !ok {
		return
	}

	err = w.store.Insert(ctx, attempt)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrAttemptRejected):
		w.deadLetter(ctx, attempt, result[1], err)
	default:
		w.log.Error().Err(err).
			Str("attempt_id", attempt.ID.String()).
			Str("student_id", attempt.StudentID).
			Dur("retry_in", w.retryDelay).
			Msg("Persist error, retrying")
		w.rdb.RPush(context.WithoutCancel(ctx), queue, result[1])

		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
	}
}

// drain persists whatever is left in the queue before shutdown.
func (w *SubmissionWorker) drain(ctx context.Context) {
	queue := config.WorkerKey.PersistSubmissionsQueue
	drained := 0

	for {
		raw, err := w.rdb.LPop(ctx, queue).Result()
		if err != nil {
			break
		}

		attempt, ok := w.decode(raw)
		if !ok {
			continue
		}

		if err := w.store.Insert(ctx, attempt); err != nil {
			if errors.Is(err, repository.ErrAttemptRejected) {
				w.deadLetter(ctx, attempt, raw, err)
				continue
			}
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, queue, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

// deadLetter parks an attempt the database will never accept so it stops
// blocking the queue.
func (w *SubmissionWorker) deadLetter(ctx context.Context, a *model.SubmissionAttempt, raw string, cause error) {
	w.log.Error().Err(cause).
		Str("attempt_id", a.ID.String()).
		Str("student_id", a.StudentID).
		Msg("Attempt rejected, moved to dead letter")
	if err := w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.SubmissionsDeadLetter, raw).Err(); err != nil {
		w.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Dead letter push failed")
	}
}

func (w *SubmissionWorker) decode(raw string) (*model.SubmissionAttempt, bool) {
	var a model.SubmissionAttempt
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, dropping item")
		return nil, false
	}
	return &a, true
}
