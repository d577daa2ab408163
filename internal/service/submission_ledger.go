package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/vidassess/internal/assessment"
	"github.com/stemsi/vidassess/internal/config"
	"github.com/stemsi/vidassess/internal/model"
)

const ledgerEnqueueTimeout = 5 * time.Second

// SubmissionLedger queues submission attempts for the persistence worker.
type SubmissionLedger struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewSubmissionLedger creates a new SubmissionLedger.
func NewSubmissionLedger(rdb *redis.Client, log zerolog.Logger) *SubmissionLedger {
	return &SubmissionLedger{
		rdb: rdb,
		log: log.With().Str("component", "submission_ledger").Logger(),
	}
}

// Enqueue pushes an attempt onto the persistence queue.
func (l *SubmissionLedger) Enqueue(ctx context.Context, a *model.SubmissionAttempt) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	return l.rdb.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, raw).Err()
}

// Wrap returns a Submitter that records every attempt made through next.
func (l *SubmissionLedger) Wrap(next assessment.Submitter, sessionID uuid.UUID) assessment.Submitter {
	return &ledgerSubmitter{next: next, ledger: l, sessionID: sessionID}
}

type ledgerSubmitter struct {
	next      assessment.Submitter
	ledger    *SubmissionLedger
	sessionID uuid.UUID
}

func (s *ledgerSubmitter) SubmitVideoTest(ctx context.Context, sub model.VideoSubmission) error {
	err := s.next.SubmitVideoTest(ctx, sub)

	attempt := NewSubmissionAttempt(s.sessionID, sub, err)

	// The upload context may already be spent.
	enqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerEnqueueTimeout)
	defer cancel()
	if qerr := s.ledger.Enqueue(enqCtx, attempt); qerr != nil {
		s.ledger.log.Error().Err(qerr).
			Str("session_id", s.sessionID.String()).
			Str("status", string(attempt.Status)).
			Msg("Failed to queue submission attempt")
	}

	return err
}

// NewSubmissionAttempt builds the ledger record of one upload.
func NewSubmissionAttempt(sessionID uuid.UUID, sub model.VideoSubmission, uploadErr error) *model.SubmissionAttempt {
	a := &model.SubmissionAttempt{
		ID:          uuid.New(),
		SessionID:   sessionID,
		StudentID:   sub.StudentID,
		CourseID:    sub.CourseID,
		CourseTitle: sub.CourseTitle,
		FileCount:   len(sub.Files),
		TotalBytes:  sub.TotalBytes(),
		Status:      model.SubmissionStatusAccepted,
		AttemptedAt: time.Now().UTC(),
	}
	if uploadErr != nil {
		a.Status = model.SubmissionStatusFailed
		a.Detail = uploadErr.Error()
	}
	return a
}
