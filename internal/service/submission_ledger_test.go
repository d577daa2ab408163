package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/vidassess/internal/config"
	"github.com/stemsi/vidassess/internal/model"
)

func TestNewSubmissionAttempt(t *testing.T) {
	sessionID := uuid.New()
	sub := model.VideoSubmission{
		StudentID:   "stu-1",
		CourseID:    "c-1",
		CourseTitle: "Biology",
		Files: []model.AnswerFile{
			{Name: "Q1.mp4", Data: make([]byte, 10)},
			{Name: "Q2.mp4", Data: make([]byte, 5)},
		},
	}

	ok := NewSubmissionAttempt(sessionID, sub, nil)
	assert.Equal(t, sessionID, ok.SessionID)
	assert.Equal(t, model.SubmissionStatusAccepted, ok.Status)
	assert.Equal(t, 2, ok.FileCount)
	assert.EqualValues(t, 15, ok.TotalBytes)
	assert.Empty(t, ok.Detail)
	assert.NotEqual(t, uuid.Nil, ok.ID)

	failed := NewSubmissionAttempt(sessionID, sub, errors.New("evaluation api returned 502"))
	assert.Equal(t, model.SubmissionStatusFailed, failed.Status)
	assert.Equal(t, "evaluation api returned 502", failed.Detail)
	assert.NotEqual(t, ok.ID, failed.ID)
}

func TestLedgerQueuesEveryAttempt(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ledger := NewSubmissionLedger(rdb, zerolog.Nop())
	sessionID := uuid.New()
	sub := model.VideoSubmission{
		StudentID:   "stu-1",
		CourseID:    "c-1",
		CourseTitle: "Biology",
		Files:       []model.AnswerFile{{Name: "Q1.mp4", Data: []byte("abc")}},
	}

	upstream := errors.New("evaluation api returned 500")
	err := ledger.Wrap(stubSubmitter{err: upstream}, sessionID).SubmitVideoTest(context.Background(), sub)
	assert.ErrorIs(t, err, upstream)

	// A context that is already cancelled still gets its attempt recorded.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, ledger.Wrap(stubSubmitter{}, sessionID).SubmitVideoTest(ctx, sub))

	raw, err := mr.List(config.WorkerKey.PersistSubmissionsQueue)
	require.NoError(t, err)
	require.Len(t, raw, 2)

	var failed, accepted model.SubmissionAttempt
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &failed))
	require.NoError(t, json.Unmarshal([]byte(raw[1]), &accepted))

	assert.Equal(t, model.SubmissionStatusFailed, failed.Status)
	assert.Equal(t, upstream.Error(), failed.Detail)
	assert.Equal(t, sessionID, failed.SessionID)
	assert.Equal(t, model.SubmissionStatusAccepted, accepted.Status)
	assert.Equal(t, 1, accepted.FileCount)
	assert.EqualValues(t, 3, accepted.TotalBytes)
}
