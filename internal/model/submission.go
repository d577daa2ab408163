package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerFile is one recorded answer as it is sent to the evaluation API.
type AnswerFile struct {
	QuestionIndex int
	Name          string
	Data          []byte
}

// VideoSubmission is the multipart payload of a finished video test.
type VideoSubmission struct {
	StudentID   string
	CourseID    string
	CourseTitle string
	Files       []AnswerFile
}

// TotalBytes returns the combined size of all answer files.
func (s *VideoSubmission) TotalBytes() int64 {
	var n int64
	for _, f := range s.Files {
		n += int64(len(f.Data))
	}
	return n
}

// SubmissionStatus enumerates submission attempt outcomes.
type SubmissionStatus string

const (
	SubmissionStatusAccepted SubmissionStatus = "ACCEPTED"
	SubmissionStatusFailed   SubmissionStatus = "FAILED"
)

// SubmissionAttempt is one finalize attempt recorded in the submission ledger.
type SubmissionAttempt struct {
	ID          uuid.UUID        `json:"id"`
	SessionID   uuid.UUID        `json:"session_id"`
	StudentID   string           `json:"student_id"`
	CourseID    string           `json:"course_id"`
	CourseTitle string           `json:"course_title"`
	FileCount   int              `json:"file_count"`
	TotalBytes  int64            `json:"total_bytes"`
	Status      SubmissionStatus `json:"status"`
	Detail      string           `json:"detail,omitempty"`
	AttemptedAt time.Time        `json:"attempted_at"`
}
