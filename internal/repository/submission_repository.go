package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/vidassess/internal/model"
)

// ErrAttemptRejected means the database refused the attempt itself; storing it
// again will fail the same way.
var ErrAttemptRejected = errors.New("submission attempt rejected by database")

// SubmissionRepository handles the video submission ledger.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Insert records a submission attempt. Re-delivered attempts are ignored.
func (r *SubmissionRepository) Insert(ctx context.Context, a *model.SubmissionAttempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO video_submissions
		   (id, session_id, student_id, course_id, course_title, file_count, total_bytes, status, detail, attempted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.SessionID, a.StudentID, a.CourseID, a.CourseTitle,
		a.FileCount, a.TotalBytes, a.Status, a.Detail, a.AttemptedAt,
	)
	return classifyInsertError(err)
}

// classifyInsertError marks data exceptions (class 22) and integrity
// violations (class 23) as permanent.
func classifyInsertError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")) {
		return fmt.Errorf("%w: %s (%s)", ErrAttemptRejected, pgErr.Message, pgErr.Code)
	}
	return err
}

// ListByStudentCourse returns a student's attempts for a course, newest first.
func (r *SubmissionRepository) ListByStudentCourse(ctx context.Context, studentID, courseID string, limit int) ([]model.SubmissionAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, student_id, course_id, course_title, file_count, total_bytes, status, detail, attempted_at
		 FROM video_submissions
		 WHERE student_id = $1 AND course_id = $2
		 ORDER BY attempted_at DESC
		 LIMIT $3`, studentID, courseID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.SubmissionAttempt
	for rows.Next() {
		var a model.SubmissionAttempt
		if err := rows.Scan(&a.ID, &a.SessionID, &a.StudentID, &a.CourseID, &a.CourseTitle,
			&a.FileCount, &a.TotalBytes, &a.Status, &a.Detail, &a.AttemptedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
