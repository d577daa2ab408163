package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/vidassess/internal/assessment"
	"github.com/stemsi/vidassess/internal/config"
	"github.com/stemsi/vidassess/internal/model"
	"github.com/stemsi/vidassess/internal/repository"
)

// ErrSessionAlreadyOpen is returned when the student already has a live video
// test for the course.
var ErrSessionAlreadyOpen = errors.New("a video test for this course is already open")

const (
	lockTTL            = 90 * time.Second
	lockRefreshEvery   = 30 * time.Second
	lockReleaseTimeout = 3 * time.Second
	historyLimit       = 50
)

// releaseLockScript deletes the visit lock only if it still belongs to the
// session that took it.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshLockScript extends the visit lock only while the session still owns it.
var refreshLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// OpenParams identifies a visit and carries its page-side collaborators.
type OpenParams struct {
	StudentID string
	CourseID  string
	Device    assessment.Device
	Publisher assessment.Publisher
}

// VideoTestService opens video test sessions and serves submission history.
type VideoTestService struct {
	cfg       *config.Config
	questions *QuestionService
	submitter assessment.Submitter
	ledger    *SubmissionLedger
	repo      *repository.SubmissionRepository
	rdb       *redis.Client
	log       zerolog.Logger

	lockTTL     time.Duration
	lockRefresh time.Duration
}

// NewVideoTestService creates a new VideoTestService.
func NewVideoTestService(
	cfg *config.Config,
	questions *QuestionService,
	submitter assessment.Submitter,
	ledger *SubmissionLedger,
	repo *repository.SubmissionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *VideoTestService {
	return &VideoTestService{
		cfg:       cfg,
		questions: questions,
		submitter: submitter,
		ledger:    ledger,
		repo:      repo,
		rdb:       rdb,
		log:       log,

		lockTTL:     lockTTL,
		lockRefresh: lockRefreshEvery,
	}
}

// Open starts a visit: it takes the student's single-visit lock for the
// course, loads the questions and builds the session. The lock is kept alive
// until the returned release func is called, which must happen once the
// session and its uploads are done.
func (s *VideoTestService) Open(ctx context.Context, p OpenParams) (*assessment.Session, func(), error) {
	sessionID := uuid.New()
	lockKey := config.CacheKey.ActiveVideoTestKey(p.StudentID, p.CourseID)

	ok, err := s.rdb.SetNX(ctx, lockKey, sessionID.String(), s.lockTTL).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("take visit lock: %w", err)
	}
	if !ok {
		return nil, nil, ErrSessionAlreadyOpen
	}

	keepCtx, stopKeeping := context.WithCancel(context.WithoutCancel(ctx))
	go s.keepLock(keepCtx, lockKey, sessionID)

	var once sync.Once
	release := func() {
		once.Do(func() {
			stopKeeping()
			rctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
			defer cancel()
			if err := releaseLockScript.Run(rctx, s.rdb, []string{lockKey}, sessionID.String()).Err(); err != nil {
				s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to release visit lock")
			}
		})
	}

	set, err := s.questions.GetVideoQuestions(ctx, p.CourseID)
	if err != nil {
		release()
		return nil, nil, err
	}

	sess, err := assessment.NewSession(assessment.SessionConfig{
		ID:              sessionID,
		Identity:        assessment.Identity{StudentID: p.StudentID, CourseID: p.CourseID},
		Questions:       set,
		Duration:        s.cfg.VideoTestDuration,
		MaxSegmentBytes: s.cfg.MaxSegmentBytes,
		DashboardPath:   s.cfg.DashboardPath,
		SubmitTimeout:   s.cfg.SubmitTimeout,
	}, assessment.SessionDeps{
		Device:    p.Device,
		Submitter: s.ledger.Wrap(s.submitter, sessionID),
		Publisher: p.Publisher,
		Log:       s.log,
	})
	if err != nil {
		release()
		return nil, nil, err
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Str("student_id", p.StudentID).
		Str("course_id", p.CourseID).
		Int("questions", set.Len()).
		Msg("Video test opened")

	return sess, release, nil
}

// keepLock extends the visit lock until ctx is cancelled. A lost lock is
// logged and no longer refreshed.
func (s *VideoTestService) keepLock(ctx context.Context, key string, sessionID uuid.UUID) {
	t := time.NewTicker(s.lockRefresh)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := refreshLockScript.Run(ctx, s.rdb, []string{key}, sessionID.String(), s.lockTTL.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to refresh visit lock")
				}
				continue
			}
			if n == 0 {
				s.log.Warn().Str("session_id", sessionID.String()).Msg("Visit lock lost")
				return
			}
		}
	}
}

// ListSubmissions returns the student's recorded submission attempts for a
// course, newest first.
func (s *VideoTestService) ListSubmissions(ctx context.Context, studentID, courseID string) ([]model.SubmissionAttempt, error) {
	attempts, err := s.repo.ListByStudentCourse(ctx, studentID, courseID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	if attempts == nil {
		attempts = []model.SubmissionAttempt{}
	}
	return attempts, nil
}
