package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/vidassess/internal/assessment"
	"github.com/stemsi/vidassess/internal/config"
	"github.com/stemsi/vidassess/internal/model"
)

// QuestionSource fetches question sets from the evaluation API.
type QuestionSource interface {
	GetVideoQuestions(ctx context.Context, courseID string) (*model.QuestionSet, error)
}

// QuestionService serves video question sets, cached in Redis per course.
type QuestionService struct {
	source QuestionSource
	rdb    *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewQuestionService creates a new QuestionService. A nil rdb disables caching.
func NewQuestionService(source QuestionSource, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *QuestionService {
	return &QuestionService{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "question_service").Logger(),
	}
}

// GetVideoQuestions returns the course's question set. Every failure, including
// an empty set, wraps assessment.ErrQuestionFetch.
func (s *QuestionService) GetVideoQuestions(ctx context.Context, courseID string) (*model.QuestionSet, error) {
	if set := s.cached(ctx, courseID); set != nil {
		return set, nil
	}

	set, err := s.source.GetVideoQuestions(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", assessment.ErrQuestionFetch, err)
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("%w: course %s has no video questions", assessment.ErrQuestionFetch, courseID)
	}

	s.store(ctx, courseID, set)
	return set, nil
}

func (s *QuestionService) cached(ctx context.Context, courseID string) *model.QuestionSet {
	if s.rdb == nil {
		return nil
	}

	raw, err := s.rdb.Get(ctx, config.CacheKey.VideoQuestionsKey(courseID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("course_id", courseID).Msg("Question cache read failed")
		}
		return nil
	}

	var set model.QuestionSet
	if err := json.Unmarshal(raw, &set); err != nil || set.Len() == 0 {
		return nil
	}
	return &set
}

func (s *QuestionService) store(ctx context.Context, courseID string, set *model.QuestionSet) {
	if s.rdb == nil || s.ttl <= 0 {
		return
	}

	raw, err := json.Marshal(set)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, config.CacheKey.VideoQuestionsKey(courseID), raw, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("course_id", courseID).Msg("Question cache write failed")
	}
}
