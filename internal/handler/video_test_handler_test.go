package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/vidassess/internal/assessment"
	"github.com/stemsi/vidassess/internal/evalapi"
	"github.com/stemsi/vidassess/internal/middleware"
	"github.com/stemsi/vidassess/internal/model"
	"github.com/stemsi/vidassess/internal/service"
)

type stubQuestions struct {
	set *model.QuestionSet
	err error
}

func (s stubQuestions) GetVideoQuestions(ctx context.Context, courseID string) (*model.QuestionSet, error) {
	return s.set, s.err
}

type stubSubmissions struct {
	attempts  []model.SubmissionAttempt
	studentID string
}

func (s *stubSubmissions) ListSubmissions(ctx context.Context, studentID, courseID string) ([]model.SubmissionAttempt, error) {
	s.studentID = studentID
	return s.attempts, nil
}

func serveVideoTest(h *VideoTestHandler, path string) *httptest.ResponseRecorder {
	r := gin.New()
	withClaims := func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{StudentID: "stu-1", TokenType: service.TokenTypeStudent})
		c.Next()
	}
	r.GET("/video-tests/:course_id/questions", withClaims, h.GetQuestions)
	r.GET("/video-tests/:course_id/submissions", withClaims, h.ListSubmissions)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestGetQuestions(t *testing.T) {
	h := NewVideoTestHandler(stubQuestions{set: &model.QuestionSet{
		CourseID:    "c-1",
		CourseTitle: "Algebra",
		Questions:   []model.Question{{Text: "Define a group", RelatedSkill: "abstraction"}},
	}}, &stubSubmissions{})

	w := serveVideoTest(h, "/video-tests/c-1/questions")
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		CourseTitle string           `json:"course_title"`
		Questions   []model.Question `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &data))
	assert.Equal(t, "Algebra", data.CourseTitle)
	require.Len(t, data.Questions, 1)
	assert.Equal(t, "abstraction", data.Questions[0].RelatedSkill)
}

func TestGetQuestionsErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("%w: %w", assessment.ErrQuestionFetch, evalapi.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"api error", fmt.Errorf("%w: %w", assessment.ErrQuestionFetch, &evalapi.APIError{StatusCode: 500}), http.StatusBadGateway, "EVALUATION_API_ERROR"},
		{"transport", fmt.Errorf("%w: %w", assessment.ErrQuestionFetch, errors.New("dial tcp")), http.StatusBadGateway, "QUESTION_FETCH_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewVideoTestHandler(stubQuestions{err: tc.err}, &stubSubmissions{})
			w := serveVideoTest(h, "/video-tests/c-1/questions")
			assert.Equal(t, tc.status, w.Code)
			env := decodeEnvelope(t, w)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.code, env.Error.Code)
		})
	}
}

func TestGetQuestionsRejectsBadCourseID(t *testing.T) {
	h := NewVideoTestHandler(stubQuestions{}, &stubSubmissions{})
	w := serveVideoTest(h, "/video-tests/%25abc/questions")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSubmissionsUsesTokenIdentity(t *testing.T) {
	subs := &stubSubmissions{attempts: []model.SubmissionAttempt{{
		StudentID:   "stu-1",
		CourseID:    "c-1",
		Status:      model.SubmissionStatusAccepted,
		FileCount:   3,
		AttemptedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}}}
	h := NewVideoTestHandler(stubQuestions{}, subs)

	w := serveVideoTest(h, "/video-tests/c-1/submissions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu-1", subs.studentID)

	var data struct {
		Submissions []model.SubmissionAttempt `json:"submissions"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &data))
	require.Len(t, data.Submissions, 1)
	assert.Equal(t, model.SubmissionStatusAccepted, data.Submissions[0].Status)
}
