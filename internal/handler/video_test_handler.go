package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/vidassess/internal/evalapi"
	"github.com/stemsi/vidassess/internal/middleware"
	"github.com/stemsi/vidassess/internal/model"
	"github.com/stemsi/vidassess/internal/response"
	"github.com/stemsi/vidassess/internal/validator"
)

// courseURI is the :course_id path parameter shared by video test routes.
type courseURI struct {
	CourseID string `uri:"course_id" binding:"required,max=64,printascii,excludesall=/?#%"`
}

// QuestionProvider returns the question set of a course.
type QuestionProvider interface {
	GetVideoQuestions(ctx context.Context, courseID string) (*model.QuestionSet, error)
}

// SubmissionLister returns a student's recorded submission attempts.
type SubmissionLister interface {
	ListSubmissions(ctx context.Context, studentID, courseID string) ([]model.SubmissionAttempt, error)
}

// VideoTestHandler serves the REST side of the video test page.
type VideoTestHandler struct {
	questions   QuestionProvider
	submissions SubmissionLister
}

// NewVideoTestHandler creates a new VideoTestHandler.
func NewVideoTestHandler(questions QuestionProvider, submissions SubmissionLister) *VideoTestHandler {
	return &VideoTestHandler{questions: questions, submissions: submissions}
}

// GetQuestions godoc
// GET /api/v1/student/video-tests/:course_id/questions
// Returns the ordered video questions for the course.
func (h *VideoTestHandler) GetQuestions(c *gin.Context) {
	var uri courseURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	set, err := h.questions.GetVideoQuestions(c.Request.Context(), uri.CourseID)
	if err != nil {
		var apiErr *evalapi.APIError
		switch {
		case errors.Is(err, evalapi.ErrNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.As(err, &apiErr):
			response.Fail(c, http.StatusBadGateway, response.ErrEvaluationAPI)
		default:
			response.Fail(c, http.StatusBadGateway, response.ErrQuestionFetchFailed)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"course_id":    set.CourseID,
		"course_title": set.CourseTitle,
		"questions":    set.Questions,
	})
}

// ListSubmissions godoc
// GET /api/v1/student/video-tests/:course_id/submissions
// Returns the student's submission attempts for the course, newest first.
func (h *VideoTestHandler) ListSubmissions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var uri courseURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	attempts, err := h.submissions.ListSubmissions(c.Request.Context(), claims.StudentID, uri.CourseID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submissions": attempts})
}
