// Package evalapi talks to the evaluation backend that generates video
// questions and scores submitted answers.
package evalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/vidassess/internal/config"
	"github.com/stemsi/vidassess/internal/model"
)

const (
	videoQuestionsPath = "/ai/get/video-questions/"
	submitVideoPath    = "/student/submit-video-test"

	answerContentType = "video/mp4"
	maxErrorBody      = 64 * 1024
)

// ErrNotFound is returned when the backend has no question set for a course.
var ErrNotFound = errors.New("not found")

// APIError is a non-success response from the evaluation API.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("evaluation api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("evaluation api returned %d: %s", e.StatusCode, e.Detail)
}

// Client is an HTTP client for the evaluation API.
type Client struct {
	baseURL      string
	http         *http.Client
	queryTimeout time.Duration
	log          zerolog.Logger
}

// NewClient creates a Client from configuration.
func NewClient(cfg *config.Config, log zerolog.Logger) *Client {
	return NewClientWithHTTP(cfg.EvalAPIURL, &http.Client{}, cfg.EvalAPITimeout, log)
}

// NewClientWithHTTP creates a Client with a caller-supplied http.Client.
// queryTimeout bounds question lookups; uploads use the caller's context
// deadline only, so hc.Timeout should stay zero.
func NewClientWithHTTP(baseURL string, hc *http.Client, queryTimeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         hc,
		queryTimeout: queryTimeout,
		log:          log.With().Str("component", "evalapi").Logger(),
	}
}

type videoQuestionsResponse struct {
	VideoQuestions []model.Question `json:"videoQuestions"`
	CourseTitle    string           `json:"courseTitle"`
}

// GetVideoQuestions fetches the ordered video question set for a course.
func (c *Client) GetVideoQuestions(ctx context.Context, courseID string) (*model.QuestionSet, error) {
	if c.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}

	endpoint := c.baseURL + videoQuestionsPath + url.PathEscape(courseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get video questions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("video questions for course %s: %w", courseID, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp)
	}

	var body videoQuestionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode video questions: %w", err)
	}

	return &model.QuestionSet{
		CourseID:    courseID,
		CourseTitle: body.CourseTitle,
		Questions:   body.VideoQuestions,
	}, nil
}

// SubmitVideoTest uploads every recorded answer in a single multipart request.
// The files are sent under the repeated "files" field, named Q<n>.mp4.
func (c *Client) SubmitVideoTest(ctx context.Context, sub model.VideoSubmission) error {
	body, contentType, err := encodeSubmission(sub)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitVideoPath, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("submit video test: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Int("status", resp.StatusCode).
		Str("student_id", sub.StudentID).
		Str("course_id", sub.CourseID).
		Int("files", len(sub.Files)).
		Dur("took", time.Since(started)).
		Msg("Submission response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func encodeSubmission(sub model.VideoSubmission) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fields := []struct{ name, value string }{
		{"studentId", sub.StudentID},
		{"courseId", sub.CourseID},
		{"courseTitle", sub.CourseTitle},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}

	for _, f := range sub.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, f.Name))
		h.Set("Content-Type", answerContentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// decodeError turns a non-success response into an *APIError, reading the
// FastAPI-style {"detail": ...} body when present.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && len(body.Detail) > 0 {
		var msg string
		if err := json.Unmarshal(body.Detail, &msg); err == nil {
			apiErr.Detail = msg
		} else {
			apiErr.Detail = string(body.Detail)
		}
		return apiErr
	}

	apiErr.Detail = strings.TrimSpace(string(raw))
	return apiErr
}
