package assessment

import "errors"

// Sentinel errors for the video assessment workflow.
var (
	ErrPermissionDenied   = errors.New("camera or microphone permission denied")
	ErrMediaUnavailable   = errors.New("media stream is not available")
	ErrEmptySubmission    = errors.New("at least one answer is required")
	ErrUploadFailed       = errors.New("video test upload failed")
	ErrQuestionFetch      = errors.New("could not load video questions")
	ErrRecordingActive    = errors.New("a recording is already active")
	ErrNotRecording       = errors.New("no recording is active")
	ErrRetakeNotAllowed   = errors.New("retake is not allowed for this question")
	ErrIndexOutOfRange    = errors.New("question index out of range")
	ErrSubmissionInFlight = errors.New("submission already in progress")
	ErrSegmentTooLarge    = errors.New("recording exceeds the size limit")
	ErrTimeExpired        = errors.New("test time has expired")
	ErrSessionClosed      = errors.New("session is closed")
)

// NoticeCode maps a workflow error to the code shown to the student.
func NoticeCode(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, ErrMediaUnavailable):
		return "MEDIA_UNAVAILABLE"
	case errors.Is(err, ErrEmptySubmission):
		return "EMPTY_SUBMISSION"
	case errors.Is(err, ErrUploadFailed):
		return "UPLOAD_FAILED"
	case errors.Is(err, ErrQuestionFetch):
		return "QUESTION_FETCH_FAILED"
	case errors.Is(err, ErrRecordingActive):
		return "RECORDING_ACTIVE"
	case errors.Is(err, ErrNotRecording):
		return "NOT_RECORDING"
	case errors.Is(err, ErrRetakeNotAllowed):
		return "RETAKE_NOT_ALLOWED"
	case errors.Is(err, ErrIndexOutOfRange):
		return "INDEX_OUT_OF_RANGE"
	case errors.Is(err, ErrSubmissionInFlight):
		return "SUBMISSION_IN_FLIGHT"
	case errors.Is(err, ErrSegmentTooLarge):
		return "SEGMENT_TOO_LARGE"
	case errors.Is(err, ErrTimeExpired):
		return "TIME_EXPIRED"
	case errors.Is(err, ErrSessionClosed):
		return "SESSION_CLOSED"
	default:
		return "INTERNAL_ERROR"
	}
}
