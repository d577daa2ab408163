package websocket

import "github.com/stemsi/vidassess/internal/assessment"

// ─── Actions (Client → Server) ──────────────────────────────────────
//
// Text frames carry one JSON action. Binary frames carry media chunks for the
// active recording. The page sends its recorder's final chunk before "stop".
// When the server stops a recording itself it emits "stop_recording"; the
// page then sends whatever the recorder still holds followed by "flushed".

type Action string

const (
	ActionMediaReady  Action = "media_ready"
	ActionMediaDenied Action = "media_denied"
	ActionStart       Action = "start"
	ActionStop        Action = "stop"
	ActionFlushed     Action = "flushed"
	ActionRetake      Action = "retake"
	ActionNext        Action = "next"
	ActionPrevious    Action = "previous"
	ActionJump        Action = "jump"
	ActionFinish      Action = "finish"
	ActionPing        Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action" binding:"required"`
}

// MediaDeniedRequest reports that the page could not open the camera or
// microphone.
type MediaDeniedRequest struct {
	Action Action `json:"action"`
	Reason string `json:"reason" binding:"max=256"`
}

// JumpRequest moves to the question at Index (zero based).
type JumpRequest struct {
	Action Action `json:"action"`
	Index  *int   `json:"index" binding:"required,min=0"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState         Event = "state"
	EventTick          Event = "tick"
	EventNotice        Event = "notice"
	EventStopRecording Event = "stop_recording"
	EventReleaseMedia  Event = "release_media"
	EventRedirect      Event = "redirect"
	EventError         Event = "error"
	EventPong          Event = "pong"
)

type StateResponse struct {
	Event Event               `json:"event"`
	State assessment.Snapshot `json:"state"`
}

type TickResponse struct {
	Event            Event `json:"event"`
	OverallRemaining int   `json:"overall_remaining"`
	PerAnswerElapsed int   `json:"per_answer_elapsed"`
	Recording        bool  `json:"recording"`
	Expired          bool  `json:"expired"`
}

type NoticeResponse struct {
	Event    Event                  `json:"event"`
	Level    assessment.NoticeLevel `json:"level"`
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Blocking bool                   `json:"blocking,omitempty"`
}

type StopRecordingResponse struct {
	Event         Event `json:"event"`
	QuestionIndex int   `json:"question_index"`
}

type ReleaseMediaResponse struct {
	Event Event `json:"event"`
}

type RedirectResponse struct {
	Event Event  `json:"event"`
	To    string `json:"to"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
