package assessment

import "github.com/stemsi/vidassess/internal/model"

// Event is an input to the session state machine. Page actions, media
// callbacks, timer ticks and upload results are all events.
type Event interface {
	eventName() string
}

// ─── Media ──────────────────────────────────────────────────────────

// MediaAcquired reports that the capture device granted a live stream.
type MediaAcquired struct{}

// MediaFailed reports that the capture device could not be acquired.
type MediaFailed struct {
	Err error
}

// RecordingStarted begins a recording for QuestionIndex.
type RecordingStarted struct {
	QuestionIndex int
}

// ChunkReceived carries one piece of captured media for the active recording.
type ChunkReceived struct {
	Data []byte
}

// RecordingStopped finalizes the active recording.
type RecordingStopped struct{}

// CaptureFlushed reports that the page has sent the last chunk of a recording
// the server stopped.
type CaptureFlushed struct{}

// RetakeRequested discards the stored answer for QuestionIndex.
type RetakeRequested struct {
	QuestionIndex int
}

// ─── Navigation ─────────────────────────────────────────────────────

// NavigateNext moves forward, or finalizes on the last question.
type NavigateNext struct{}

// NavigatePrevious moves back one question.
type NavigatePrevious struct{}

// NavigateTo jumps to an arbitrary question.
type NavigateTo struct {
	Index int
}

// ─── Timers & submission ────────────────────────────────────────────

// Tick asks the machine to re-read the clock.
type Tick struct{}

// FinishRequested is the "Finish Test" action.
type FinishRequested struct{}

// SubmissionSucceeded reports an accepted upload.
type SubmissionSucceeded struct{}

// SubmissionFailed reports a failed upload.
type SubmissionFailed struct {
	Err error
}

// Teardown ends the visit without submitting (page left, connection lost).
type Teardown struct{}

func (MediaAcquired) eventName() string       { return "media_acquired" }
func (MediaFailed) eventName() string         { return "media_failed" }
func (RecordingStarted) eventName() string    { return "recording_started" }
func (ChunkReceived) eventName() string       { return "chunk_received" }
func (RecordingStopped) eventName() string    { return "recording_stopped" }
func (CaptureFlushed) eventName() string      { return "capture_flushed" }
func (RetakeRequested) eventName() string     { return "retake_requested" }
func (NavigateNext) eventName() string        { return "navigate_next" }
func (NavigatePrevious) eventName() string    { return "navigate_previous" }
func (NavigateTo) eventName() string          { return "navigate_to" }
func (Tick) eventName() string                { return "tick" }
func (FinishRequested) eventName() string     { return "finish_requested" }
func (SubmissionSucceeded) eventName() string { return "submission_succeeded" }
func (SubmissionFailed) eventName() string    { return "submission_failed" }
func (Teardown) eventName() string            { return "teardown" }

// EventName returns the wire-friendly name of an event, used in logs.
func EventName(ev Event) string {
	return ev.eventName()
}

// ─── Effects ────────────────────────────────────────────────────────

// Effect is an instruction produced by the state machine for the runtime.
type Effect interface {
	effectName() string
}

// NoticeLevel is the severity of a student-facing notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notify shows a transient notice to the student.
type Notify struct {
	Level    NoticeLevel
	Code     string
	Message  string
	Blocking bool
}

// Submit asks the runtime to upload the assembled payload.
type Submit struct {
	Payload model.VideoSubmission
}

// StopCapture tells the page to stop its recorder and send what it still
// holds for QuestionIndex.
type StopCapture struct {
	QuestionIndex int
}

// ReleaseMedia asks the runtime to stop the capture device.
type ReleaseMedia struct{}

// Redirect sends the student to another page.
type Redirect struct {
	To string
}

// Close ends the session runtime.
type Close struct{}

func (Notify) effectName() string       { return "notify" }
func (Submit) effectName() string       { return "submit" }
func (StopCapture) effectName() string  { return "stop_capture" }
func (ReleaseMedia) effectName() string { return "release_media" }
func (Redirect) effectName() string     { return "redirect" }
func (Close) effectName() string        { return "close" }
