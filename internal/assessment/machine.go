package assessment

import (
	"fmt"
	"time"

	"github.com/stemsi/vidassess/internal/model"
)

const (
	// DefaultDashboardPath is where the student lands after a successful submission.
	DefaultDashboardPath = "/student/dashboard"
	// DefaultFlushWindow is how long a recording stopped by the server keeps
	// accepting the page's trailing chunks.
	DefaultFlushWindow = 3 * time.Second
)

// Identity is the explicit session context of one visit.
type Identity struct {
	StudentID string
	CourseID  string
}

// MachineConfig configures a Machine.
type MachineConfig struct {
	Identity        Identity
	Questions       *model.QuestionSet
	Duration        time.Duration
	MaxSegmentBytes int
	DashboardPath   string
	FlushWindow     time.Duration
	// Now defaults to time.Now.
	Now             func() time.Time
}

// Machine is the video test state machine. Every state change goes through
// Apply; it is not safe for concurrent use and is driven by a single loop.
type Machine struct {
	identity        Identity
	maxSegmentBytes int
	dashboardPath   string
	flushWindow     time.Duration
	now             func() time.Time
	deadline        time.Time
	state           State
}

// NewMachine creates a machine positioned on the first question with the
// overall clock set to the configured budget.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.Questions.Len() == 0 {
		return nil, fmt.Errorf("%w: course %s has no video questions", ErrQuestionFetch, cfg.Identity.CourseID)
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("invalid test duration %s", cfg.Duration)
	}
	dashboard := cfg.DashboardPath
	if dashboard == "" {
		dashboard = DefaultDashboardPath
	}

	flushWindow := cfg.FlushWindow
	if flushWindow <= 0 {
		flushWindow = DefaultFlushWindow
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	questions := make([]model.Question, len(cfg.Questions.Questions))
	copy(questions, cfg.Questions.Questions)

	return &Machine{
		identity:        cfg.Identity,
		maxSegmentBytes: cfg.MaxSegmentBytes,
		dashboardPath:   dashboard,
		flushWindow:     flushWindow,
		now:             now,
		deadline:        now().Add(cfg.Duration),
		state: State{
			Questions:        questions,
			CourseTitle:      cfg.Questions.CourseTitle,
			Completed:        make(map[int]struct{}),
			Segments:         make(map[int]Segment),
			Media:            MediaPending,
			OverallRemaining: cfg.Duration,
		},
	}, nil
}

// State exposes the current state. Callers must treat it as read-only.
func (m *Machine) State() *State {
	return &m.state
}

// Apply reduces one event into the state. It returns the effects the runtime
// must carry out and, when the event was rejected, the reason. Effects may be
// returned together with an error (e.g. a recording stopped before an empty
// finalize was refused).
func (m *Machine) Apply(ev Event) ([]Effect, error) {
	if m.state.Closed {
		if _, ok := ev.(Teardown); ok {
			return nil, nil
		}
		return nil, ErrSessionClosed
	}

	switch e := ev.(type) {
	case MediaAcquired:
		return m.mediaAcquired(), nil
	case MediaFailed:
		return m.mediaFailed(e.Err), nil
	case RecordingStarted:
		return nil, m.start(e.QuestionIndex)
	case ChunkReceived:
		return nil, m.appendChunk(e.Data)
	case RecordingStopped:
		if m.state.recording == nil {
			return nil, ErrNotRecording
		}
		return m.stop(), nil
	case CaptureFlushed:
		return m.endFlush()
	case RetakeRequested:
		return nil, m.retake(e.QuestionIndex)
	case NavigateNext:
		return m.next()
	case NavigatePrevious:
		target := m.state.CurrentIndex
		if target > 0 {
			target--
		}
		return m.stopThenNavigate(target), nil
	case NavigateTo:
		if !m.inRange(e.Index) {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, e.Index)
		}
		return m.stopThenNavigate(e.Index), nil
	case Tick:
		return m.tick()
	case FinishRequested:
		return m.finish()
	case SubmissionSucceeded:
		return m.submissionSucceeded(), nil
	case SubmissionFailed:
		return nil, m.submissionFailed(e.Err)
	case Teardown:
		return m.teardown(), nil
	default:
		return nil, fmt.Errorf("unknown event %T", ev)
	}
}

// ─── Media ──────────────────────────────────────────────────────────

func (m *Machine) mediaAcquired() []Effect {
	// Only the first device report counts; there is no retry after a denial.
	if m.state.Media != MediaPending {
		return nil
	}
	m.state.Media = MediaReady
	return nil
}

func (m *Machine) mediaFailed(err error) []Effect {
	if m.state.Media != MediaPending {
		return nil
	}
	m.state.Media = MediaDenied
	msg := "Camera or microphone is unavailable. Allow access and reload the page to record answers."
	if err != nil {
		msg = err.Error() + ". Reload the page to retry."
	}
	return []Effect{Notify{
		Level:    NoticeError,
		Code:     NoticeCode(ErrPermissionDenied),
		Message:  msg,
		Blocking: true,
	}}
}

// ─── Recording ──────────────────────────────────────────────────────

func (m *Machine) start(index int) error {
	switch {
	case m.state.Expired:
		return ErrTimeExpired
	case m.state.Submitting, m.state.finalizePending:
		return ErrSubmissionInFlight
	case !m.inRange(index):
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	case m.state.Media != MediaReady:
		return ErrMediaUnavailable
	case m.state.recording != nil:
		return ErrRecordingActive
	}

	// Chunks from here on belong to the new recording.
	m.state.flush = nil
	m.state.recording = &recording{questionIndex: index, startedAt: m.now()}
	m.state.PerAnswerElapsed = 0
	return nil
}

// appendChunk adds data to the active recording, or to the segment of a
// recording the server stopped while the page is still flushing it.
func (m *Machine) appendChunk(data []byte) error {
	if rec := m.state.recording; rec != nil {
		return m.appendTo(&rec.segment, rec.questionIndex, data)
	}

	f := m.state.flush
	if f == nil {
		return ErrNotRecording
	}
	seg := m.state.Segments[f.questionIndex]
	if err := m.appendTo(&seg, f.questionIndex, data); err != nil {
		return err
	}
	m.state.Segments[f.questionIndex] = seg
	return nil
}

func (m *Machine) appendTo(seg *Segment, index int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if m.maxSegmentBytes > 0 && seg.Size()+len(data) > m.maxSegmentBytes {
		return fmt.Errorf("%w: question %d", ErrSegmentTooLarge, index+1)
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)
	seg.Chunks = append(seg.Chunks, chunk)
	return nil
}

// stop moves the active recording into the segment map. An empty recording
// still completes its question.
func (m *Machine) stop() []Effect {
	rec := m.state.recording
	m.state.recording = nil
	m.state.PerAnswerElapsed = 0

	m.state.Segments[rec.questionIndex] = rec.segment
	m.state.Completed[rec.questionIndex] = struct{}{}

	return []Effect{Notify{
		Level:   NoticeSuccess,
		Code:    "ANSWER_SAVED",
		Message: fmt.Sprintf("Answer for question %d saved.", rec.questionIndex+1),
	}}
}

// forceStop stops the recording on the server's side. The page still holds
// the recorder's tail, so the segment keeps taking chunks until the page
// reports it flushed or the flush window closes.
func (m *Machine) forceStop() []Effect {
	index := m.state.recording.questionIndex
	effects := []Effect{StopCapture{QuestionIndex: index}}
	effects = append(effects, m.stop()...)
	m.state.flush = &flush{questionIndex: index, until: m.now().Add(m.flushWindow)}
	return effects
}

// endFlush closes the flush window and runs a finalize that was waiting on it.
func (m *Machine) endFlush() ([]Effect, error) {
	if m.state.flush == nil {
		return nil, nil
	}
	m.state.flush = nil
	if !m.state.finalizePending {
		return nil, nil
	}
	m.state.finalizePending = false
	return m.finalize()
}

func (m *Machine) retake(index int) error {
	switch {
	case m.state.Expired:
		return ErrTimeExpired
	case m.state.Submitting, m.state.finalizePending:
		return ErrSubmissionInFlight
	case !m.inRange(index):
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	case m.state.recording != nil:
		return fmt.Errorf("%w: stop the active recording first", ErrRetakeNotAllowed)
	case !m.state.IsCompleted(index):
		return fmt.Errorf("%w: question %d has no answer", ErrRetakeNotAllowed, index+1)
	}

	delete(m.state.Segments, index)
	delete(m.state.Completed, index)
	if m.state.flush != nil && m.state.flush.questionIndex == index {
		m.state.flush = nil
	}
	m.state.PerAnswerElapsed = 0
	return nil
}

// ─── Navigation ─────────────────────────────────────────────────────

// stopThenNavigate stops any active recording before moving to target, so a
// recorder never outlives the question it belongs to.
func (m *Machine) stopThenNavigate(target int) []Effect {
	var effects []Effect
	if m.state.recording != nil {
		effects = m.forceStop()
	}
	m.state.CurrentIndex = target
	return effects
}

func (m *Machine) next() ([]Effect, error) {
	if m.state.CurrentIndex >= len(m.state.Questions)-1 {
		return m.finish()
	}
	return m.stopThenNavigate(m.state.CurrentIndex + 1), nil
}

func (m *Machine) inRange(index int) bool {
	return index >= 0 && index < len(m.state.Questions)
}

// ─── Timers ─────────────────────────────────────────────────────────

// tick re-reads the clock. Both timers are derived from wall time, so ticks
// the loop missed while busy do not stretch the test.
func (m *Machine) tick() ([]Effect, error) {
	now := m.now()
	if rec := m.state.recording; rec != nil {
		m.state.PerAnswerElapsed = now.Sub(rec.startedAt)
	}

	remaining := m.deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	m.state.OverallRemaining = remaining

	var effects []Effect
	if remaining == 0 && !m.state.Expired {
		// First tick past the deadline: force finalization exactly once.
		m.state.Expired = true
		effects = append(effects, Notify{
			Level:   NoticeWarning,
			Code:    NoticeCode(ErrTimeExpired),
			Message: "Time is up. Submitting your recorded answers.",
		})
		more, err := m.finish()
		effects = append(effects, more...)
		if err != nil {
			return effects, err
		}
	}

	if f := m.state.flush; f != nil && !now.Before(f.until) {
		more, err := m.endFlush()
		return append(effects, more...), err
	}
	return effects, nil
}

// ─── Submission ─────────────────────────────────────────────────────

func (m *Machine) finish() ([]Effect, error) {
	var effects []Effect
	if m.state.recording != nil {
		effects = m.forceStop()
	}
	more, err := m.finalize()
	return append(effects, more...), err
}

func (m *Machine) finalize() ([]Effect, error) {
	if m.state.Submitting {
		return nil, ErrSubmissionInFlight
	}
	if len(m.state.Completed) == 0 {
		return nil, ErrEmptySubmission
	}
	if m.state.flush != nil {
		m.state.finalizePending = true
		return []Effect{Notify{
			Level:   NoticeInfo,
			Code:    "FINISHING",
			Message: "Saving your last answer before submitting...",
		}}, nil
	}

	payload := Assemble(m.identity, m.state.CourseTitle, m.state.Segments)
	m.state.Submitting = true

	return []Effect{
		Notify{
			Level:   NoticeInfo,
			Code:    "SUBMITTING",
			Message: fmt.Sprintf("Submitting %d recorded answer(s)...", len(payload.Files)),
		},
		Submit{Payload: payload},
	}, nil
}

func (m *Machine) submissionSucceeded() []Effect {
	if !m.state.Submitting {
		return nil
	}
	m.state.Submitting = false
	m.state.Closed = true
	m.state.Media = MediaReleased
	m.state.Segments = make(map[int]Segment)
	m.state.flush = nil

	return []Effect{
		Notify{
			Level:   NoticeSuccess,
			Code:    "SUBMITTED",
			Message: "Video test submitted successfully.",
		},
		ReleaseMedia{},
		Redirect{To: m.dashboardPath},
		Close{},
	}
}

func (m *Machine) submissionFailed(cause error) error {
	if !m.state.Submitting {
		return nil
	}
	m.state.Submitting = false
	if cause == nil {
		return ErrUploadFailed
	}
	return fmt.Errorf("%w: %w", ErrUploadFailed, cause)
}

func (m *Machine) teardown() []Effect {
	// An in-flight recording is discarded; leaving the page never submits.
	m.state.recording = nil
	m.state.flush = nil
	m.state.finalizePending = false
	m.state.Closed = true
	m.state.Media = MediaReleased
	return []Effect{ReleaseMedia{}, Close{}}
}
