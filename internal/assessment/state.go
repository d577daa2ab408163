package assessment

import (
	"sort"
	"time"

	"github.com/stemsi/vidassess/internal/model"
)

// MediaStatus tracks the capture device as seen by the session.
type MediaStatus string

const (
	MediaPending  MediaStatus = "PENDING"
	MediaReady    MediaStatus = "READY"
	MediaDenied   MediaStatus = "DENIED"
	MediaReleased MediaStatus = "RELEASED"
)

// Segment is the media captured during one recording run. The payload is
// opaque to the service.
type Segment struct {
	Chunks [][]byte
}

// Size returns the number of captured bytes.
func (s Segment) Size() int {
	n := 0
	for _, c := range s.Chunks {
		n += len(c)
	}
	return n
}

// Bytes joins the chunks into a single blob.
func (s Segment) Bytes() []byte {
	out := make([]byte, 0, s.Size())
	for _, c := range s.Chunks {
		out = append(out, c...)
	}
	return out
}

// recording is the in-flight capture for one question.
type recording struct {
	questionIndex int
	startedAt     time.Time
	segment       Segment
}

// flush is a recording the server stopped whose trailing chunks the page may
// still be sending.
type flush struct {
	questionIndex int
	until         time.Time
}

// State is the mutable state of one video test visit. It is only touched by
// Machine.Apply.
type State struct {
	Questions   []model.Question
	CourseTitle string

	CurrentIndex int
	Completed    map[int]struct{}
	Segments     map[int]Segment

	Media     MediaStatus
	recording *recording
	flush     *flush

	OverallRemaining time.Duration
	PerAnswerElapsed time.Duration

	Submitting      bool
	finalizePending bool
	Expired         bool
	Closed          bool
}

// Recording reports whether a recording is active and for which question.
func (s *State) Recording() (int, bool) {
	if s.recording == nil {
		return 0, false
	}
	return s.recording.questionIndex, true
}

// IsCompleted reports whether the question has a stored answer.
func (s *State) IsCompleted(index int) bool {
	_, ok := s.Completed[index]
	return ok
}

// CompletedIndices returns the completed question indices in ascending order.
func (s *State) CompletedIndices() []int {
	out := make([]int, 0, len(s.Completed))
	for i := range s.Completed {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Snapshot is the read model pushed to the page after every event.
type Snapshot struct {
	CourseTitle      string      `json:"course_title"`
	QuestionCount    int         `json:"question_count"`
	CurrentIndex     int         `json:"current_index"`
	Question         string      `json:"question"`
	RelatedSkill     string      `json:"related_skill,omitempty"`
	Completed        []int       `json:"completed"`
	Recording        bool        `json:"recording"`
	RecordingIndex   *int        `json:"recording_index,omitempty"`
	Media            MediaStatus `json:"media"`
	OverallRemaining int         `json:"overall_remaining"`
	PerAnswerElapsed int         `json:"per_answer_elapsed"`
	Flushing         bool        `json:"flushing"`
	Submitting       bool        `json:"submitting"`
	Expired          bool        `json:"expired"`
	Closed           bool        `json:"closed"`
}

// Snapshot builds the read model of the current state.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		CourseTitle:      s.CourseTitle,
		QuestionCount:    len(s.Questions),
		CurrentIndex:     s.CurrentIndex,
		Completed:        s.CompletedIndices(),
		Media:            s.Media,
		OverallRemaining: int(s.OverallRemaining / time.Second),
		PerAnswerElapsed: int(s.PerAnswerElapsed / time.Second),
		Flushing:         s.flush != nil,
		Submitting:       s.Submitting || s.finalizePending,
		Expired:          s.Expired,
		Closed:           s.Closed,
	}
	if s.CurrentIndex >= 0 && s.CurrentIndex < len(s.Questions) {
		q := s.Questions[s.CurrentIndex]
		snap.Question = q.Text
		snap.RelatedSkill = q.RelatedSkill
	}
	if idx, ok := s.Recording(); ok {
		snap.Recording = true
		snap.RecordingIndex = &idx
	}
	return snap
}
