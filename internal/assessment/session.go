package assessment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/vidassess/internal/model"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// ID is generated when zero.
	ID              uuid.UUID
	Identity        Identity
	Questions       *model.QuestionSet
	Duration        time.Duration
	MaxSegmentBytes int
	DashboardPath   string
	SubmitTimeout   time.Duration
	FlushWindow     time.Duration
}

// SessionDeps are the collaborators of a Session.
type SessionDeps struct {
	Device    Device
	Submitter Submitter
	Publisher Publisher
	// NewTicker defaults to NewWallTicker.
	NewTicker func(time.Duration) Ticker
	// Now defaults to time.Now.
	Now       func() time.Time
	Log       zerolog.Logger
}

// Session runs one video test visit. All state changes happen on the loop
// started by Run; the exported methods post events to it and wait for the
// outcome.
type Session struct {
	id            uuid.UUID
	machine       *Machine
	device        Device
	submitter     Submitter
	publisher     Publisher
	newTicker     func(time.Duration) Ticker
	submitTimeout time.Duration
	log           zerolog.Logger

	commands    chan command
	done        chan struct{}
	settled     chan struct{}
	uploads     sync.WaitGroup
	releaseOnce sync.Once
	runCtx      context.Context
}

type command struct {
	ev    Event
	reply chan error
}

// startCurrent and retakeCurrent are resolved against the current question
// inside the loop.
type startCurrent struct{}
type retakeCurrent struct{}

func (startCurrent) eventName() string  { return "start_current" }
func (retakeCurrent) eventName() string { return "retake_current" }

// NewSession builds a session. It fails with ErrQuestionFetch when the
// question set is empty.
func NewSession(cfg SessionConfig, deps SessionDeps) (*Session, error) {
	machine, err := NewMachine(MachineConfig{
		Identity:        cfg.Identity,
		Questions:       cfg.Questions,
		Duration:        cfg.Duration,
		MaxSegmentBytes: cfg.MaxSegmentBytes,
		DashboardPath:   cfg.DashboardPath,
		FlushWindow:     cfg.FlushWindow,
		Now:             deps.Now,
	})
	if err != nil {
		return nil, err
	}

	newTicker := deps.NewTicker
	if newTicker == nil {
		newTicker = NewWallTicker
	}
	submitTimeout := cfg.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = 2 * time.Minute
	}

	id := cfg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Session{
		id:            id,
		machine:       machine,
		device:        deps.Device,
		submitter:     deps.Submitter,
		publisher:     deps.Publisher,
		newTicker:     newTicker,
		submitTimeout: submitTimeout,
		log: deps.Log.With().
			Str("component", "video_session").
			Str("session_id", id.String()).
			Str("student_id", cfg.Identity.StudentID).
			Str("course_id", cfg.Identity.CourseID).
			Logger(),
		commands: make(chan command),
		done:     make(chan struct{}),
		settled:  make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Done is closed when the loop has exited and resources are released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Settled is closed after Done once every upload the session started has
// returned.
func (s *Session) Settled() <-chan struct{} { return s.settled }

// ─── Actions ────────────────────────────────────────────────────────

// Start begins recording the current question.
func (s *Session) Start() error { return s.Dispatch(startCurrent{}) }

// Stop finalizes the active recording.
func (s *Session) Stop() error { return s.Dispatch(RecordingStopped{}) }

// Retake discards the answer of the current question.
func (s *Session) Retake() error { return s.Dispatch(retakeCurrent{}) }

// Next moves forward or finalizes on the last question.
func (s *Session) Next() error { return s.Dispatch(NavigateNext{}) }

// Previous moves back one question.
func (s *Session) Previous() error { return s.Dispatch(NavigatePrevious{}) }

// JumpTo moves to any question.
func (s *Session) JumpTo(index int) error { return s.Dispatch(NavigateTo{Index: index}) }

// Finish stops any active recording and submits.
func (s *Session) Finish() error { return s.Dispatch(FinishRequested{}) }

// PushChunk appends captured media to the active recording.
func (s *Session) PushChunk(data []byte) error { return s.Dispatch(ChunkReceived{Data: data}) }

// Flushed reports that the page has sent the tail of a recording the server
// stopped.
func (s *Session) Flushed() error { return s.Dispatch(CaptureFlushed{}) }

// Dispatch posts an event to the loop and waits until it has been applied.
// It returns ErrSessionClosed once the loop has exited.
func (s *Session) Dispatch(ev Event) error {
	reply := make(chan error, 1)
	select {
	case s.commands <- command{ev: ev, reply: reply}:
	case <-s.done:
		return ErrSessionClosed
	}
	// The loop always answers a command it has received.
	return <-reply
}

// ─── Loop ───────────────────────────────────────────────────────────

// Run drives the session until it is torn down, submitted, or ctx is
// cancelled. The capture device and the ticker are released on every exit
// path.
func (s *Session) Run(ctx context.Context) {
	s.runCtx = ctx
	ticker := s.newTicker(time.Second)

	acquireCtx, cancelAcquire := context.WithCancel(ctx)

	defer func() {
		cancelAcquire()
		ticker.Stop()
		s.releaseMedia()
		close(s.done)
		s.log.Info().Msg("Session closed")

		go func() {
			s.uploads.Wait()
			close(s.settled)
		}()
	}()

	s.log.Info().
		Int("questions", len(s.machine.State().Questions)).
		Dur("duration", s.machine.State().OverallRemaining).
		Msg("Session started")

	go s.acquire(acquireCtx)
	s.publishState(UpdateState)

	for {
		select {
		case <-ctx.Done():
			s.handle(Teardown{})
			return

		case <-ticker.C():
			s.handle(Tick{})
			if s.machine.State().Closed {
				return
			}

		case cmd := <-s.commands:
			cmd.reply <- s.handle(cmd.ev)
			if s.machine.State().Closed {
				return
			}
		}
	}
}

// handle applies one event, carries out its effects and reports rejections
// to the page.
func (s *Session) handle(ev Event) error {
	state := s.machine.State()
	switch ev.(type) {
	case startCurrent:
		ev = RecordingStarted{QuestionIndex: state.CurrentIndex}
	case retakeCurrent:
		ev = RetakeRequested{QuestionIndex: state.CurrentIndex}
	}

	effects, err := s.machine.Apply(ev)
	for _, eff := range effects {
		s.perform(eff)
	}

	if err != nil {
		s.reject(ev, err)
	}

	switch ev.(type) {
	case ChunkReceived:
		// Chunks do not change anything the page renders.
	case Tick:
		s.publishState(UpdateTick)
	default:
		s.publishState(UpdateState)
	}
	return err
}

func (s *Session) perform(eff Effect) {
	switch e := eff.(type) {
	case Notify:
		n := e
		s.publisher.Publish(Update{Kind: UpdateNotice, Notice: &n})
	case Submit:
		s.uploads.Add(1)
		go s.upload(e.Payload)
	case StopCapture:
		s.publisher.Publish(Update{Kind: UpdateStopCapture, QuestionIndex: e.QuestionIndex})
	case ReleaseMedia:
		s.releaseMedia()
	case Redirect:
		s.publisher.Publish(Update{Kind: UpdateRedirect, RedirectTo: e.To})
	case Close:
		s.log.Debug().Msg("Close requested")
	}
}

func (s *Session) reject(ev Event, err error) {
	if _, ok := ev.(ChunkReceived); ok && errors.Is(err, ErrNotRecording) {
		s.log.Debug().Msg("Dropped chunk outside a recording")
		return
	}

	level := NoticeWarning
	logEvent := s.log.Warn()
	if errors.Is(err, ErrUploadFailed) || errors.Is(err, ErrSegmentTooLarge) {
		level = NoticeError
		logEvent = s.log.Error()
	}
	logEvent.Err(err).Str("event", EventName(ev)).Msg("Event rejected")

	s.publisher.Publish(Update{Kind: UpdateNotice, Notice: &Notify{
		Level:   level,
		Code:    NoticeCode(err),
		Message: err.Error(),
	}})
}

func (s *Session) publishState(kind UpdateKind) {
	snap := s.machine.State().Snapshot()
	s.publisher.Publish(Update{Kind: kind, Snapshot: &snap})
}

// ─── Background work ────────────────────────────────────────────────

func (s *Session) acquire(ctx context.Context) {
	err := s.device.Acquire(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("Media acquisition failed")
		_ = s.Dispatch(MediaFailed{Err: err})
		return
	}
	_ = s.Dispatch(MediaAcquired{})
}

// upload runs outside the loop so ticks and navigation are never blocked. It
// is detached from the page connection: a submission already on its way is
// not aborted when the student closes the tab.
func (s *Session) upload(payload model.VideoSubmission) {
	defer s.uploads.Done()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.runCtx), s.submitTimeout)
	defer cancel()

	started := time.Now()
	err := s.submitter.SubmitVideoTest(ctx, payload)

	logEvent := s.log.Info()
	if err != nil {
		logEvent = s.log.Error().Err(err)
	}
	logEvent.
		Int("files", len(payload.Files)).
		Int64("bytes", payload.TotalBytes()).
		Dur("took", time.Since(started)).
		Msg("Video test upload finished")

	if err != nil {
		_ = s.Dispatch(SubmissionFailed{Err: err})
		return
	}
	_ = s.Dispatch(SubmissionSucceeded{})
}

func (s *Session) releaseMedia() {
	s.releaseOnce.Do(func() {
		if err := s.device.Release(); err != nil {
			s.log.Warn().Err(err).Msg("Media release failed")
		}
	})
}
