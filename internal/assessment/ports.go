package assessment

import (
	"context"
	"time"

	"github.com/stemsi/vidassess/internal/model"
)

// Device is the camera/microphone capture adapter. Acquire is called once per
// session and fails with ErrPermissionDenied when access is refused or no
// device exists. Release must be idempotent.
type Device interface {
	Acquire(ctx context.Context) error
	Release() error
}

// Submitter uploads a finished video test to the evaluation API.
type Submitter interface {
	SubmitVideoTest(ctx context.Context, sub model.VideoSubmission) error
}

// UpdateKind tags an Update pushed to the page.
type UpdateKind string

const (
	UpdateState       UpdateKind = "state"
	UpdateTick        UpdateKind = "tick"
	UpdateNotice      UpdateKind = "notice"
	UpdateStopCapture UpdateKind = "stop_capture"
	UpdateRedirect    UpdateKind = "redirect"
)

// Update is one message from the session to the page.
type Update struct {
	Kind          UpdateKind
	Snapshot      *Snapshot
	Notice        *Notify
	RedirectTo    string
	// QuestionIndex is set on UpdateStopCapture.
	QuestionIndex int
}

// Publisher delivers updates to the page. Publish is only ever called from the
// session loop.
type Publisher interface {
	Publish(u Update)
}

// Ticker is the fixed one-second clock that drives both timers.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type wallTicker struct {
	t *time.Ticker
}

// NewWallTicker returns a Ticker backed by time.Ticker.
func NewWallTicker(d time.Duration) Ticker {
	return wallTicker{t: time.NewTicker(d)}
}

func (w wallTicker) C() <-chan time.Time { return w.t.C }
func (w wallTicker) Stop()               { w.t.Stop() }
