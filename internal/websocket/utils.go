package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/vidassess/internal/assessment"
)

const writeWait = 10 * time.Second

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// Stream serializes writes to one connection. gorilla/websocket allows a
// single concurrent writer; the session loop, the read loop and the media
// release callback all write through here.
type Stream struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  zerolog.Logger
}

// NewStream wraps conn.
func NewStream(conn *websocket.Conn, log zerolog.Logger) *Stream {
	return &Stream{conn: conn, log: log}
}

// Send writes v as one JSON text frame.
func (s *Stream) Send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteTyped(s.conn, v)
}

// SendError writes an error event.
func (s *Stream) SendError(code, msg string) error {
	return s.Send(ErrorResponse{Event: EventError, Code: code, Error: msg})
}

// ReleaseMedia tells the page to stop every capture track.
func (s *Stream) ReleaseMedia() error {
	return s.Send(ReleaseMediaResponse{Event: EventReleaseMedia})
}

// Ping sends a control ping; the peer's pong extends the read deadline.
func (s *Stream) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame with the given code.
func (s *Stream) Close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// Publish implements assessment.Publisher. Write failures are logged; the
// read loop notices the broken connection and tears the session down.
func (s *Stream) Publish(u assessment.Update) {
	var v interface{}

	switch u.Kind {
	case assessment.UpdateState:
		if u.Snapshot == nil {
			return
		}
		v = StateResponse{Event: EventState, State: *u.Snapshot}
	case assessment.UpdateTick:
		if u.Snapshot == nil {
			return
		}
		v = TickResponse{
			Event:            EventTick,
			OverallRemaining: u.Snapshot.OverallRemaining,
			PerAnswerElapsed: u.Snapshot.PerAnswerElapsed,
			Recording:        u.Snapshot.Recording,
			Expired:          u.Snapshot.Expired,
		}
	case assessment.UpdateNotice:
		if u.Notice == nil {
			return
		}
		v = NoticeResponse{
			Event:    EventNotice,
			Level:    u.Notice.Level,
			Code:     u.Notice.Code,
			Message:  u.Notice.Message,
			Blocking: u.Notice.Blocking,
		}
	case assessment.UpdateStopCapture:
		v = StopRecordingResponse{Event: EventStopRecording, QuestionIndex: u.QuestionIndex}
	case assessment.UpdateRedirect:
		v = RedirectResponse{Event: EventRedirect, To: u.RedirectTo}
	default:
		return
	}

	if err := s.Send(v); err != nil {
		s.log.Debug().Err(err).Str("kind", string(u.Kind)).Msg("Publish failed")
	}
}

var _ assessment.Publisher = (*Stream)(nil)
