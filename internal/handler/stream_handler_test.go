package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/vidassess/internal/assessment"
	"github.com/stemsi/vidassess/internal/middleware"
	"github.com/stemsi/vidassess/internal/model"
	"github.com/stemsi/vidassess/internal/service"
	"github.com/stemsi/vidassess/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type idleTicker struct{ c chan time.Time }

func (t idleTicker) C() <-chan time.Time { return t.c }
func (t idleTicker) Stop()               {}

type recordingSubmitter struct {
	mu   sync.Mutex
	subs []model.VideoSubmission
}

func (s *recordingSubmitter) SubmitVideoTest(ctx context.Context, sub model.VideoSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
	return nil
}

func (s *recordingSubmitter) submissions() []model.VideoSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.VideoSubmission(nil), s.subs...)
}

type fakeOpener struct {
	err       error
	submitter *recordingSubmitter
	released  atomic.Bool
}

func (o *fakeOpener) Open(ctx context.Context, p service.OpenParams) (*assessment.Session, func(), error) {
	if o.err != nil {
		return nil, nil, o.err
	}
	sess, err := assessment.NewSession(assessment.SessionConfig{
		Identity: assessment.Identity{StudentID: p.StudentID, CourseID: p.CourseID},
		Questions: &model.QuestionSet{
			CourseID:    p.CourseID,
			CourseTitle: "Chemistry",
			Questions:   []model.Question{{Text: "Q one"}, {Text: "Q two"}},
		},
		Duration: time.Minute,
	}, assessment.SessionDeps{
		Device:    p.Device,
		Submitter: o.submitter,
		Publisher: p.Publisher,
		NewTicker: func(time.Duration) assessment.Ticker { return idleTicker{c: make(chan time.Time)} },
		Log:       zerolog.Nop(),
	})
	if err != nil {
		return nil, nil, err
	}
	return sess, func() { o.released.Store(true) }, nil
}

func startStreamServer(t *testing.T, opener SessionOpener) *websocket.Conn {
	t.Helper()

	h := NewStreamHandler(opener, zerolog.Nop(), nil, 1<<20)
	r := gin.New()
	r.GET("/ws/:course_id", func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{StudentID: "stu-1", TokenType: service.TokenTypeStudent})
		c.Next()
	}, h.VideoTestStream)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/course-9"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads events until match returns true and returns that event.
func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var ev map[string]any
		require.NoError(t, conn.ReadJSON(&ev))
		if match(ev) {
			return ev
		}
	}
}

func isEvent(name string) func(map[string]any) bool {
	return func(ev map[string]any) bool { return ev["event"] == name }
}

func stateWhere(pred func(state map[string]any) bool) func(map[string]any) bool {
	return func(ev map[string]any) bool {
		if ev["event"] != "state" {
			return false
		}
		state, ok := ev["state"].(map[string]any)
		return ok && pred(state)
	}
}

func noticeCode(code string) func(map[string]any) bool {
	return func(ev map[string]any) bool {
		return ev["event"] == "notice" && ev["code"] == code
	}
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func TestStreamRecordAndSubmit(t *testing.T) {
	sub := &recordingSubmitter{}
	opener := &fakeOpener{submitter: sub}
	conn := startStreamServer(t, opener)

	first := readUntil(t, conn, isEvent("state"))
	state := first["state"].(map[string]any)
	assert.Equal(t, "Chemistry", state["course_title"])
	assert.Equal(t, "PENDING", state["media"])

	send(t, conn, `{"action":"media_ready"}`)
	readUntil(t, conn, stateWhere(func(s map[string]any) bool { return s["media"] == "READY" }))

	send(t, conn, `{"action":"start"}`)
	readUntil(t, conn, stateWhere(func(s map[string]any) bool { return s["recording"] == true }))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("frame-1")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("frame-2")))

	send(t, conn, `{"action":"stop"}`)
	readUntil(t, conn, noticeCode("ANSWER_SAVED"))

	send(t, conn, `{"action":"finish"}`)
	readUntil(t, conn, isEvent("release_media"))
	redirect := readUntil(t, conn, isEvent("redirect"))
	assert.Equal(t, assessment.DefaultDashboardPath, redirect["to"])

	// The server closes the socket once the session is over.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			break
		}
	}

	subs := sub.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "stu-1", subs[0].StudentID)
	assert.Equal(t, "course-9", subs[0].CourseID)
	require.Len(t, subs[0].Files, 1)
	assert.Equal(t, "Q1.mp4", subs[0].Files[0].Name)
	assert.Equal(t, "frame-1frame-2", string(subs[0].Files[0].Data))

	assert.Eventually(t, opener.released.Load, time.Second, 10*time.Millisecond)
}

func TestStreamProtocolErrors(t *testing.T) {
	conn := startStreamServer(t, &fakeOpener{submitter: &recordingSubmitter{}})
	readUntil(t, conn, isEvent("state"))

	send(t, conn, `not json`)
	ev := readUntil(t, conn, isEvent("error"))
	assert.Equal(t, "INVALID_PAYLOAD", ev["code"])

	send(t, conn, `{"action":"dance"}`)
	ev = readUntil(t, conn, isEvent("error"))
	assert.Equal(t, "UNKNOWN_ACTION", ev["code"])

	send(t, conn, `{"action":"jump"}`)
	ev = readUntil(t, conn, isEvent("error"))
	assert.Equal(t, "VALIDATION_ERROR", ev["code"])

	send(t, conn, `{"action":"ping"}`)
	readUntil(t, conn, isEvent("pong"))
}

func TestStreamWorkflowRejectionsAreNotices(t *testing.T) {
	conn := startStreamServer(t, &fakeOpener{submitter: &recordingSubmitter{}})
	readUntil(t, conn, isEvent("state"))

	// Media has not been granted yet.
	send(t, conn, `{"action":"start"}`)
	readUntil(t, conn, noticeCode("MEDIA_UNAVAILABLE"))

	send(t, conn, `{"action":"finish"}`)
	readUntil(t, conn, noticeCode("EMPTY_SUBMISSION"))
}

func TestStreamMediaDenied(t *testing.T) {
	conn := startStreamServer(t, &fakeOpener{submitter: &recordingSubmitter{}})
	readUntil(t, conn, isEvent("state"))

	send(t, conn, `{"action":"media_denied","reason":"NotAllowedError"}`)
	ev := readUntil(t, conn, noticeCode("PERMISSION_DENIED"))
	assert.Equal(t, true, ev["blocking"])
	readUntil(t, conn, stateWhere(func(s map[string]any) bool { return s["media"] == "DENIED" }))
}

func TestStreamOpenRejected(t *testing.T) {
	conn := startStreamServer(t, &fakeOpener{err: service.ErrSessionAlreadyOpen})

	ev := readUntil(t, conn, isEvent("error"))
	assert.Equal(t, "SESSION_ALREADY_OPEN", ev["code"])

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestStreamNavigationWaitsForRecorderTail(t *testing.T) {
	sub := &recordingSubmitter{}
	opener := &fakeOpener{submitter: sub}
	conn := startStreamServer(t, opener)
	readUntil(t, conn, isEvent("state"))

	send(t, conn, `{"action":"media_ready"}`)
	readUntil(t, conn, stateWhere(func(s map[string]any) bool { return s["media"] == "READY" }))
	send(t, conn, `{"action":"start"}`)
	readUntil(t, conn, stateWhere(func(s map[string]any) bool { return s["recording"] == true }))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("head")))

	send(t, conn, `{"action":"next"}`)
	stop := readUntil(t, conn, isEvent("stop_recording"))
	assert.EqualValues(t, 0, stop["question_index"])

	// The recorder's last chunk lands after the server stopped the answer.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("-tail")))
	send(t, conn, `{"action":"flushed"}`)

	send(t, conn, `{"action":"finish"}`)
	readUntil(t, conn, isEvent("redirect"))

	require.Eventually(t, func() bool { return len(sub.submissions()) == 1 }, time.Second, 10*time.Millisecond)
	files := sub.submissions()[0].Files
	require.Len(t, files, 1)
	assert.Equal(t, "Q1.mp4", files[0].Name)
	assert.Equal(t, "head-tail", string(files[0].Data))

	assert.Eventually(t, opener.released.Load, time.Second, 10*time.Millisecond)
}
