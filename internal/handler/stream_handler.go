package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/vidassess/internal/assessment"
	"github.com/stemsi/vidassess/internal/capture"
	"github.com/stemsi/vidassess/internal/middleware"
	"github.com/stemsi/vidassess/internal/response"
	"github.com/stemsi/vidassess/internal/service"
	"github.com/stemsi/vidassess/internal/validator"
	ws "github.com/stemsi/vidassess/internal/websocket"
)

const (
	readWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	closeGrace   = 2 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 4 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// SessionOpener starts video test sessions.
type SessionOpener interface {
	Open(ctx context.Context, p service.OpenParams) (*assessment.Session, func(), error)
}

// StreamHandler runs the video test protocol over a WebSocket: JSON actions
// in text frames, recorded media in binary frames.
type StreamHandler struct {
	opener        SessionOpener
	log           zerolog.Logger
	upgrader      websocket.Upgrader
	maxFrameBytes int64
}

// NewStreamHandler creates a new StreamHandler. Frames larger than
// maxFrameBytes close the connection.
func NewStreamHandler(opener SessionOpener, log zerolog.Logger, allowedOrigins []string, maxFrameBytes int64) *StreamHandler {
	return &StreamHandler{
		opener:        opener,
		log:           log.With().Str("component", "stream_handler").Logger(),
		upgrader:      buildUpgrader(allowedOrigins),
		maxFrameBytes: maxFrameBytes,
	}
}

// VideoTestStream godoc
// WS /ws/v1/student/video-tests/:course_id/stream
// Opens a video test visit and streams its state to the page.
func (h *StreamHandler) VideoTestStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var uri courseURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	if h.maxFrameBytes > 0 {
		conn.SetReadLimit(h.maxFrameBytes)
	}

	wsLog := h.log.With().
		Str("student_id", claims.StudentID).
		Str("course_id", uri.CourseID).
		Logger()

	stream := ws.NewStream(conn, wsLog)
	device := capture.NewRemote(stream.ReleaseMedia)

	sess, release, err := h.opener.Open(c.Request.Context(), service.OpenParams{
		StudentID: claims.StudentID,
		CourseID:  uri.CourseID,
		Device:    device,
		Publisher: stream,
	})
	if err != nil {
		code, closeCode := openFailure(err)
		wsLog.Warn().Err(err).Str("code", string(code)).Msg("Video test rejected")
		_ = stream.SendError(string(code), response.GetMessage(code))
		stream.Close(closeCode, string(code))
		return
	}
	defer func() {
		// The visit lock outlives the socket until any upload has returned.
		go func() {
			<-sess.Settled()
			release()
		}()
	}()

	wsLog = wsLog.With().Str("session_id", sess.ID().String()).Logger()
	wsLog.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go sess.Run(ctx)
	go h.keepAlive(ctx, conn, stream, sess)

	h.readLoop(conn, stream, device, sess, wsLog)

	cancel()
	<-sess.Done()
	wsLog.Info().Msg("Student disconnected")
}

// keepAlive pings the page and closes the socket once the session ends, which
// unblocks the read loop.
func (h *StreamHandler) keepAlive(ctx context.Context, conn *websocket.Conn, stream *ws.Stream, sess *assessment.Session) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			stream.Close(websocket.CloseNormalClosure, "session closed")
			// Wait briefly for the page to answer the close frame.
			_ = conn.SetReadDeadline(time.Now().Add(closeGrace))
			return
		case <-t.C:
			if err := stream.Ping(); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) readLoop(conn *websocket.Conn, stream *ws.Stream, device *capture.Remote, sess *assessment.Session, wsLog zerolog.Logger) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				wsLog.Warn().Int64("limit", h.maxFrameBytes).Msg("Frame too large")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				wsLog.Warn().Err(err).Msg("Unexpected close")
			default:
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		switch mt {
		case websocket.BinaryMessage:
			err = sess.PushChunk(data)
		case websocket.TextMessage:
			err = h.handleAction(data, stream, device, sess, wsLog)
		}
		if errors.Is(err, assessment.ErrSessionClosed) {
			return
		}
	}
}

// handleAction decodes and applies one client action. Workflow rejections are
// reported to the page by the session itself; only protocol errors are
// written here.
func (h *StreamHandler) handleAction(data []byte, stream *ws.Stream, device *capture.Remote, sess *assessment.Session, wsLog zerolog.Logger) error {
	var env ws.RequestEnvelope
	if !decodeAction(data, &env, stream) {
		return nil
	}

	switch env.Action {
	case ws.ActionMediaReady:
		device.Grant()
		return nil
	case ws.ActionMediaDenied:
		var req ws.MediaDeniedRequest
		if !decodeAction(data, &req, stream) {
			return nil
		}
		device.Deny(req.Reason)
		return nil
	case ws.ActionStart:
		return sess.Start()
	case ws.ActionStop:
		return sess.Stop()
	case ws.ActionFlushed:
		return sess.Flushed()
	case ws.ActionRetake:
		return sess.Retake()
	case ws.ActionNext:
		return sess.Next()
	case ws.ActionPrevious:
		return sess.Previous()
	case ws.ActionJump:
		var req ws.JumpRequest
		if !decodeAction(data, &req, stream) {
			return nil
		}
		return sess.JumpTo(*req.Index)
	case ws.ActionFinish:
		return sess.Finish()
	case ws.ActionPing:
		_ = stream.Send(ws.PongResponse{Event: ws.EventPong})
		return nil
	default:
		wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		_ = stream.SendError(string(response.ErrUnknownAction), "unknown action: "+string(env.Action))
		return nil
	}
}

func decodeAction(data []byte, dst interface{}, stream *ws.Stream) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		_ = stream.SendError(string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		msg := response.GetMessage(response.ErrValidation)
		for field, reason := range fields {
			msg = field + ": " + reason
			break
		}
		_ = stream.SendError(string(response.ErrValidation), msg)
		return false
	}
	return true
}

func openFailure(err error) (response.ErrCode, int) {
	switch {
	case errors.Is(err, service.ErrSessionAlreadyOpen):
		return response.ErrSessionAlreadyOpen, websocket.ClosePolicyViolation
	case errors.Is(err, assessment.ErrQuestionFetch):
		return response.ErrQuestionFetchFailed, websocket.CloseTryAgainLater
	default:
		return response.ErrInternal, websocket.CloseInternalServerErr
	}
}
