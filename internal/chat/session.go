package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/dkoshel/mentorlab/internal/tutor"
)

const writeTimeout = 10 * time.Second

// clientFrame is a message from the browser.
type clientFrame struct {
	Type    string `json:"type"`
	TopicID int64  `json:"topic_id,omitempty"`
	Content string `json:"content,omitempty"`
}

// serverFrame is a message to the browser.
type serverFrame struct {
	Type            string `json:"type"`
	MentorText      string `json:"mentor_text,omitempty"`
	ProgressPercent int    `json:"progress_percent"`
	Finished        bool   `json:"finished"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Recoverable     bool   `json:"recoverable,omitempty"`
}

// Session binds one WebSocket connection to one dialogue controller. It is
// the controller's Notifier: asynchronous turn outcomes are written straight
// to the socket.
type Session struct {
	id     string
	userID string
	conn   *websocket.Conn
	ctrl   *tutor.Controller
	logger *slog.Logger
}

// NewSession creates a chat session wrapping an accepted connection. The
// controller is attached afterwards with SetController because the
// controller needs the session as its notifier.
func NewSession(id, userID string, conn *websocket.Conn, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:     id,
		userID: userID,
		conn:   conn,
		logger: logger,
	}
}

// SetController attaches the dialogue controller.
func (s *Session) SetController(ctrl *tutor.Controller) {
	s.ctrl = ctrl
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Controller returns the attached dialogue controller.
func (s *Session) Controller() *tutor.Controller {
	return s.ctrl
}

// MentorReply implements tutor.Notifier.
func (s *Session) MentorReply(result tutor.TurnResult) {
	s.writeFrame(serverFrame{
		Type:            "mentor",
		MentorText:      result.MentorText,
		ProgressPercent: result.ProgressPercent,
		Finished:        result.Finished,
	})
}

// TurnFailed implements tutor.Notifier.
func (s *Session) TurnFailed(failure tutor.TurnFailure) {
	s.writeFrame(serverFrame{
		Type:        "error",
		Code:        string(failure.Kind),
		Message:     "The mentor couldn't process that. Please try sending your message again.",
		Recoverable: true,
	})
}

// writeFrame marshals and writes a frame. The websocket library serializes
// concurrent writers internally.
func (s *Session) writeFrame(frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("failed to marshal chat frame", "session_id", s.id, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Debug("chat frame write failed", "session_id", s.id, "error", err)
	}
}

// closeConn closes the underlying connection, e.g. when the tab is replaced.
func (s *Session) closeConn(reason string) {
	if err := s.conn.Close(websocket.StatusNormalClosure, reason); err != nil {
		s.logger.Debug("failed to close replaced connection", "session_id", s.id, "error", err)
	}
}
