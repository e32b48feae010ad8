package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/dkoshel/mentorlab/internal/config"
	"github.com/dkoshel/mentorlab/internal/domain"
	"github.com/dkoshel/mentorlab/internal/identity"
	"github.com/dkoshel/mentorlab/internal/store"
	"github.com/dkoshel/mentorlab/internal/tutor"
	"github.com/google/uuid"
)

const teardownTimeout = 15 * time.Second

// Handler upgrades WebSocket connections and runs the per-connection chat
// loop: one connection is one session, one dialogue controller.
type Handler struct {
	repo          store.Repository
	judge         *tutor.ProgressJudge
	mentor        *tutor.MentorAgent
	pool          *tutor.WorkerPool
	manager       *Manager
	limiter       *RateLimiter
	logger        *slog.Logger
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new chat WebSocket handler.
func NewHandler(repo store.Repository, judge *tutor.ProgressJudge, mentor *tutor.MentorAgent, pool *tutor.WorkerPool, manager *Manager, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:          repo,
		judge:         judge,
		mentor:        mentor,
		pool:          pool,
		manager:       manager,
		limiter:       NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		logger:        logger,
		allowedOrigin: cfg.FrontendURL,
		isDev:         cfg.IsDevelopment(),
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartedAt: time.Now(),
	}
	if err := h.repo.InsertSession(r.Context(), session); err != nil {
		h.logger.Error("failed to record session", "error", err, "user_id", userID)
		return
	}

	chatSession := NewSession(session.ID, userID, ws, h.logger)
	ctrl := tutor.NewController(session.ID, h.repo, h.judge, h.mentor, h.pool, chatSession, h.logger)
	chatSession.SetController(ctrl)

	h.manager.Register(userID, tabID, chatSession)
	defer h.manager.Unregister(userID, tabID, chatSession)
	defer h.teardown(session.ID, ctrl)

	h.logger.Info("chat connected", "user_id", userID, "session_id", session.ID, "tab_id", tabID)

	h.readLoop(r.Context(), ws, chatSession, userID)

	h.logger.Info("chat disconnected", "user_id", userID, "session_id", session.ID)
}

// teardown ends the session on disconnect, flushing any open discussion.
// It runs on its own context because the request context is already gone.
func (h *Handler) teardown(sessionID string, ctrl *tutor.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := ctrl.End(ctx); err != nil {
		// The in-memory log was retained but this process is losing the
		// session; make the loss loud for operators.
		h.logger.Error("session teardown flush failed", "session_id", sessionID, "error", err)
	}
	if err := h.repo.EndSession(ctx, sessionID, time.Now()); err != nil {
		h.logger.Error("failed to stamp session end", "session_id", sessionID, "error", err)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop consumes client frames until the connection drops.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, session *Session, userID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				h.logger.Debug("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			session.writeFrame(serverFrame{Type: "error", Code: "bad_frame", Message: "invalid frame"})
			continue
		}

		h.dispatch(ctx, session, userID, frame)
	}
}

func (h *Handler) dispatch(ctx context.Context, session *Session, userID string, frame clientFrame) {
	ctrl := session.Controller()

	switch frame.Type {
	case "start":
		welcome, err := ctrl.Start(ctx, frame.TopicID)
		if err != nil {
			h.logger.Warn("failed to start discussion", "user_id", userID, "topic_id", frame.TopicID, "error", err)
			session.writeFrame(serverFrame{Type: "error", Code: "start_failed", Message: "could not start topic"})
			return
		}
		session.writeFrame(serverFrame{
			Type:            "welcome",
			MentorText:      welcome.MentorText,
			ProgressPercent: welcome.ProgressPercent,
			Finished:        welcome.Finished,
		})

	case "message":
		if !h.limiter.Allow(userID) {
			session.writeFrame(serverFrame{Type: "error", Code: "rate_limited", Message: "slow down a little", Recoverable: true})
			return
		}
		if ctrl.SubmitTurn(frame.Content) {
			session.writeFrame(serverFrame{Type: "thinking"})
		}
		// A rejected submit (blank text, model call outstanding) is a no-op.

	case "end":
		if err := ctrl.End(ctx); err != nil {
			session.writeFrame(serverFrame{Type: "error", Code: "persistence", Message: "could not save the discussion; it will be retried when you disconnect"})
			return
		}
		session.writeFrame(serverFrame{Type: "closed"})

	default:
		session.writeFrame(serverFrame{Type: "error", Code: "bad_frame", Message: "unknown frame type"})
	}
}
