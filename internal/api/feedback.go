package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dkoshel/mentorlab/internal/chat"
	"github.com/dkoshel/mentorlab/internal/domain"
	"github.com/dkoshel/mentorlab/internal/identity"
	"github.com/dkoshel/mentorlab/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxFeedbackDetails = 2000

// FeedbackHandler files learner feedback against messages of the user's open
// discussion. Message references arrive as the temporary ids the client saw
// over the socket; they are registered with the live controller so the flush
// can rewrite them to permanent ids.
type FeedbackHandler struct {
	repo    store.Repository
	manager *chat.Manager
}

// NewFeedbackHandler creates a feedback handler.
func NewFeedbackHandler(repo store.Repository, manager *chat.Manager) *FeedbackHandler {
	return &FeedbackHandler{repo: repo, manager: manager}
}

// RegisterRoutes registers feedback routes on the router.
func (h *FeedbackHandler) RegisterRoutes(r chi.Router) {
	r.Post("/feedback", h.File)
}

type feedbackRequest struct {
	Code       string  `json:"code"`
	Details    string  `json:"details"`
	MessageIDs []int64 `json:"message_ids"`
}

// File records a feedback report.
func (h *FeedbackHandler) File(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	tabID := identity.TabIDFromContext(r.Context())

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		Error(w, http.StatusBadRequest, "feedback code is required")
		return
	}
	if len(req.Details) > maxFeedbackDetails {
		Error(w, http.StatusBadRequest, "details too long")
		return
	}
	if len(req.MessageIDs) == 0 {
		Error(w, http.StatusBadRequest, "at least one message reference is required")
		return
	}

	// Clients may repeat a reference; store each once.
	seen := make(map[int64]struct{}, len(req.MessageIDs))
	refs := make([]int64, 0, len(req.MessageIDs))
	for _, id := range req.MessageIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, id)
	}

	session := h.manager.GetActive(userID, tabID)
	if session == nil {
		Error(w, http.StatusConflict, "no active chat session")
		return
	}

	discussionID, err := session.Controller().NoteFeedbackRefs(refs)
	if err != nil {
		Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	report := &domain.FeedbackReport{
		DiscussionID: discussionID,
		Code:         req.Code,
		Details:      req.Details,
		MessageIDs:   refs,
		CreatedAt:    time.Now(),
	}
	if err := h.repo.InsertFeedback(r.Context(), report); err != nil {
		slog.Error("failed to file feedback", "error", err, "user_id", userID, "discussion_id", discussionID)
		Error(w, http.StatusInternalServerError, "failed to file feedback")
		return
	}

	slog.Info("feedback filed",
		"feedback_id", report.ID,
		"discussion_id", discussionID,
		"code", report.Code,
		"messages", len(report.MessageIDs),
	)
	JSON(w, http.StatusCreated, map[string]interface{}{"id": report.ID})
}
