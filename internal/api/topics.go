package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dkoshel/mentorlab/internal/store"
	"github.com/go-chi/chi/v5"
)

// TopicHandler serves the read-only topic catalog.
type TopicHandler struct {
	repo store.Repository
}

// NewTopicHandler creates a topic handler.
func NewTopicHandler(repo store.Repository) *TopicHandler {
	return &TopicHandler{repo: repo}
}

// RegisterRoutes registers topic routes on the router.
func (h *TopicHandler) RegisterRoutes(r chi.Router) {
	r.Route("/topics", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{topicID}", h.Get)
	})
}

// List returns every topic without its concepts.
func (h *TopicHandler) List(w http.ResponseWriter, r *http.Request) {
	topics, err := h.repo.ListTopics(r.Context())
	if err != nil {
		slog.Error("failed to list topics", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list topics")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"topics": topics})
}

// Get returns one topic with its active concepts.
func (h *TopicHandler) Get(w http.ResponseWriter, r *http.Request) {
	topicID, err := strconv.ParseInt(chi.URLParam(r, "topicID"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid topic id")
		return
	}

	topic, err := h.repo.GetTopic(r.Context(), topicID)
	if err != nil {
		slog.Error("failed to load topic", "error", err, "topic_id", topicID)
		Error(w, http.StatusInternalServerError, "failed to load topic")
		return
	}
	if topic == nil {
		Error(w, http.StatusNotFound, "topic not found")
		return
	}

	topic.Concepts = topic.ActiveConcepts()
	JSON(w, http.StatusOK, topic)
}
