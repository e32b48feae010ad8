package domain

import (
	"time"
)

// Session covers one learner connection, from open to disconnect.
type Session struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Discussion is one learner's run through a topic. At most one discussion
// per session is open at a time.
type Discussion struct {
	ID        int64      `json:"id"`
	SessionID string     `json:"session_id"`
	TopicID   int64      `json:"topic_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Message is a single turn entry in a discussion. While the discussion is
// open, TempID is a dense 0-based sequence number; ID is assigned by the
// store only at flush time.
type Message struct {
	ID           int64     `json:"id,omitempty"`
	TempID       int64     `json:"temp_id"`
	DiscussionID int64     `json:"discussion_id"`
	ConceptID    int64     `json:"concept_id"`
	FromMentor   bool      `json:"from_mentor"`
	SentAt       time.Time `json:"sent_at"`
	Content      string    `json:"content"`
	// Score and Comment are attached only to the learner message the
	// evaluation judged.
	Score   *int    `json:"score,omitempty"`
	Comment *string `json:"comment,omitempty"`
}

// FeedbackReport is filed by the learner against one or more messages of an
// open discussion. MessageIDs hold temporary ids until the discussion is
// flushed and the stored references are shifted.
type FeedbackReport struct {
	ID           int64     `json:"id"`
	DiscussionID int64     `json:"discussion_id"`
	Code         string    `json:"code"`
	Details      string    `json:"details"`
	MessageIDs   []int64   `json:"message_ids"`
	CreatedAt    time.Time `json:"created_at"`
}
