// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/dkoshel/mentorlab/internal/domain"
)

// Repository defines the interface for persisting users, sessions,
// discussions and messages.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// ListTopics returns all topics without their concepts.
	ListTopics(ctx context.Context) ([]*domain.Topic, error)

	// GetTopic returns a topic with its concepts ordered by ord.
	GetTopic(ctx context.Context, topicID int64) (*domain.Topic, error)

	// InsertSession records a new session.
	InsertSession(ctx context.Context, session *domain.Session) error

	// EndSession stamps the session end time.
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) error

	// InsertDiscussion records a new discussion and sets its generated ID.
	InsertDiscussion(ctx context.Context, d *domain.Discussion) error

	// EndDiscussion stamps the discussion end time.
	EndDiscussion(ctx context.Context, discussionID int64, endedAt time.Time) error

	// InsertMessages batch-inserts messages. No generated ids are returned.
	InsertMessages(ctx context.Context, msgs []domain.Message) error

	// InsertMessage inserts a single message and returns its generated id.
	InsertMessage(ctx context.Context, msg *domain.Message) (int64, error)

	// ListMessages returns a discussion's persisted messages ordered by id.
	ListMessages(ctx context.Context, discussionID int64) ([]domain.Message, error)

	// InsertFeedback files a feedback report. The report's MessageIDs are
	// stored as-is; while the discussion is open they are temporary ids.
	InsertFeedback(ctx context.Context, report *domain.FeedbackReport) error

	// ShiftFeedbackMessageIDs adds shift to every feedback message reference
	// belonging to the given discussion and returns the row count touched.
	ShiftFeedbackMessageIDs(ctx context.Context, discussionID int64, shift int64) (int64, error)

	// ListFeedbackMessageIDs returns the stored message references for a
	// discussion's feedback reports, ordered.
	ListFeedbackMessageIDs(ctx context.Context, discussionID int64) ([]int64, error)

	// DeleteEndedSessionsBefore removes sessions (and nothing else) that
	// ended before the cutoff. Used by the janitor worker.
	DeleteEndedSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// BulkInserter is an optional capability: stores that can return generated
// ids for an entire batch insert implement it, letting flush skip the
// batch-then-single id-shift trick.
type BulkInserter interface {
	// InsertMessagesReturningIDs batch-inserts messages and returns their
	// generated ids in insertion order.
	InsertMessagesReturningIDs(ctx context.Context, msgs []domain.Message) ([]int64, error)
}
