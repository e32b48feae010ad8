package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dkoshel/mentorlab/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes multi-statement write sequences to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS topics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS concepts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic_id INTEGER NOT NULL REFERENCES topics(id),
		ord INTEGER NOT NULL,
		text TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active'
	);
	CREATE INDEX IF NOT EXISTS idx_concepts_topic ON concepts(topic_id, ord);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(ended_at) WHERE ended_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS discussions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		topic_id INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_discussions_session ON discussions(session_id);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		discussion_id INTEGER NOT NULL REFERENCES discussions(id),
		concept_id INTEGER NOT NULL,
		is_bot INTEGER NOT NULL,
		sent_at INTEGER NOT NULL,
		content TEXT NOT NULL,
		progress_code INTEGER,
		progress_comment TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_discussion ON messages(discussion_id);

	CREATE TABLE IF NOT EXISTS feedback_chat (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		discussion_id INTEGER NOT NULL,
		code TEXT NOT NULL,
		details TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_discussion ON feedback_chat(discussion_id);

	CREATE TABLE IF NOT EXISTS feedback_chat_msg (
		feedback_id INTEGER NOT NULL REFERENCES feedback_chat(id),
		message_id INTEGER NOT NULL,
		PRIMARY KEY (feedback_id, message_id)
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_msg ON feedback_chat_msg(feedback_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// ListTopics returns all topics without their concepts.
func (s *SQLiteStore) ListTopics(ctx context.Context) ([]*domain.Topic, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title FROM topics ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer closeRows(rows, "topics")

	var topics []*domain.Topic
	for rows.Next() {
		var t domain.Topic
		if err := rows.Scan(&t.ID, &t.Title); err != nil {
			return nil, fmt.Errorf("scan topic row: %w", err)
		}
		topics = append(topics, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}

// GetTopic returns a topic with its concepts ordered by ord.
func (s *SQLiteStore) GetTopic(ctx context.Context, topicID int64) (*domain.Topic, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title FROM topics WHERE id = ?`, topicID)

	var topic domain.Topic
	err := row.Scan(&topic.ID, &topic.Title)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan topic: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic_id, ord, text, status FROM concepts WHERE topic_id = ? ORDER BY ord`,
		topicID,
	)
	if err != nil {
		return nil, fmt.Errorf("query concepts: %w", err)
	}
	defer closeRows(rows, "concepts")

	for rows.Next() {
		var c domain.Concept
		if err := rows.Scan(&c.ID, &c.TopicID, &c.Ord, &c.Text, &c.Status); err != nil {
			return nil, fmt.Errorf("scan concept row: %w", err)
		}
		topic.Concepts = append(topic.Concepts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate concepts: %w", err)
	}

	return &topic, nil
}

// InsertSession records a new session.
func (s *SQLiteStore) InsertSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, started_at) VALUES (?, ?, ?)`,
		session.ID, session.UserID, session.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession stamps the session end time.
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ?`,
		endedAt.Unix(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("EndSession affected 0 rows", "session_id", sessionID)
	}
	return nil
}

// InsertDiscussion records a new discussion and sets its generated ID.
func (s *SQLiteStore) InsertDiscussion(ctx context.Context, d *domain.Discussion) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO discussions (session_id, topic_id, started_at) VALUES (?, ?, ?)`,
		d.SessionID, d.TopicID, d.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert discussion: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("discussion last insert id: %w", err)
	}
	d.ID = id
	return nil
}

// EndDiscussion stamps the discussion end time.
func (s *SQLiteStore) EndDiscussion(ctx context.Context, discussionID int64, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE discussions SET ended_at = ? WHERE id = ?`,
		endedAt.Unix(), discussionID,
	)
	if err != nil {
		return fmt.Errorf("end discussion: %w", err)
	}
	return nil
}

const insertMessageColumns = `discussion_id, concept_id, is_bot, sent_at, content, progress_code, progress_comment`

func messageArgs(m *domain.Message) []interface{} {
	var score interface{}
	if m.Score != nil {
		score = *m.Score
	}
	var comment interface{}
	if m.Comment != nil {
		comment = *m.Comment
	}
	return []interface{}{
		m.DiscussionID, m.ConceptID, m.FromMentor, m.SentAt.Unix(), m.Content, score, comment,
	}
}

// InsertMessages batch-inserts messages in a single statement. Generated ids
// are not reported back; flush reconciliation accounts for that.
func (s *SQLiteStore) InsertMessages(ctx context.Context, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var sb strings.Builder
	sb.WriteString(`INSERT INTO messages (` + insertMessageColumns + `) VALUES `)
	args := make([]interface{}, 0, len(msgs)*7)
	for i := range msgs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, messageArgs(&msgs[i])...)
	}

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("batch insert messages: %w", err)
	}
	return nil
}

// InsertMessage inserts a single message and returns its generated id.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *domain.Message) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (`+insertMessageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		messageArgs(msg)...,
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message last insert id: %w", err)
	}
	msg.ID = id
	return id, nil
}

// InsertMessagesReturningIDs batch-inserts messages and returns their
// generated ids in insertion order, using SQLite's RETURNING clause.
func (s *SQLiteStore) InsertMessagesReturningIDs(ctx context.Context, msgs []domain.Message) ([]int64, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var sb strings.Builder
	sb.WriteString(`INSERT INTO messages (` + insertMessageColumns + `) VALUES `)
	args := make([]interface{}, 0, len(msgs)*7)
	for i := range msgs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, messageArgs(&msgs[i])...)
	}
	sb.WriteString(" RETURNING id")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("batch insert messages returning ids: %w", err)
	}
	defer closeRows(rows, "message ids")

	ids := make([]int64, 0, len(msgs))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan returned message id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate returned message ids: %w", err)
	}
	if len(ids) != len(msgs) {
		return nil, fmt.Errorf("returning clause yielded %d ids for %d messages", len(ids), len(msgs))
	}
	return ids, nil
}

// ListMessages returns a discussion's persisted messages ordered by id.
func (s *SQLiteStore) ListMessages(ctx context.Context, discussionID int64) ([]domain.Message, error) {
	query := `
		SELECT id, discussion_id, concept_id, is_bot, sent_at, content, progress_code, progress_comment
		FROM messages WHERE discussion_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, discussionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows, "messages")

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var sentAt int64
		var score sql.NullInt64
		var comment sql.NullString

		if err := rows.Scan(
			&m.ID, &m.DiscussionID, &m.ConceptID, &m.FromMentor,
			&sentAt, &m.Content, &score, &comment,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		m.SentAt = time.Unix(sentAt, 0)
		if score.Valid {
			v := int(score.Int64)
			m.Score = &v
		}
		if comment.Valid {
			v := comment.String
			m.Comment = &v
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// InsertFeedback files a feedback report and its message references in one
// transaction, so a failed reference insert leaves no orphaned report row.
func (s *SQLiteStore) InsertFeedback(ctx context.Context, report *domain.FeedbackReport) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin feedback tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO feedback_chat (discussion_id, code, details, created_at) VALUES (?, ?, ?, ?)`,
		report.DiscussionID, report.Code, report.Details, report.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("feedback last insert id: %w", err)
	}

	for _, mid := range report.MessageIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO feedback_chat_msg (feedback_id, message_id) VALUES (?, ?)`,
			id, mid,
		); err != nil {
			return fmt.Errorf("insert feedback message ref: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit feedback: %w", err)
	}
	report.ID = id
	return nil
}

// ShiftFeedbackMessageIDs adds shift to every feedback message reference
// belonging to the given discussion.
func (s *SQLiteStore) ShiftFeedbackMessageIDs(ctx context.Context, discussionID int64, shift int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE feedback_chat_msg SET message_id = message_id + ?
		 WHERE feedback_id IN (SELECT id FROM feedback_chat WHERE discussion_id = ?)`,
		shift, discussionID,
	)
	if err != nil {
		return 0, fmt.Errorf("shift feedback message ids: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("shift rows affected: %w", err)
	}
	return rows, nil
}

// ListFeedbackMessageIDs returns stored message references for a discussion.
func (s *SQLiteStore) ListFeedbackMessageIDs(ctx context.Context, discussionID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.message_id FROM feedback_chat_msg m
		 JOIN feedback_chat f ON f.id = m.feedback_id
		 WHERE f.discussion_id = ? ORDER BY m.message_id`,
		discussionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query feedback message ids: %w", err)
	}
	defer closeRows(rows, "feedback message ids")

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan feedback message id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback message ids: %w", err)
	}
	return ids, nil
}

// DeleteEndedSessionsBefore removes sessions that ended before the cutoff.
func (s *SQLiteStore) DeleteEndedSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?`,
		cutoff.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete ended sessions: %w", err)
	}
	return result.RowsAffected()
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "what", what, "error", err)
	}
}
