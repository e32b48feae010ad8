package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkoshel/mentorlab/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return s
}

func seedTestTopic(t *testing.T, s *SQLiteStore) *domain.Topic {
	t.Helper()

	ctx := context.Background()
	err := s.EnsureSeedTopics(ctx, []domain.Topic{{
		Title: "Cell Division",
		Concepts: []domain.Concept{
			{Text: "Chromosomes duplicate before division."},
			{Text: "Mitosis yields two identical daughter cells."},
			{Text: "Meiosis halves the chromosome number.", Status: domain.ConceptStatusDraft},
		},
	}})
	if err != nil {
		t.Fatalf("Failed to seed topic: %v", err)
	}

	topics, err := s.ListTopics(ctx)
	if err != nil {
		t.Fatalf("Failed to list topics: %v", err)
	}
	if len(topics) != 1 {
		t.Fatalf("Expected 1 topic, got %d", len(topics))
	}

	topic, err := s.GetTopic(ctx, topics[0].ID)
	if err != nil {
		t.Fatalf("Failed to get topic: %v", err)
	}
	return topic
}

func insertTestDiscussion(t *testing.T, s *SQLiteStore, topicID int64) *domain.Discussion {
	t.Helper()

	ctx := context.Background()
	session := &domain.Session{ID: "sess-test", UserID: "anon_user", StartedAt: time.Now()}
	if err := s.InsertSession(ctx, session); err != nil {
		t.Fatalf("Failed to insert session: %v", err)
	}
	d := &domain.Discussion{SessionID: session.ID, TopicID: topicID, StartedAt: time.Now()}
	if err := s.InsertDiscussion(ctx, d); err != nil {
		t.Fatalf("Failed to insert discussion: %v", err)
	}
	if d.ID == 0 {
		t.Fatal("Expected discussion to receive a generated id")
	}
	return d
}

func TestUserRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetUser(ctx, "anon_missing")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got != nil {
		t.Fatal("Expected nil for a missing user")
	}

	now := time.Now().Truncate(time.Second)
	user := &domain.User{
		UserID:     "anon_abc",
		Username:   "learner-abc",
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	got, err = s.GetUser(ctx, "anon_abc")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got == nil || got.Username != "learner-abc" {
		t.Fatalf("Unexpected user: %+v", got)
	}
	if !got.LastSeenAt.Equal(now) {
		t.Errorf("Expected last seen %v, got %v", now, got.LastSeenAt)
	}

	later := now.Add(time.Hour)
	if err := s.UpdateLastSeen(ctx, "anon_abc", later); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}
	got, err = s.GetUser(ctx, "anon_abc")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("Expected last seen %v, got %v", later, got.LastSeenAt)
	}
}

func TestSeedTopicsOnlyOnEmptyDatabase(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	topic := seedTestTopic(t, s)
	if len(topic.Concepts) != 3 {
		t.Fatalf("Expected 3 concepts, got %d", len(topic.Concepts))
	}
	for i, c := range topic.Concepts {
		if c.Ord != i {
			t.Errorf("Expected concept %d ord %d, got %d", i, i, c.Ord)
		}
	}
	if topic.Concepts[2].Status != domain.ConceptStatusDraft {
		t.Errorf("Expected third concept to stay draft, got %s", topic.Concepts[2].Status)
	}
	if got := len(topic.ActiveConcepts()); got != 2 {
		t.Errorf("Expected 2 active concepts, got %d", got)
	}

	// Seeding again must not duplicate anything.
	if err := s.EnsureSeedTopics(ctx, DefaultSeedTopics()); err != nil {
		t.Fatalf("Second seed failed: %v", err)
	}
	topics, err := s.ListTopics(ctx)
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if len(topics) != 1 {
		t.Errorf("Expected seeding to be skipped on a populated database, got %d topics", len(topics))
	}
}

func TestGetTopicMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	topic, err := s.GetTopic(context.Background(), 12345)
	if err != nil {
		t.Fatalf("GetTopic failed: %v", err)
	}
	if topic != nil {
		t.Errorf("Expected nil for a missing topic, got %+v", topic)
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	old := &domain.Session{ID: "sess-old", UserID: "anon_a", StartedAt: time.Now().Add(-2 * time.Hour)}
	open := &domain.Session{ID: "sess-open", UserID: "anon_b", StartedAt: time.Now()}
	for _, session := range []*domain.Session{old, open} {
		if err := s.InsertSession(ctx, session); err != nil {
			t.Fatalf("InsertSession failed: %v", err)
		}
	}
	if err := s.EndSession(ctx, old.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	deleted, err := s.DeleteEndedSessionsBefore(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteEndedSessionsBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 pruned session, got %d", deleted)
	}

	// The still-open session survives the sweep.
	deleted, err = s.DeleteEndedSessionsBefore(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteEndedSessionsBefore failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected no further deletions, got %d", deleted)
	}
}

func TestMessagePersistence(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	topic := seedTestTopic(t, s)
	d := insertTestDiscussion(t, s, topic.ID)

	score := 3
	comment := "basic grasp"
	sent := time.Now().Truncate(time.Second)
	msgs := []domain.Message{
		{DiscussionID: d.ID, ConceptID: topic.Concepts[0].ID, FromMentor: true, SentAt: sent, Content: "welcome"},
		{DiscussionID: d.ID, ConceptID: topic.Concepts[0].ID, FromMentor: false, SentAt: sent, Content: "my answer", Score: &score, Comment: &comment},
	}
	if err := s.InsertMessages(ctx, msgs); err != nil {
		t.Fatalf("InsertMessages failed: %v", err)
	}

	last := &domain.Message{DiscussionID: d.ID, ConceptID: topic.Concepts[1].ID, FromMentor: true, SentAt: sent, Content: "next concept"}
	lastID, err := s.InsertMessage(ctx, last)
	if err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if lastID == 0 {
		t.Fatal("Expected a generated message id")
	}

	stored, err := s.ListMessages(ctx, d.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(stored))
	}
	if stored[2].ID != lastID {
		t.Errorf("Expected last message id %d, got %d", lastID, stored[2].ID)
	}
	if stored[0].Score != nil {
		t.Error("Expected no score on the mentor message")
	}
	if stored[1].Score == nil || *stored[1].Score != 3 {
		t.Errorf("Expected score 3 on the learner message, got %v", stored[1].Score)
	}
	if stored[1].Comment == nil || *stored[1].Comment != "basic grasp" {
		t.Errorf("Expected comment round-trip, got %v", stored[1].Comment)
	}
	if !stored[1].SentAt.Equal(sent) {
		t.Errorf("Expected sent_at %v, got %v", sent, stored[1].SentAt)
	}
}

func TestInsertMessagesReturningIDs(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	topic := seedTestTopic(t, s)
	d := insertTestDiscussion(t, s, topic.ID)

	sent := time.Now()
	msgs := make([]domain.Message, 5)
	for i := range msgs {
		msgs[i] = domain.Message{DiscussionID: d.ID, ConceptID: topic.Concepts[0].ID, SentAt: sent, Content: "turn"}
	}

	ids, err := s.InsertMessagesReturningIDs(ctx, msgs)
	if err != nil {
		t.Fatalf("InsertMessagesReturningIDs failed: %v", err)
	}
	if len(ids) != 5 {
		t.Fatalf("Expected 5 ids, got %d", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[i-1]+1 {
			t.Errorf("Expected contiguous ids, got %v", ids)
			break
		}
	}
}

func TestFeedbackShift(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	topic := seedTestTopic(t, s)
	d := insertTestDiscussion(t, s, topic.ID)
	other := insertTestDiscussionWithSession(t, s, topic.ID, "sess-other")

	report := &domain.FeedbackReport{
		DiscussionID: d.ID,
		Code:         "confusing",
		Details:      "the hint did not match the question",
		MessageIDs:   []int64{1, 3},
		CreatedAt:    time.Now(),
	}
	if err := s.InsertFeedback(ctx, report); err != nil {
		t.Fatalf("InsertFeedback failed: %v", err)
	}
	if report.ID == 0 {
		t.Fatal("Expected feedback to receive a generated id")
	}

	otherReport := &domain.FeedbackReport{
		DiscussionID: other.ID,
		Code:         "confusing",
		MessageIDs:   []int64{2},
		CreatedAt:    time.Now(),
	}
	if err := s.InsertFeedback(ctx, otherReport); err != nil {
		t.Fatalf("InsertFeedback failed: %v", err)
	}

	rows, err := s.ShiftFeedbackMessageIDs(ctx, d.ID, 500)
	if err != nil {
		t.Fatalf("ShiftFeedbackMessageIDs failed: %v", err)
	}
	if rows != 2 {
		t.Errorf("Expected 2 shifted rows, got %d", rows)
	}

	ids, err := s.ListFeedbackMessageIDs(ctx, d.ID)
	if err != nil {
		t.Fatalf("ListFeedbackMessageIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 501 || ids[1] != 503 {
		t.Errorf("Expected shifted ids [501 503], got %v", ids)
	}

	// References of other discussions are untouched.
	ids, err = s.ListFeedbackMessageIDs(ctx, other.ID)
	if err != nil {
		t.Fatalf("ListFeedbackMessageIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("Expected other discussion refs untouched, got %v", ids)
	}
}

func TestInsertFeedbackRollsBackOnRefFailure(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	topic := seedTestTopic(t, s)
	d := insertTestDiscussion(t, s, topic.ID)

	// The duplicated reference violates the table key on the second ref
	// insert, after the report row was already written inside the tx.
	report := &domain.FeedbackReport{
		DiscussionID: d.ID,
		Code:         "confusing",
		MessageIDs:   []int64{7, 7},
		CreatedAt:    time.Now(),
	}
	if err := s.InsertFeedback(ctx, report); err == nil {
		t.Fatal("Expected InsertFeedback to fail on a duplicated reference")
	}
	if report.ID != 0 {
		t.Errorf("Expected no generated id after a failed insert, got %d", report.ID)
	}

	ids, err := s.ListFeedbackMessageIDs(ctx, d.ID)
	if err != nil {
		t.Fatalf("ListFeedbackMessageIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected no references after rollback, got %v", ids)
	}

	var reports int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback_chat WHERE discussion_id = ?`, d.ID)
	if err := row.Scan(&reports); err != nil {
		t.Fatalf("Failed to count feedback reports: %v", err)
	}
	if reports != 0 {
		t.Errorf("Expected the report row to be rolled back, got %d rows", reports)
	}

	// A well-formed report still files cleanly afterwards.
	report.MessageIDs = []int64{7, 9}
	if err := s.InsertFeedback(ctx, report); err != nil {
		t.Fatalf("InsertFeedback failed after rollback: %v", err)
	}
	if report.ID == 0 {
		t.Fatal("Expected feedback to receive a generated id")
	}
}

func insertTestDiscussionWithSession(t *testing.T, s *SQLiteStore, topicID int64, sessionID string) *domain.Discussion {
	t.Helper()

	ctx := context.Background()
	session := &domain.Session{ID: sessionID, UserID: "anon_user2", StartedAt: time.Now()}
	if err := s.InsertSession(ctx, session); err != nil {
		t.Fatalf("Failed to insert session: %v", err)
	}
	d := &domain.Discussion{SessionID: session.ID, TopicID: topicID, StartedAt: time.Now()}
	if err := s.InsertDiscussion(ctx, d); err != nil {
		t.Fatalf("Failed to insert discussion: %v", err)
	}
	return d
}

func TestEndDiscussion(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	topic := seedTestTopic(t, s)
	d := insertTestDiscussion(t, s, topic.ID)

	if err := s.EndDiscussion(ctx, d.ID, time.Now()); err != nil {
		t.Fatalf("EndDiscussion failed: %v", err)
	}
}
