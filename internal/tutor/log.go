package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dkoshel/mentorlab/internal/domain"
)

// MessageStore is the slice of persistence the conversation log needs at
// flush time.
type MessageStore interface {
	// InsertMessages batch-inserts messages without reporting generated ids.
	InsertMessages(ctx context.Context, msgs []domain.Message) error
	// InsertMessage inserts one message and returns its generated id.
	InsertMessage(ctx context.Context, msg *domain.Message) (int64, error)
	// ShiftFeedbackMessageIDs rewrites provisional feedback references for
	// the discussion by adding shift.
	ShiftFeedbackMessageIDs(ctx context.Context, discussionID int64, shift int64) (int64, error)
}

// bulkMessageStore is the optional capability of stores whose batch insert
// can return generated ids. When available it is preferred over the
// batch-then-single trick.
type bulkMessageStore interface {
	InsertMessagesReturningIDs(ctx context.Context, msgs []domain.Message) ([]int64, error)
}

// ConversationLog is the append-only in-memory ledger of a discussion's
// turns. Messages carry dense temporary ids starting at 0 until Flush
// assigns permanent store ids and reconciles any provisional references.
type ConversationLog struct {
	discussionID int64
	msgs         []domain.Message
	feedbackRefs map[int64]struct{}

	// persisted counts the prefix of msgs already durably inserted, so a
	// flush retry after a partial failure resumes instead of re-inserting.
	persisted int
	flushed   bool
}

// NewConversationLog creates an empty log for the given discussion.
func NewConversationLog(discussionID int64) *ConversationLog {
	return &ConversationLog{
		discussionID: discussionID,
		feedbackRefs: make(map[int64]struct{}),
	}
}

// Append adds a message and returns its assigned temporary id.
func (l *ConversationLog) Append(msg domain.Message) int64 {
	msg.TempID = int64(len(l.msgs))
	msg.DiscussionID = l.discussionID
	l.msgs = append(l.msgs, msg)
	return msg.TempID
}

// removeLast drops the most recent message. Used only to roll back a learner
// message whose background dispatch could not be enqueued.
func (l *ConversationLog) removeLast() {
	if n := len(l.msgs); n > 0 {
		l.msgs = l.msgs[:n-1]
	}
}

// AttachEvaluation sets the score and comment on the message with the given
// temporary id. It reports whether the message exists and is a learner turn.
func (l *ConversationLog) AttachEvaluation(tempID int64, score int, comment string) bool {
	if tempID < 0 || tempID >= int64(len(l.msgs)) {
		return false
	}
	msg := &l.msgs[tempID]
	if msg.FromMentor {
		return false
	}
	msg.Score = &score
	msg.Comment = &comment
	return true
}

// NoteFeedbackRef records that an external feedback report referenced the
// given temporary id. It reports whether the id exists.
func (l *ConversationLog) NoteFeedbackRef(tempID int64) bool {
	if tempID < 0 || tempID >= int64(len(l.msgs)) {
		return false
	}
	l.feedbackRefs[tempID] = struct{}{}
	return true
}

// FeedbackRefs returns the noted temporary ids in ascending order.
func (l *ConversationLog) FeedbackRefs() []int64 {
	refs := make([]int64, 0, len(l.feedbackRefs))
	for id := range l.feedbackRefs {
		refs = append(refs, id)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

// Messages returns the log contents. The slice is shared; callers must not
// mutate it.
func (l *ConversationLog) Messages() []domain.Message {
	return l.msgs
}

// Len returns the number of logged messages.
func (l *ConversationLog) Len() int {
	return len(l.msgs)
}

// DiscussionID returns the owning discussion id.
func (l *ConversationLog) DiscussionID() int64 {
	return l.discussionID
}

// Flushed reports whether the log has been durably persisted.
func (l *ConversationLog) Flushed() bool {
	return l.flushed
}

// Flush persists the log. When the store can return generated ids for a
// whole batch, one insert suffices. Otherwise, and whenever provisional
// feedback references exist, the portable two-phase protocol runs: batch
// insert all but the last message, insert the last individually to learn its
// generated id, derive the single integer offset mapping temporary ids to
// persisted ids, and rewrite the stored references with it.
//
// On any error the in-memory log is retained for a later retry. Messages
// already inserted by the failed attempt are remembered and skipped on
// retry, so a flush interrupted between phases never duplicates rows.
func (l *ConversationLog) Flush(ctx context.Context, st MessageStore) error {
	if l.flushed || len(l.msgs) == 0 {
		l.flushed = true
		return nil
	}

	if bulk, ok := st.(bulkMessageStore); ok {
		if err := l.flushBulk(ctx, st, bulk); err != nil {
			return err
		}
		l.flushed = true
		return nil
	}

	if err := l.flushTwoPhase(ctx, st); err != nil {
		return err
	}
	l.flushed = true
	return nil
}

func (l *ConversationLog) flushBulk(ctx context.Context, st MessageStore, bulk bulkMessageStore) error {
	n := len(l.msgs)
	if l.persisted < n {
		ids, err := bulk.InsertMessagesReturningIDs(ctx, l.msgs[l.persisted:])
		if err != nil {
			return fmt.Errorf("flush discussion %d: %w", l.discussionID, err)
		}
		for i, id := range ids {
			l.msgs[l.persisted+i].ID = id
		}
		l.persisted = n
	}
	return l.reconcile(ctx, st, l.msgs[n-1].ID)
}

func (l *ConversationLog) flushTwoPhase(ctx context.Context, st MessageStore) error {
	n := len(l.msgs)

	// Without provisional references no generated id is needed at all and
	// flush degenerates to one batch insert.
	if len(l.feedbackRefs) == 0 {
		if l.persisted < n {
			if err := st.InsertMessages(ctx, l.msgs[l.persisted:]); err != nil {
				return fmt.Errorf("flush discussion %d: %w", l.discussionID, err)
			}
			l.persisted = n
		}
		return nil
	}

	if l.persisted < n-1 {
		if err := st.InsertMessages(ctx, l.msgs[l.persisted:n-1]); err != nil {
			return fmt.Errorf("flush discussion %d: %w", l.discussionID, err)
		}
		l.persisted = n - 1
	}
	if l.persisted < n {
		last := l.msgs[n-1]
		lastID, err := st.InsertMessage(ctx, &last)
		if err != nil {
			return fmt.Errorf("flush discussion %d: insert final message: %w", l.discussionID, err)
		}
		l.msgs[n-1].ID = lastID
		l.persisted = n
	}
	return l.reconcile(ctx, st, l.msgs[n-1].ID)
}

// reconcile derives idShift from the persisted id of the last message and
// rewrites every provisional feedback reference with it.
func (l *ConversationLog) reconcile(ctx context.Context, st MessageStore, lastID int64) error {
	lastTempID := l.msgs[len(l.msgs)-1].TempID
	idShift := lastID - lastTempID

	for i := range l.msgs {
		if l.msgs[i].ID == 0 {
			l.msgs[i].ID = l.msgs[i].TempID + idShift
		}
	}

	if len(l.feedbackRefs) == 0 {
		return nil
	}

	rows, err := st.ShiftFeedbackMessageIDs(ctx, l.discussionID, idShift)
	if err != nil {
		return fmt.Errorf("reconcile discussion %d references: %w", l.discussionID, err)
	}
	slog.Debug("reconciled feedback references",
		"discussion_id", l.discussionID,
		"id_shift", idShift,
		"rows", rows,
	)
	return nil
}
