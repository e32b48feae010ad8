package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dkoshel/mentorlab/internal/domain"
)

// State is the controller's position in the discussion lifecycle.
type State int

const (
	// StateInit means no discussion is open.
	StateInit State = iota
	// StateActive means the controller awaits learner input.
	StateActive
	// StateAwaitingModel means a background model call is outstanding and
	// input is disabled.
	StateAwaitingModel
	// StateComplete means every concept is covered; the discussion is still
	// logically open.
	StateComplete
	// StateClosed means the discussion was flushed and closed.
	StateClosed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateActive:
		return "active"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateComplete:
		return "complete"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TurnResult is delivered to the caller when a turn (or discussion start)
// produces a mentor utterance.
type TurnResult struct {
	MentorText      string `json:"mentor_text"`
	ProgressPercent int    `json:"progress_percent"`
	Finished        bool   `json:"finished"`
}

// Notifier receives asynchronous turn outcomes. Implementations are called
// from worker goroutines and must be safe for that.
type Notifier interface {
	// MentorReply delivers a completed turn.
	MentorReply(result TurnResult)
	// TurnFailed delivers a recoverable per-turn failure.
	TurnFailed(failure TurnFailure)
}

// ControllerStore is the persistence surface the controller uses.
type ControllerStore interface {
	MessageStore
	GetTopic(ctx context.Context, topicID int64) (*domain.Topic, error)
	InsertDiscussion(ctx context.Context, d *domain.Discussion) error
	EndDiscussion(ctx context.Context, discussionID int64, endedAt time.Time) error
}

// Controller drives one session's tutoring dialogue: validating input,
// gating the single outstanding model call, applying evaluations to the
// concept sequence, and flushing the conversation log at close. All exported
// methods are safe for concurrent use; internally every transition runs
// under one mutex, which keeps sequencer and log access serialized.
type Controller struct {
	store    ControllerStore
	judge    *ProgressJudge
	mentor   *MentorAgent
	pool     *WorkerPool
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	sessionID string

	mu         sync.Mutex
	state      State
	topic      *domain.Topic
	concepts   []domain.Concept
	seq        *ConceptSequencer
	log        *ConversationLog
	discussion *domain.Discussion
	// generation invalidates in-flight results: a result produced for an
	// older generation is discarded on arrival.
	generation uint64
}

// NewController creates a controller for one session.
func NewController(sessionID string, st ControllerStore, judge *ProgressJudge, mentor *MentorAgent, pool *WorkerPool, notifier Notifier, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:     st,
		judge:     judge,
		mentor:    mentor,
		pool:      pool,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		sessionID: sessionID,
		state:     StateInit,
	}
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DiscussionID returns the open discussion's id, or 0 when none is open.
func (c *Controller) DiscussionID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discussion == nil {
		return 0
	}
	return c.discussion.ID
}

// Start opens a discussion for the topic and returns the synthetic welcome.
// An already-open discussion for this session is flushed and closed first.
// Start is rejected while a model call is outstanding.
func (c *Controller) Start(ctx context.Context, topicID int64) (TurnResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAwaitingModel {
		return TurnResult{}, fmt.Errorf("cannot start discussion: model call outstanding")
	}

	if c.state == StateActive || c.state == StateComplete {
		if err := c.closeDiscussionLocked(ctx); err != nil {
			return TurnResult{}, fmt.Errorf("close previous discussion: %w", err)
		}
	}

	topic, err := c.store.GetTopic(ctx, topicID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("load topic %d: %w", topicID, err)
	}
	if topic == nil {
		return TurnResult{}, fmt.Errorf("topic %d not found", topicID)
	}
	concepts := topic.ActiveConcepts()
	if len(concepts) == 0 {
		return TurnResult{}, fmt.Errorf("topic %d: %w", topicID, ErrNoConcepts)
	}

	discussion := &domain.Discussion{
		SessionID: c.sessionID,
		TopicID:   topic.ID,
		StartedAt: c.now(),
	}
	if err := c.store.InsertDiscussion(ctx, discussion); err != nil {
		return TurnResult{}, fmt.Errorf("insert discussion: %w", err)
	}

	c.topic = topic
	c.concepts = concepts
	c.seq = NewConceptSequencer(concepts)
	c.log = NewConversationLog(discussion.ID)
	c.discussion = discussion
	c.generation++
	c.state = StateActive

	welcome := WelcomeMessage(topic, concepts[0])
	c.log.Append(domain.Message{
		ConceptID:  concepts[0].ID,
		FromMentor: true,
		SentAt:     c.now(),
		Content:    welcome,
	})

	c.logger.Info("discussion started",
		"session_id", c.sessionID,
		"discussion_id", discussion.ID,
		"topic_id", topic.ID,
		"concepts", len(concepts),
	)

	return TurnResult{MentorText: welcome, ProgressPercent: 0, Finished: false}, nil
}

// SubmitTurn accepts learner text and dispatches the background evaluation.
// Empty or whitespace-only text, and any state other than ACTIVE, make this
// a no-op; the return value reports whether the turn was accepted.
func (c *Controller) SubmitTurn(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateActive {
		return false
	}

	concept, ok := c.seq.Current()
	if !ok {
		// Active implies an uncovered concept; guard anyway.
		return false
	}

	tempID := c.log.Append(domain.Message{
		ConceptID:  concept.ID,
		FromMentor: false,
		SentAt:     c.now(),
		Content:    text,
	})

	gen := c.generation
	index := c.seq.Index()
	transcript := make([]domain.Message, c.log.Len())
	copy(transcript, c.log.Messages())
	topic := c.topic
	concepts := c.concepts

	if err := c.pool.Submit(func() {
		c.runTurn(gen, topic, concepts, index, tempID, transcript)
	}); err != nil {
		c.log.removeLast()
		c.logger.Warn("turn dispatch rejected", "session_id", c.sessionID, "error", err)
		return false
	}

	c.state = StateAwaitingModel
	return true
}

// runTurn executes the judge and mentor calls on a worker goroutine and
// hands the outcome back to the controller.
func (c *Controller) runTurn(gen uint64, topic *domain.Topic, concepts []domain.Concept, index int, learnerTempID int64, transcript []domain.Message) {
	ctx := context.Background()

	eval, err := c.judge.Judge(ctx, topic, concepts, index, transcript)
	if err != nil {
		c.applyFailure(gen, classifyTurnError(err))
		return
	}

	decision := DecideFrom(eval)
	replyIndex := index
	if decision.Advances() {
		replyIndex = index + 1
	}

	var reply string
	if replyIndex == len(concepts) {
		// Every concept is covered: deterministic completion, no model call.
		reply = CompletionMessage(topic)
	} else {
		reply, err = c.mentor.Respond(ctx, topic, concepts, replyIndex, decision, transcript)
		if err != nil {
			c.applyFailure(gen, classifyTurnError(err))
			return
		}
	}

	c.applyResult(gen, eval, decision, learnerTempID, reply)
}

// classifyTurnError maps a judge/mentor error to the caller-facing taxonomy.
func classifyTurnError(err error) TurnFailure {
	if isMalformed(err) {
		return TurnFailure{Kind: FailureEvaluation, Err: fmt.Errorf("%w: %v", ErrEvaluationFailed, err)}
	}
	return TurnFailure{Kind: FailureTransport, Err: err}
}

// applyResult applies a completed turn. Results for a stale generation or a
// closed controller are discarded.
func (c *Controller) applyResult(gen uint64, eval Evaluation, decision Decision, learnerTempID int64, reply string) {
	c.mu.Lock()

	if gen != c.generation || c.state != StateAwaitingModel {
		c.mu.Unlock()
		c.logger.Debug("discarding stale turn result", "session_id", c.sessionID)
		return
	}

	if !c.log.AttachEvaluation(learnerTempID, eval.Score, eval.Comment) {
		c.logger.Warn("failed to attach evaluation", "session_id", c.sessionID, "temp_id", learnerTempID)
	}

	if decision.Advances() {
		c.seq.Advance()
	}

	// The mentor message carries the concept now under discussion; once the
	// sequence is complete, the final concept is the one being wrapped up.
	conceptID := c.concepts[len(c.concepts)-1].ID
	if concept, ok := c.seq.Current(); ok {
		conceptID = concept.ID
	}
	c.log.Append(domain.Message{
		ConceptID:  conceptID,
		FromMentor: true,
		SentAt:     c.now(),
		Content:    reply,
	})

	finished := c.seq.IsComplete()
	if finished {
		c.state = StateComplete
	} else {
		c.state = StateActive
	}
	result := TurnResult{
		MentorText:      reply,
		ProgressPercent: c.seq.ProgressPercent(),
		Finished:        finished,
	}

	c.logger.Info("turn applied",
		"session_id", c.sessionID,
		"discussion_id", c.discussion.ID,
		"decision", decision.String(),
		"score", eval.Score,
		"progress", eval.Progress,
		"concept_index", c.seq.Index(),
		"finished", finished,
	)
	c.mu.Unlock()

	c.notifier.MentorReply(result)
}

// applyFailure returns the controller to ACTIVE after a failed turn. Nothing
// is appended to the log and the concept index is unchanged.
func (c *Controller) applyFailure(gen uint64, failure TurnFailure) {
	c.mu.Lock()

	if gen != c.generation || c.state != StateAwaitingModel {
		c.mu.Unlock()
		c.logger.Debug("discarding stale turn failure", "session_id", c.sessionID)
		return
	}

	c.state = StateActive
	c.logger.Warn("turn failed",
		"session_id", c.sessionID,
		"discussion_id", c.discussion.ID,
		"kind", string(failure.Kind),
		"error", failure.Err,
	)
	c.mu.Unlock()

	c.notifier.TurnFailed(failure)
}

// NoteFeedbackRefs validates feedback references against the open
// discussion's log and records them for flush-time reconciliation. It
// returns the discussion id the references belong to.
func (c *Controller) NoteFeedbackRefs(tempIDs []int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateInit || c.state == StateClosed || c.discussion == nil {
		return 0, fmt.Errorf("no open discussion")
	}
	for _, id := range tempIDs {
		if id < 0 || id >= int64(c.log.Len()) {
			return 0, fmt.Errorf("unknown message id %d", id)
		}
	}
	for _, id := range tempIDs {
		c.log.NoteFeedbackRef(id)
	}
	return c.discussion.ID, nil
}

// End closes any open discussion, flushing the conversation log. A pending
// model result is invalidated and will be discarded on arrival. On a flush
// failure the in-memory log is retained and the error propagates; the
// discussion is not considered durably closed.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateInit, StateClosed:
		return nil
	}

	// Invalidate any outstanding model call before tearing down.
	c.generation++
	return c.closeDiscussionLocked(ctx)
}

// closeDiscussionLocked flushes and closes the open discussion. The caller
// holds c.mu. Flush is retried once on failure before giving up; the log
// stays in memory either way, never discarded on error.
func (c *Controller) closeDiscussionLocked(ctx context.Context) error {
	if c.discussion == nil {
		c.state = StateClosed
		return nil
	}

	err := c.log.Flush(ctx, c.store)
	if err != nil {
		c.logger.Warn("flush failed, retrying once",
			"session_id", c.sessionID,
			"discussion_id", c.discussion.ID,
			"error", err,
		)
		err = c.log.Flush(ctx, c.store)
	}
	if err != nil {
		c.logger.Error("conversation flush failed, log retained",
			"session_id", c.sessionID,
			"discussion_id", c.discussion.ID,
			"messages", c.log.Len(),
			"error", err,
		)
		return fmt.Errorf("flush discussion %d: %w", c.discussion.ID, err)
	}

	if err := c.store.EndDiscussion(ctx, c.discussion.ID, c.now()); err != nil {
		return fmt.Errorf("end discussion %d: %w", c.discussion.ID, err)
	}

	c.logger.Info("discussion closed",
		"session_id", c.sessionID,
		"discussion_id", c.discussion.ID,
		"messages", c.log.Len(),
	)

	c.discussion = nil
	c.topic = nil
	c.seq = nil
	c.state = StateClosed
	return nil
}

func isMalformed(err error) bool {
	return errors.Is(err, ErrMalformedOutput) || errors.Is(err, ErrEvaluationFailed)
}
