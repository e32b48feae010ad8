package tutor

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkoshel/mentorlab/internal/domain"
)

// Decision selects the mentor's behavior for the next utterance. It is
// derived from the judge's score/progress pair.
type Decision int

const (
	// DecisionProbe asks again about the same concept without revealing it.
	DecisionProbe Decision = iota
	// DecisionNudge pushes a basically-correct learner toward full mastery.
	DecisionNudge
	// DecisionExplainAndAdvance handles a stuck conversation: explain the
	// previous concept, then pivot to the new current one.
	DecisionExplainAndAdvance
	// DecisionAdvance acknowledges mastery and moves to the next concept.
	DecisionAdvance
)

// String returns the decision name for logging.
func (d Decision) String() string {
	switch d {
	case DecisionProbe:
		return "probe"
	case DecisionNudge:
		return "nudge"
	case DecisionExplainAndAdvance:
		return "explain_and_advance"
	case DecisionAdvance:
		return "advance"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Advances reports whether the decision moves the concept index forward.
func (d Decision) Advances() bool {
	return d == DecisionAdvance || d == DecisionExplainAndAdvance
}

// DecideFrom maps an evaluation to a mentor decision.
func DecideFrom(eval Evaluation) Decision {
	switch eval.Progress {
	case 2:
		return DecisionExplainAndAdvance
	case 3:
		return DecisionAdvance
	default:
		if eval.Score >= 3 {
			return DecisionNudge
		}
		return DecisionProbe
	}
}

// MentorAgent produces the next mentor utterance given the progression
// decision. It is never invoked for a completed sequence; the controller
// emits the static completion template instead.
type MentorAgent struct {
	querier          Querier
	invoker          *RetryingInvoker
	transcriptWindow int
}

// NewMentorAgent creates a mentor backed by the given model querier.
func NewMentorAgent(querier Querier, invoker *RetryingInvoker, transcriptWindow int) *MentorAgent {
	return &MentorAgent{
		querier:          querier,
		invoker:          invoker,
		transcriptWindow: transcriptWindow,
	}
}

// Respond generates the mentor's utterance. For advancing decisions, index
// is the post-advance position and must be < len(concepts). Blank output
// counts as malformed and is retried.
func (m *MentorAgent) Respond(ctx context.Context, topic *domain.Topic, concepts []domain.Concept, index int, decision Decision, transcript []domain.Message) (string, error) {
	userPrompt := mentorUserPrompt(topic, concepts, index, decision, formatTranscript(transcript, m.transcriptWindow))

	return Invoke(ctx, m.invoker, func(ctx context.Context) (string, error) {
		raw, err := m.querier.Query(ctx, mentorSystemPrompt, userPrompt)
		if err != nil {
			return "", err
		}
		utterance := strings.TrimSpace(raw)
		if utterance == "" {
			return "", fmt.Errorf("%w: blank mentor utterance", ErrMalformedOutput)
		}
		return utterance, nil
	})
}
