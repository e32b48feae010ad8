package tutor

import (
	"fmt"
	"strings"

	"github.com/dkoshel/mentorlab/internal/domain"
)

// formatTranscript renders the most recent turns for a model prompt. window
// caps how many messages are included; zero or negative means no cap.
func formatTranscript(msgs []domain.Message, window int) string {
	if window > 0 && len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	var sb strings.Builder
	for _, m := range msgs {
		if m.FromMentor {
			sb.WriteString("Mentor: ")
		} else {
			sb.WriteString("Learner: ")
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatConceptList(concepts []domain.Concept, current int) string {
	var sb strings.Builder
	for i, c := range concepts {
		marker := " "
		switch {
		case i < current:
			marker = "x"
		case i == current:
			marker = ">"
		}
		fmt.Fprintf(&sb, "[%s] %d. %s\n", marker, i+1, c.Text)
	}
	return sb.String()
}

const judgeSystemPrompt = `You are grading one learner reply in a tutoring dialogue.
Score how well the learner's LAST message demonstrates understanding of the
current concept, and decide whether the conversation should move on.

score: 1 = no or incorrect demonstration, 2 = partial or mistaken,
3 = basic correct demonstration, 4 = clear demonstration.
progress: 1 = not ready to move on, 2 = conversation is stuck and the mentor
should explain the concept and move on anyway, 3 = ready to advance normally.

Reply with exactly one JSON object and nothing else:
{"score": <1-4>, "progress": <1-3>, "comment": "<one short sentence>"}`

func judgeUserPrompt(topic *domain.Topic, concepts []domain.Concept, index int, transcript string) string {
	current := concepts[index]
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\n\nConcept checklist:\n%s\n", topic.Title, formatConceptList(concepts, index))
	fmt.Fprintf(&sb, "Current concept: %s\n\nConversation so far:\n%s", current.Text, transcript)
	return sb.String()
}

const mentorSystemPrompt = `You are a patient mentor guiding a learner through a topic one concept
at a time, grounded in the provided concept descriptions. Keep replies short,
conversational and encouraging. Ask questions that let the learner show
understanding; never dump the whole answer unprompted.`

func mentorUserPrompt(topic *domain.Topic, concepts []domain.Concept, index int, decision Decision, transcript string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\n\nConcept checklist:\n%s\n", topic.Title, formatConceptList(concepts, index))
	fmt.Fprintf(&sb, "Conversation so far:\n%s\n", transcript)

	switch decision {
	case DecisionExplainAndAdvance:
		prev := concepts[index-1]
		current := concepts[index]
		fmt.Fprintf(&sb, "The conversation got stuck on this concept: %q.\n", prev.Text)
		fmt.Fprintf(&sb, "First explain it plainly (do not ask further questions about it), then pivot to the next concept: %q.\n", current.Text)
	case DecisionProbe:
		current := concepts[index]
		fmt.Fprintf(&sb, "The learner has not yet demonstrated this concept: %q.\n", current.Text)
		sb.WriteString("Probe again with a different angle or hint, without revealing the concept outright.\n")
	case DecisionNudge:
		current := concepts[index]
		fmt.Fprintf(&sb, "The learner showed a basic grasp of this concept: %q.\n", current.Text)
		sb.WriteString("Give a light nudge toward full mastery of the same concept.\n")
	case DecisionAdvance:
		prev := concepts[index-1]
		current := concepts[index]
		fmt.Fprintf(&sb, "The learner demonstrated this concept: %q.\n", prev.Text)
		fmt.Fprintf(&sb, "Acknowledge their mastery, briefly mention anything about it they did not cover explicitly, then move to the next concept: %q.\n", current.Text)
	}

	return sb.String()
}

// WelcomeMessage is the synthetic mentor opener appended when a discussion
// starts. It is not model-generated.
func WelcomeMessage(topic *domain.Topic, first domain.Concept) string {
	return fmt.Sprintf(
		"Welcome! Let's work through %s together. To get started, tell me what you already know about this idea: %s",
		topic.Title, lowerFirst(first.Text),
	)
}

// CompletionMessage is the static template emitted when every concept has
// been covered. No model call is made for it.
func CompletionMessage(topic *domain.Topic) string {
	return fmt.Sprintf(
		"That covers everything! You've worked through all the key ideas of %s. Well done. Feel free to start another topic whenever you're ready.",
		topic.Title,
	)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
