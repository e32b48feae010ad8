package tutor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dkoshel/mentorlab/internal/domain"
)

// Querier is the text-in/text-out capability of the external content/model
// service. Output is expected, but not guaranteed, to parse against the
// structures defined here.
type Querier interface {
	Query(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Evaluation is the judge's verdict on the learner's last turn.
type Evaluation struct {
	// Score rates the demonstration of the current concept, 1..4.
	Score int `json:"score"`
	// Progress decides movement: 1 = stay, 2 = stuck (explain and move on
	// anyway), 3 = advance normally.
	Progress int `json:"progress"`
	// Comment is a short justification attached to the judged message.
	Comment string `json:"comment"`
}

// Validate checks the evaluation against its schema bounds.
func (e Evaluation) Validate() error {
	if e.Score < 1 || e.Score > 4 {
		return fmt.Errorf("%w: score %d out of range [1,4]", ErrMalformedOutput, e.Score)
	}
	if e.Progress < 1 || e.Progress > 3 {
		return fmt.Errorf("%w: progress %d out of range [1,3]", ErrMalformedOutput, e.Progress)
	}
	return nil
}

// ProgressJudge scores the learner's last turn and decides whether the
// discussion should advance to the next concept.
type ProgressJudge struct {
	querier          Querier
	invoker          *RetryingInvoker
	transcriptWindow int
}

// NewProgressJudge creates a judge backed by the given model querier.
func NewProgressJudge(querier Querier, invoker *RetryingInvoker, transcriptWindow int) *ProgressJudge {
	return &ProgressJudge{
		querier:          querier,
		invoker:          invoker,
		transcriptWindow: transcriptWindow,
	}
}

// Judge evaluates the transcript against the concept at index. Malformed
// model output is retried via the invoker; transport errors surface
// immediately.
func (j *ProgressJudge) Judge(ctx context.Context, topic *domain.Topic, concepts []domain.Concept, index int, transcript []domain.Message) (Evaluation, error) {
	userPrompt := judgeUserPrompt(topic, concepts, index, formatTranscript(transcript, j.transcriptWindow))

	return Invoke(ctx, j.invoker, func(ctx context.Context) (Evaluation, error) {
		raw, err := j.querier.Query(ctx, judgeSystemPrompt, userPrompt)
		if err != nil {
			return Evaluation{}, err
		}
		return parseEvaluation(raw)
	})
}

// parseEvaluation extracts and validates the judge's JSON verdict from raw
// model text. Models sometimes wrap the object in prose; everything outside
// the outermost braces is discarded.
func parseEvaluation(raw string) (Evaluation, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Evaluation{}, fmt.Errorf("%w: no JSON object in %d bytes of output", ErrMalformedOutput, len(raw))
	}

	dec := json.NewDecoder(strings.NewReader(raw[start : end+1]))
	dec.DisallowUnknownFields()

	var eval Evaluation
	if err := dec.Decode(&eval); err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := eval.Validate(); err != nil {
		return Evaluation{}, err
	}
	return eval, nil
}
