package tutor

import (
	"context"
	"errors"
	"testing"

	"github.com/dkoshel/mentorlab/internal/domain"
)

func TestParseEvaluation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Evaluation
		wantErr bool
	}{
		{
			name: "clean object",
			raw:  `{"score": 3, "progress": 3, "comment": "solid"}`,
			want: Evaluation{Score: 3, Progress: 3, Comment: "solid"},
		},
		{
			name: "object wrapped in prose",
			raw:  "Sure! Here is my verdict:\n```json\n{\"score\": 2, \"progress\": 1, \"comment\": \"partial\"}\n```\nHope that helps.",
			want: Evaluation{Score: 2, Progress: 1, Comment: "partial"},
		},
		{
			name:    "no braces",
			raw:     "the learner did well",
			wantErr: true,
		},
		{
			name:    "unknown field",
			raw:     `{"score": 3, "progress": 3, "comment": "ok", "confidence": 0.9}`,
			wantErr: true,
		},
		{
			name:    "score out of range",
			raw:     `{"score": 5, "progress": 3, "comment": "ok"}`,
			wantErr: true,
		},
		{
			name:    "progress out of range",
			raw:     `{"score": 3, "progress": 0, "comment": "ok"}`,
			wantErr: true,
		},
		{
			name:    "wrong types",
			raw:     `{"score": "three", "progress": 3, "comment": "ok"}`,
			wantErr: true,
		},
		{
			name:    "empty string",
			raw:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseEvaluation(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedOutput) {
					t.Fatalf("Expected error wrapping ErrMalformedOutput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected success, got %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

// scriptedQuerier returns canned outputs in order, recording the prompts it
// received.
type scriptedQuerier struct {
	outputs []string
	errs    []error
	calls   int
	prompts []string
}

func (q *scriptedQuerier) Query(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	i := q.calls
	q.calls++
	q.prompts = append(q.prompts, userPrompt)
	if i < len(q.errs) && q.errs[i] != nil {
		return "", q.errs[i]
	}
	if i < len(q.outputs) {
		return q.outputs[i], nil
	}
	return "", errors.New("scripted querier exhausted")
}

func testTopic() (*domain.Topic, []domain.Concept) {
	concepts := []domain.Concept{
		{ID: 101, TopicID: 1, Ord: 0, Text: "Alleles are gene variants.", Status: domain.ConceptStatusActive},
		{ID: 102, TopicID: 1, Ord: 1, Text: "Dominant alleles mask recessive ones.", Status: domain.ConceptStatusActive},
		{ID: 103, TopicID: 1, Ord: 2, Text: "Alleles segregate randomly into gametes.", Status: domain.ConceptStatusActive},
	}
	return &domain.Topic{ID: 1, Title: "Mendelian Inheritance", Concepts: concepts}, concepts
}

func TestJudgeRetriesMalformedVerdicts(t *testing.T) {
	t.Parallel()

	topic, concepts := testTopic()
	q := &scriptedQuerier{outputs: []string{
		"not json at all",
		`{"score": 6, "progress": 3, "comment": "out of range"}`,
		`{"score": 4, "progress": 3, "comment": "clear"}`,
	}}
	judge := NewProgressJudge(q, NewRetryingInvoker(3, 0, nil), 20)

	eval, err := judge.Judge(context.Background(), topic, concepts, 0, nil)
	if err != nil {
		t.Fatalf("Expected third attempt to succeed, got %v", err)
	}
	if q.calls != 3 {
		t.Errorf("Expected 3 model calls, got %d", q.calls)
	}
	if eval.Score != 4 || eval.Progress != 3 {
		t.Errorf("Expected score 4 progress 3, got %+v", eval)
	}
}

func TestJudgeTransportErrorSurfacesImmediately(t *testing.T) {
	t.Parallel()

	topic, concepts := testTopic()
	transportErr := errors.New("dial tcp: connection refused")
	q := &scriptedQuerier{errs: []error{transportErr}}
	judge := NewProgressJudge(q, NewRetryingInvoker(3, 0, nil), 20)

	_, err := judge.Judge(context.Background(), topic, concepts, 0, nil)
	if !errors.Is(err, transportErr) {
		t.Fatalf("Expected transport error, got %v", err)
	}
	if q.calls != 1 {
		t.Errorf("Expected 1 model call, got %d", q.calls)
	}
}

func TestJudgeExhaustionReturnsMalformed(t *testing.T) {
	t.Parallel()

	topic, concepts := testTopic()
	q := &scriptedQuerier{outputs: []string{"garbage", "garbage", "garbage"}}
	judge := NewProgressJudge(q, NewRetryingInvoker(3, 0, nil), 20)

	_, err := judge.Judge(context.Background(), topic, concepts, 0, nil)
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("Expected ErrMalformedOutput after exhaustion, got %v", err)
	}
	if q.calls != 3 {
		t.Errorf("Expected 3 model calls, got %d", q.calls)
	}
}
