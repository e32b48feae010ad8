package tutor

import (
	"github.com/dkoshel/mentorlab/internal/domain"
)

// ConceptSequencer tracks the ordered concept list for the active topic and
// the current position. Advancing is forward-only; there is no skipping or
// rewinding. Calls for a given discussion are serialized by the controller,
// so the sequencer needs no locking of its own.
type ConceptSequencer struct {
	concepts []domain.Concept
	index    int
}

// NewConceptSequencer creates a sequencer positioned at the first concept.
func NewConceptSequencer(concepts []domain.Concept) *ConceptSequencer {
	return &ConceptSequencer{concepts: concepts}
}

// Current returns the concept at the tracked index. ok is false once the
// sequence is complete.
func (s *ConceptSequencer) Current() (domain.Concept, bool) {
	if s.index >= len(s.concepts) {
		return domain.Concept{}, false
	}
	return s.concepts[s.index], true
}

// Advance moves the index forward by one and reports whether it moved.
// It returns false if the sequence is already complete.
func (s *ConceptSequencer) Advance() bool {
	if s.index >= len(s.concepts) {
		return false
	}
	s.index++
	return true
}

// IsComplete reports whether every concept has been covered.
func (s *ConceptSequencer) IsComplete() bool {
	return s.index == len(s.concepts)
}

// Index returns the current concept index.
func (s *ConceptSequencer) Index() int {
	return s.index
}

// Count returns the number of concepts in the sequence.
func (s *ConceptSequencer) Count() int {
	return len(s.concepts)
}

// ProgressPercent returns coverage as an integer percentage.
func (s *ConceptSequencer) ProgressPercent() int {
	if len(s.concepts) == 0 {
		return 100
	}
	return s.index * 100 / len(s.concepts)
}
