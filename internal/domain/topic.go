package domain

// ConceptStatus marks whether a concept is available for tutoring.
type ConceptStatus string

const (
	// ConceptStatusActive means the concept is part of the tutored sequence.
	ConceptStatusActive ConceptStatus = "active"
	// ConceptStatusDraft means the concept is hidden from learners.
	ConceptStatusDraft ConceptStatus = "draft"
)

// Topic is an ordered set of concepts covered within one discussion.
// Topics are owned by the admin side and read-only here.
type Topic struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Concepts []Concept `json:"concepts,omitempty"`
}

// Concept is the smallest unit of understanding the mentor checks for.
type Concept struct {
	ID      int64         `json:"id"`
	TopicID int64         `json:"topic_id"`
	Ord     int           `json:"ord"`
	Text    string        `json:"text"`
	Status  ConceptStatus `json:"status"`
}

// ActiveConcepts returns the topic's active concepts in order.
// The slice is already ordered by Ord when loaded from the store.
func (t *Topic) ActiveConcepts() []Concept {
	out := make([]Concept, 0, len(t.Concepts))
	for _, c := range t.Concepts {
		if c.Status == ConceptStatusActive {
			out = append(out, c)
		}
	}
	return out
}
