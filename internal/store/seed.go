package store

import (
	"context"
	"fmt"

	"github.com/dkoshel/mentorlab/internal/domain"
)

// EnsureSeedTopics inserts the given topics if the topics table is empty.
// Topic administration lives outside this service; the seed only keeps a
// fresh database usable.
func (s *SQLiteStore) EnsureSeedTopics(ctx context.Context, topics []domain.Topic) error {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM topics`).Scan(&count); err != nil {
		return fmt.Errorf("count topics: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, topic := range topics {
		result, err := s.db.ExecContext(ctx, `INSERT INTO topics (title) VALUES (?)`, topic.Title)
		if err != nil {
			return fmt.Errorf("seed topic %q: %w", topic.Title, err)
		}
		topicID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("seed topic id: %w", err)
		}
		for i, c := range topic.Concepts {
			status := c.Status
			if status == "" {
				status = domain.ConceptStatusActive
			}
			if _, err := s.db.ExecContext(ctx,
				`INSERT INTO concepts (topic_id, ord, text, status) VALUES (?, ?, ?, ?)`,
				topicID, i, c.Text, status,
			); err != nil {
				return fmt.Errorf("seed concept %d of %q: %w", i, topic.Title, err)
			}
		}
	}
	return nil
}

// DefaultSeedTopics returns a small starter curriculum for empty databases.
func DefaultSeedTopics() []domain.Topic {
	return []domain.Topic{
		{
			Title: "Mendelian Inheritance",
			Concepts: []domain.Concept{
				{Text: "Genes come in variant forms called alleles, and organisms carry two alleles per gene."},
				{Text: "Dominant alleles mask recessive alleles in heterozygotes."},
				{Text: "Alleles segregate randomly into gametes, so offspring ratios follow predictable probabilities."},
			},
		},
		{
			Title: "Photosynthesis",
			Concepts: []domain.Concept{
				{Text: "Light energy is captured by chlorophyll in the chloroplasts."},
				{Text: "Water is split and carbon dioxide is fixed into sugars."},
				{Text: "Oxygen is released as a by-product of the light reactions."},
			},
		},
	}
}
