package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TopicStore persists LLM topic suggestions and summaries. Obtain one via
// [Store.Topics].
type TopicStore struct {
	pool *pgxpool.Pool
}

// ReplaceSuggestions swaps the file's pending topic suggestions for a fresh
// extraction run. Suggestions the user already accepted or rejected are kept.
func (s *TopicStore) ReplaceSuggestions(ctx context.Context, fileID uuid.UUID, suggestions []TopicSuggestion) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("topics: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM topic_suggestions WHERE file_id = $1 AND accepted IS NULL`, fileID); err != nil {
		return fmt.Errorf("topics: clear pending: %w", err)
	}

	for _, ts := range suggestions {
		id := ts.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO topic_suggestions (id, file_id, topic, relevance)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (file_id, topic) DO UPDATE SET relevance = EXCLUDED.relevance`,
			id, fileID, ts.Topic, ts.Relevance); err != nil {
			return fmt.Errorf("topics: insert %q: %w", ts.Topic, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("topics: commit: %w", err)
	}
	return nil
}

// ListSuggestions returns the file's topic suggestions, most relevant first.
func (s *TopicStore) ListSuggestions(ctx context.Context, fileID uuid.UUID) ([]TopicSuggestion, error) {
	const q = `
		SELECT id, file_id, topic, relevance, accepted, created_at
		FROM   topic_suggestions
		WHERE  file_id = $1
		ORDER  BY relevance DESC, topic`

	rows, err := s.pool.Query(ctx, q, fileID)
	if err != nil {
		return nil, fmt.Errorf("topics: list suggestions: %w", err)
	}
	suggestions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TopicSuggestion, error) {
		var ts TopicSuggestion
		err := row.Scan(&ts.ID, &ts.FileID, &ts.Topic, &ts.Relevance, &ts.Accepted, &ts.CreatedAt)
		return ts, err
	})
	if err != nil {
		return nil, fmt.Errorf("topics: scan rows: %w", err)
	}
	return suggestions, nil
}

// Review records the user's accept/reject decision on a suggestion.
func (s *TopicStore) Review(ctx context.Context, id uuid.UUID, accepted bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE topic_suggestions SET accepted = $2 WHERE id = $1`, id, accepted)
	if err != nil {
		return fmt.Errorf("topics: review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSummary upserts the file's summary. Re-summarization replaces the
// previous result.
func (s *TopicStore) SaveSummary(ctx context.Context, sum Summary) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO summaries (file_id, bluf, body, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (file_id) DO UPDATE SET
		    bluf = EXCLUDED.bluf, body = EXCLUDED.body,
		    model = EXCLUDED.model, created_at = now()`,
		sum.FileID, sum.BLUF, sum.Body, sum.Model)
	if err != nil {
		return fmt.Errorf("topics: save summary: %w", err)
	}
	return nil
}

// GetSummary returns the file's summary, or [ErrNotFound].
func (s *TopicStore) GetSummary(ctx context.Context, fileID uuid.UUID) (Summary, error) {
	var sum Summary
	err := s.pool.QueryRow(ctx,
		`SELECT file_id, bluf, body, model, created_at FROM summaries WHERE file_id = $1`,
		fileID).Scan(&sum.FileID, &sum.BLUF, &sum.Body, &sum.Model, &sum.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, ErrNotFound
	}
	if err != nil {
		return Summary{}, fmt.Errorf("topics: get summary: %w", err)
	}
	return sum, nil
}
