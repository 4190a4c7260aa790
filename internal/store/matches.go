package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MatchStore persists cross-file speaker similarity pairs. Obtain one via
// [Store.Matches].
type MatchStore struct {
	pool *pgxpool.Pool
}

const matchColumns = `
	speaker_low, speaker_high, confidence, created_at, updated_at`

func scanMatch(row pgx.Row) (SpeakerMatch, error) {
	var m SpeakerMatch
	err := row.Scan(&m.SpeakerLow, &m.SpeakerHigh, &m.Confidence, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// Upsert records a similarity between two speakers. The pair is stored in
// canonical (low, high) order and re-detections keep the maximum confidence
// ever observed, so a weak later probe cannot degrade an established match.
func (s *MatchStore) Upsert(ctx context.Context, a, b uuid.UUID, confidence float64) (SpeakerMatch, error) {
	low, high := OrderPair(a, b)

	const q = `
		INSERT INTO speaker_matches (speaker_low, speaker_high, confidence)
		VALUES ($1, $2, $3)
		ON CONFLICT (speaker_low, speaker_high) DO UPDATE SET
		    confidence = GREATEST(speaker_matches.confidence, EXCLUDED.confidence),
		    updated_at = now()
		RETURNING ` + matchColumns

	m, err := scanMatch(s.pool.QueryRow(ctx, q, low, high, confidence))
	if err != nil {
		return SpeakerMatch{}, fmt.Errorf("matches: upsert: %w", err)
	}
	return m, nil
}

// ListForSpeaker returns every match involving the speaker, strongest first.
func (s *MatchStore) ListForSpeaker(ctx context.Context, speakerID uuid.UUID) ([]SpeakerMatch, error) {
	const q = `
		SELECT ` + matchColumns + `
		FROM   speaker_matches
		WHERE  speaker_low = $1 OR speaker_high = $1
		ORDER  BY confidence DESC`

	rows, err := s.pool.Query(ctx, q, speakerID)
	if err != nil {
		return nil, fmt.Errorf("matches: list for speaker: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SpeakerMatch, error) {
		return scanMatch(row)
	})
	if err != nil {
		return nil, fmt.Errorf("matches: scan rows: %w", err)
	}
	return matches, nil
}

// Delete removes the match between two speakers, regardless of argument
// order.
func (s *MatchStore) Delete(ctx context.Context, a, b uuid.UUID) error {
	low, high := OrderPair(a, b)

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM speaker_matches WHERE speaker_low = $1 AND speaker_high = $2`,
		low, high)
	if err != nil {
		return fmt.Errorf("matches: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
