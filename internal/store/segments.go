package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SegmentStore persists transcript segments. Obtain one via [Store.Segments].
type SegmentStore struct {
	pool *pgxpool.Pool
}

const segmentColumns = `
	id, file_id, idx, start_sec, end_sec, text, speaker_id,
	diarization_label, confidence`

func scanSegment(row pgx.Row) (TranscriptSegment, error) {
	var seg TranscriptSegment
	err := row.Scan(
		&seg.ID, &seg.FileID, &seg.Index, &seg.StartSec, &seg.EndSec,
		&seg.Text, &seg.SpeakerID, &seg.DiarizationLabel, &seg.Confidence,
	)
	return seg, err
}

// ReplaceForFile atomically replaces the file's transcript with the given
// segments. Re-transcription after a recovery reset must not leave segments
// from the previous attempt behind.
func (s *SegmentStore) ReplaceForFile(ctx context.Context, fileID uuid.UUID, segments []TranscriptSegment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("segments: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM transcript_segments WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("segments: clear previous: %w", err)
	}

	rows := make([][]any, 0, len(segments))
	for i, seg := range segments {
		id := seg.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rows = append(rows, []any{
			id, fileID, i, seg.StartSec, seg.EndSec, seg.Text,
			seg.SpeakerID, seg.DiarizationLabel, seg.Confidence,
		})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"transcript_segments"},
		[]string{"id", "file_id", "idx", "start_sec", "end_sec", "text",
			"speaker_id", "diarization_label", "confidence"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("segments: copy: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("segments: commit: %w", err)
	}
	return nil
}

// ListForFile returns the file's segments in transcript order.
func (s *SegmentStore) ListForFile(ctx context.Context, fileID uuid.UUID) ([]TranscriptSegment, error) {
	const q = `
		SELECT ` + segmentColumns + `
		FROM   transcript_segments
		WHERE  file_id = $1
		ORDER  BY idx`

	rows, err := s.pool.Query(ctx, q, fileID)
	if err != nil {
		return nil, fmt.Errorf("segments: list for file: %w", err)
	}
	segs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TranscriptSegment, error) {
		return scanSegment(row)
	})
	if err != nil {
		return nil, fmt.Errorf("segments: scan rows: %w", err)
	}
	return segs, nil
}

// AssignSpeaker sets the resolved speaker on every segment of the file that
// carries the given diarization label. Used both when speakers are first
// created and when retroactive labeling re-maps a label to a matched
// identity. Returns the number of segments updated.
func (s *SegmentStore) AssignSpeaker(ctx context.Context, fileID uuid.UUID, diarizationLabel string, speakerID uuid.UUID) (int64, error) {
	const q = `
		UPDATE transcript_segments
		SET    speaker_id = $3
		WHERE  file_id = $1 AND diarization_label = $2`

	tag, err := s.pool.Exec(ctx, q, fileID, diarizationLabel, speakerID)
	if err != nil {
		return 0, fmt.Errorf("segments: assign speaker: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateText edits a single segment's text. Used by transcript correction.
func (s *SegmentStore) UpdateText(ctx context.Context, id uuid.UUID, text string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transcript_segments SET text = $2 WHERE id = $1`, id, text)
	if err != nil {
		return fmt.Errorf("segments: update text: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchResult is one full-text search hit.
type SearchResult struct {
	Segment TranscriptSegment
	// Rank is the ts_rank score; higher is more relevant.
	Rank float64
}

// Search runs a websearch-style full-text query over a user's transcripts,
// returning up to limit hits ordered by relevance.
func (s *SegmentStore) Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]SearchResult, error) {
	const q = `
		SELECT ` + segmentColumns + `,
		       ts_rank(to_tsvector('english', text), websearch_to_tsquery('english', $2)) AS rank
		FROM   transcript_segments seg
		JOIN   media_files f ON f.id = seg.file_id
		WHERE  f.user_id = $1
		  AND  to_tsvector('english', text) @@ websearch_to_tsquery('english', $2)
		ORDER  BY rank DESC
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, userID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("segments: search: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SearchResult, error) {
		var r SearchResult
		err := row.Scan(
			&r.Segment.ID, &r.Segment.FileID, &r.Segment.Index,
			&r.Segment.StartSec, &r.Segment.EndSec, &r.Segment.Text,
			&r.Segment.SpeakerID, &r.Segment.DiarizationLabel,
			&r.Segment.Confidence, &r.Rank,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("segments: scan rows: %w", err)
	}
	return results, nil
}
