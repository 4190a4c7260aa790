package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SpeakerStore persists per-file speakers. Obtain one via [Store.Speakers].
type SpeakerStore struct {
	pool *pgxpool.Pool
}

const speakerColumns = `
	id, user_id, file_id, name, profile_id, verified, created_at, updated_at`

func scanSpeaker(row pgx.Row) (Speaker, error) {
	var sp Speaker
	err := row.Scan(
		&sp.ID, &sp.UserID, &sp.FileID, &sp.Name, &sp.ProfileID,
		&sp.Verified, &sp.CreatedAt, &sp.UpdatedAt,
	)
	return sp, err
}

// Create inserts a new speaker. A zero sp.ID is replaced with a fresh UUID.
func (s *SpeakerStore) Create(ctx context.Context, sp Speaker) (Speaker, error) {
	if sp.ID == uuid.Nil {
		sp.ID = uuid.New()
	}

	const q = `
		INSERT INTO speakers (id, user_id, file_id, name, profile_id, verified)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + speakerColumns

	stored, err := scanSpeaker(s.pool.QueryRow(ctx, q,
		sp.ID, sp.UserID, sp.FileID, sp.Name, sp.ProfileID, sp.Verified,
	))
	if err != nil {
		return Speaker{}, fmt.Errorf("speakers: create: %w", err)
	}
	return stored, nil
}

// Get returns the speaker with the given ID, or [ErrNotFound].
func (s *SpeakerStore) Get(ctx context.Context, id uuid.UUID) (Speaker, error) {
	const q = `SELECT ` + speakerColumns + ` FROM speakers WHERE id = $1`

	sp, err := scanSpeaker(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Speaker{}, ErrNotFound
	}
	if err != nil {
		return Speaker{}, fmt.Errorf("speakers: get: %w", err)
	}
	return sp, nil
}

// ListForFile returns all speakers detected in a file, in creation order.
func (s *SpeakerStore) ListForFile(ctx context.Context, fileID uuid.UUID) ([]Speaker, error) {
	const q = `SELECT ` + speakerColumns + ` FROM speakers WHERE file_id = $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, fileID)
	if err != nil {
		return nil, fmt.Errorf("speakers: list for file: %w", err)
	}
	speakers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Speaker, error) {
		return scanSpeaker(row)
	})
	if err != nil {
		return nil, fmt.Errorf("speakers: scan rows: %w", err)
	}
	return speakers, nil
}

// ListNamesForUser returns the distinct verified speaker names a user has
// assigned across all files. Used for fuzzy name suggestions.
func (s *SpeakerStore) ListNamesForUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	const q = `
		SELECT DISTINCT name
		FROM   speakers
		WHERE  user_id = $1 AND verified
		ORDER  BY name`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("speakers: list names: %w", err)
	}
	names, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var name string
		err := row.Scan(&name)
		return name, err
	})
	if err != nil {
		return nil, fmt.Errorf("speakers: scan rows: %w", err)
	}
	return names, nil
}

// Rename sets the speaker's display name. verified marks the name as
// trusted — user edits always are, and auto-applied names inherit the flag
// from the source speaker so trust chains across files.
func (s *SpeakerStore) Rename(ctx context.Context, id uuid.UUID, name string, verified bool) (Speaker, error) {
	const q = `
		UPDATE speakers
		SET    name = $2, verified = $3, updated_at = now()
		WHERE  id = $1
		RETURNING ` + speakerColumns

	sp, err := scanSpeaker(s.pool.QueryRow(ctx, q, id, name, verified))
	if errors.Is(err, pgx.ErrNoRows) {
		return Speaker{}, ErrNotFound
	}
	if err != nil {
		return Speaker{}, fmt.Errorf("speakers: rename: %w", err)
	}
	return sp, nil
}

// LinkProfile attaches the speaker to a consolidated profile.
func (s *SpeakerStore) LinkProfile(ctx context.Context, id, profileID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE speakers SET profile_id = $2, updated_at = now() WHERE id = $1`,
		id, profileID)
	if err != nil {
		return fmt.Errorf("speakers: link profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForProfile returns all member speakers of a profile.
func (s *SpeakerStore) ListForProfile(ctx context.Context, profileID uuid.UUID) ([]Speaker, error) {
	const q = `SELECT ` + speakerColumns + ` FROM speakers WHERE profile_id = $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, profileID)
	if err != nil {
		return nil, fmt.Errorf("speakers: list for profile: %w", err)
	}
	speakers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Speaker, error) {
		return scanSpeaker(row)
	})
	if err != nil {
		return nil, fmt.Errorf("speakers: scan rows: %w", err)
	}
	return speakers, nil
}
