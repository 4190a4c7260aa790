package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileStore persists consolidated speaker profiles. Obtain one via
// [Store.Profiles].
type ProfileStore struct {
	pool *pgxpool.Pool
}

const profileColumns = `
	id, user_id, name, speaker_count, created_at, updated_at`

func scanProfile(row pgx.Row) (SpeakerProfile, error) {
	var p SpeakerProfile
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.SpeakerCount, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// Create inserts a new profile. A zero p.ID is replaced with a fresh UUID.
// Profile names are unique per user.
func (s *ProfileStore) Create(ctx context.Context, p SpeakerProfile) (SpeakerProfile, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	const q = `
		INSERT INTO speaker_profiles (id, user_id, name, speaker_count)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + profileColumns

	stored, err := scanProfile(s.pool.QueryRow(ctx, q, p.ID, p.UserID, p.Name, p.SpeakerCount))
	if err != nil {
		return SpeakerProfile{}, fmt.Errorf("profiles: create: %w", err)
	}
	return stored, nil
}

// Get returns the profile with the given ID, or [ErrNotFound].
func (s *ProfileStore) Get(ctx context.Context, id uuid.UUID) (SpeakerProfile, error) {
	const q = `SELECT ` + profileColumns + ` FROM speaker_profiles WHERE id = $1`

	p, err := scanProfile(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return SpeakerProfile{}, ErrNotFound
	}
	if err != nil {
		return SpeakerProfile{}, fmt.Errorf("profiles: get: %w", err)
	}
	return p, nil
}

// GetByName returns the user's profile with the given name, or [ErrNotFound].
// The comparison is case-insensitive: "alice" finds a profile named "Alice".
func (s *ProfileStore) GetByName(ctx context.Context, userID uuid.UUID, name string) (SpeakerProfile, error) {
	const q = `SELECT ` + profileColumns + ` FROM speaker_profiles WHERE user_id = $1 AND LOWER(name) = LOWER($2)`

	p, err := scanProfile(s.pool.QueryRow(ctx, q, userID, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return SpeakerProfile{}, ErrNotFound
	}
	if err != nil {
		return SpeakerProfile{}, fmt.Errorf("profiles: get by name: %w", err)
	}
	return p, nil
}

// ListForUser returns all of a user's profiles, alphabetically.
func (s *ProfileStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]SpeakerProfile, error) {
	const q = `SELECT ` + profileColumns + ` FROM speaker_profiles WHERE user_id = $1 ORDER BY name`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("profiles: list for user: %w", err)
	}
	profiles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SpeakerProfile, error) {
		return scanProfile(row)
	})
	if err != nil {
		return nil, fmt.Errorf("profiles: scan rows: %w", err)
	}
	return profiles, nil
}

// SetSpeakerCount records how many member speakers are folded into the
// profile embedding. Consolidation updates this alongside the embedding.
func (s *ProfileStore) SetSpeakerCount(ctx context.Context, id uuid.UUID, count int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE speaker_profiles SET speaker_count = $2, updated_at = now() WHERE id = $1`,
		id, count)
	if err != nil {
		return fmt.Errorf("profiles: set speaker count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Rename sets the profile's display name.
func (s *ProfileStore) Rename(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE speaker_profiles SET name = $2, updated_at = now() WHERE id = $1`,
		id, name)
	if err != nil {
		return fmt.Errorf("profiles: rename: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the profile. Member speakers keep their names but lose the
// profile link; their embeddings remain.
func (s *ProfileStore) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("profiles: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE speakers SET profile_id = NULL, updated_at = now() WHERE profile_id = $1`, id); err != nil {
		return fmt.Errorf("profiles: unlink speakers: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM speaker_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("profiles: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("profiles: commit: %w", err)
	}
	return nil
}
