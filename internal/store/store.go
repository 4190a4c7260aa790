package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// ErrNotFound is returned by Get-style operations when no row matches.
var ErrNotFound = errors.New("store: not found")

// Store is the central PostgreSQL-backed persistence layer. It holds a single
// [pgxpool.Pool] and exposes one sub-store per aggregate:
//
//   - Users     — accounts
//   - Files     — media file lifecycle and metadata
//   - Tasks     — task rows and progress aggregation
//   - Segments  — transcript segments and full-text search
//   - Speakers  — per-file speakers
//   - Profiles  — consolidated speaker profiles
//   - Matches   — cross-file speaker similarity pairs
//   - Settings  — runtime-tunable key/value settings (retry policies)
//   - Topics    — LLM topic suggestions and summaries
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool

	Users    *UserStore
	Files    *MediaFileStore
	Tasks    *TaskStore
	Segments *SegmentStore
	Speakers *SpeakerStore
	Profiles *ProfileStore
	Matches  *MatchStore
	Settings *SettingsStore
	Topics   *TopicStore
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the configured voice
// embedding model (512 for the default pyannote pipeline).
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return wrap(pool), nil
}

// wrap builds a Store around an existing pool without migrating. Used by New
// and by integration tests that manage schema themselves.
func wrap(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:     pool,
		Users:    &UserStore{pool: pool},
		Files:    &MediaFileStore{pool: pool},
		Tasks:    &TaskStore{pool: pool},
		Segments: &SegmentStore{pool: pool},
		Speakers: &SpeakerStore{pool: pool},
		Profiles: &ProfileStore{pool: pool},
		Matches:  &MatchStore{pool: pool},
		Settings: &SettingsStore{pool: pool},
		Topics:   &TopicStore{pool: pool},
	}
}

// Pool exposes the underlying connection pool for components that issue
// their own queries against the shared schema (the vector index).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity. Suitable as a readiness checker.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
