// Package store provides the PostgreSQL persistence layer for verbatim:
// users, media files and their lifecycle, tasks, transcript segments,
// speakers, speaker profiles, cross-file matches, retry policies, and
// summaries.
//
// All sub-stores share a single [pgxpool.Pool]. The pgvector extension must
// be available in the target database; [Migrate] installs it automatically
// via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := store.New(ctx, dsn, 512)
//	if err != nil { … }
//	defer st.Close()
//
//	file, _ := st.Files.Create(ctx, store.MediaFile{…})
//	_ = st.Files.Transition(ctx, file.ID, store.StatusProcessing)
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Accounts and media files
// ─────────────────────────────────────────────────────────────────────────────

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id          UUID         PRIMARY KEY,
    username    TEXT         NOT NULL UNIQUE,
    email       TEXT         NOT NULL DEFAULT '',
    is_admin    BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlMediaFiles = `
CREATE TABLE IF NOT EXISTS media_files (
    id                 UUID         PRIMARY KEY,
    user_id            UUID         NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    filename           TEXT         NOT NULL,
    title              TEXT         NOT NULL DEFAULT '',
    author             TEXT         NOT NULL DEFAULT '',
    description        TEXT         NOT NULL DEFAULT '',
    thumbnail_path     TEXT         NOT NULL DEFAULT '',
    object_key         TEXT         NOT NULL,
    content_hash       TEXT         NOT NULL DEFAULT '',
    source_url         TEXT         NOT NULL DEFAULT '',
    size_bytes         BIGINT       NOT NULL DEFAULT 0,
    duration_sec       DOUBLE PRECISION NOT NULL DEFAULT 0,
    language           TEXT         NOT NULL DEFAULT '',
    status             TEXT         NOT NULL DEFAULT 'PENDING',
    progress           DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_error_message TEXT         NOT NULL DEFAULT '',
    recovery_attempts  INTEGER      NOT NULL DEFAULT 0,
    force_delete_eligible BOOLEAN   NOT NULL DEFAULT FALSE,
    waveform_data      JSONB,
    metadata_raw       JSONB,
    metadata_important JSONB,
    uploaded_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    started_at         TIMESTAMPTZ,
    completed_at       TIMESTAMPTZ,
    updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_media_files_user_id
    ON media_files (user_id);

CREATE INDEX IF NOT EXISTS idx_media_files_status
    ON media_files (status);

CREATE INDEX IF NOT EXISTS idx_media_files_user_hash
    ON media_files (user_id, content_hash)
    WHERE content_hash <> '';
`

// ─────────────────────────────────────────────────────────────────────────────
// Tasks
// ─────────────────────────────────────────────────────────────────────────────

const ddlTasks = `
CREATE TABLE IF NOT EXISTS tasks (
    id            UUID         PRIMARY KEY,
    file_id       UUID         NOT NULL REFERENCES media_files (id) ON DELETE CASCADE,
    user_id       UUID         NOT NULL,
    type          TEXT         NOT NULL,
    queue         TEXT         NOT NULL,
    status        TEXT         NOT NULL DEFAULT 'QUEUED',
    progress      DOUBLE PRECISION NOT NULL DEFAULT 0,
    attempt       INTEGER      NOT NULL DEFAULT 1,
    error_message TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    started_at    TIMESTAMPTZ,
    completed_at  TIMESTAMPTZ,
    heartbeat_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tasks_file_id
    ON tasks (file_id);

CREATE INDEX IF NOT EXISTS idx_tasks_status_heartbeat
    ON tasks (status, heartbeat_at);
`

// ─────────────────────────────────────────────────────────────────────────────
// Transcript segments (with full-text search)
// ─────────────────────────────────────────────────────────────────────────────

const ddlSegments = `
CREATE TABLE IF NOT EXISTS transcript_segments (
    id                UUID         PRIMARY KEY,
    file_id           UUID         NOT NULL REFERENCES media_files (id) ON DELETE CASCADE,
    idx               INTEGER      NOT NULL,
    start_sec         DOUBLE PRECISION NOT NULL,
    end_sec           DOUBLE PRECISION NOT NULL,
    text              TEXT         NOT NULL,
    speaker_id        UUID,
    diarization_label TEXT         NOT NULL DEFAULT '',
    confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
    UNIQUE (file_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_segments_file_id
    ON transcript_segments (file_id);

CREATE INDEX IF NOT EXISTS idx_segments_speaker_id
    ON transcript_segments (speaker_id);

CREATE INDEX IF NOT EXISTS idx_segments_fts
    ON transcript_segments USING GIN (to_tsvector('english', text));
`

// ─────────────────────────────────────────────────────────────────────────────
// Speakers, profiles, matches
// ─────────────────────────────────────────────────────────────────────────────

const ddlSpeakers = `
CREATE TABLE IF NOT EXISTS speakers (
    id           UUID         PRIMARY KEY,
    user_id      UUID         NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    file_id      UUID         NOT NULL REFERENCES media_files (id) ON DELETE CASCADE,
    name         TEXT         NOT NULL,
    profile_id   UUID,
    verified     BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_speakers_user_id ON speakers (user_id);
CREATE INDEX IF NOT EXISTS idx_speakers_file_id ON speakers (file_id);
CREATE INDEX IF NOT EXISTS idx_speakers_profile_id ON speakers (profile_id);

CREATE TABLE IF NOT EXISTS speaker_profiles (
    id            UUID         PRIMARY KEY,
    user_id       UUID         NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    name          TEXT         NOT NULL,
    speaker_count INTEGER      NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (user_id, name)
);

CREATE TABLE IF NOT EXISTS speaker_matches (
    speaker_low  UUID         NOT NULL REFERENCES speakers (id) ON DELETE CASCADE,
    speaker_high UUID         NOT NULL REFERENCES speakers (id) ON DELETE CASCADE,
    confidence   DOUBLE PRECISION NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (speaker_low, speaker_high)
);

CREATE INDEX IF NOT EXISTS idx_matches_high ON speaker_matches (speaker_high);
`

// ─────────────────────────────────────────────────────────────────────────────
// Voice embeddings (pgvector)
// ─────────────────────────────────────────────────────────────────────────────

// ddlEmbeddings returns the embedding DDL with the vector dimension
// substituted. A single table holds both per-file speaker embeddings and
// consolidated profile embeddings, distinguished by owner_type, so kNN probes
// against either population use the same HNSW index.
func ddlEmbeddings(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS voice_embeddings (
    owner_id    UUID         NOT NULL,
    owner_type  TEXT         NOT NULL,
    user_id     UUID         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (owner_id, owner_type)
);

CREATE INDEX IF NOT EXISTS idx_voice_embeddings_user
    ON voice_embeddings (user_id, owner_type);

CREATE INDEX IF NOT EXISTS idx_voice_embeddings_hnsw
    ON voice_embeddings USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// ─────────────────────────────────────────────────────────────────────────────
// Settings, topics, summaries
// ─────────────────────────────────────────────────────────────────────────────

const ddlSettings = `
CREATE TABLE IF NOT EXISTS system_settings (
    key        TEXT         PRIMARY KEY,
    value      TEXT         NOT NULL,
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlTopicsAndSummaries = `
CREATE TABLE IF NOT EXISTS topic_suggestions (
    id         UUID         PRIMARY KEY,
    file_id    UUID         NOT NULL REFERENCES media_files (id) ON DELETE CASCADE,
    topic      TEXT         NOT NULL,
    relevance  DOUBLE PRECISION NOT NULL DEFAULT 0,
    accepted   BOOLEAN,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (file_id, topic)
);

CREATE TABLE IF NOT EXISTS summaries (
    file_id    UUID         PRIMARY KEY REFERENCES media_files (id) ON DELETE CASCADE,
    bluf       TEXT         NOT NULL,
    body       TEXT         NOT NULL,
    model      TEXT         NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_summaries_fts
    ON summaries USING GIN (to_tsvector('english', bluf || ' ' || body));
`

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) and safe to call on every application start.
//
// embeddingDimensions must match the voice embedding model configured for
// your deployment (512 for pyannote/wespeaker-voxceleb-resnet34-LM). Changing
// this value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlUsers,
		ddlMediaFiles,
		ddlTasks,
		ddlSegments,
		ddlSpeakers,
		ddlEmbeddings(embeddingDimensions),
		ddlSettings,
		ddlTopicsAndSummaries,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store migrate: %w", err)
		}
	}
	return nil
}
