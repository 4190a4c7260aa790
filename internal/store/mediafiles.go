package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInvalidTransition is returned by [MediaFileStore.Transition] when the
// requested status change is not allowed by the lifecycle rules, or when the
// row's current status changed concurrently.
var ErrInvalidTransition = errors.New("store: invalid status transition")

// MediaFileStore persists media files and enforces their lifecycle.
// Obtain one via [Store.Files]. All methods are safe for concurrent use.
type MediaFileStore struct {
	pool *pgxpool.Pool
}

const mediaFileColumns = `
	id, user_id, filename, title, author, description, thumbnail_path,
	object_key, content_hash, source_url,
	size_bytes, duration_sec, language, status, progress,
	last_error_message, recovery_attempts, force_delete_eligible,
	uploaded_at, started_at, completed_at, updated_at`

func scanMediaFile(row pgx.Row) (MediaFile, error) {
	var f MediaFile
	err := row.Scan(
		&f.ID, &f.UserID, &f.Filename, &f.Title, &f.Author, &f.Description,
		&f.ThumbnailPath, &f.ObjectKey, &f.ContentHash, &f.SourceURL,
		&f.SizeBytes, &f.DurationSec, &f.Language, &f.Status, &f.Progress,
		&f.LastErrorMessage, &f.RecoveryAttempts, &f.ForceDeleteEligible,
		&f.UploadedAt, &f.StartedAt, &f.CompletedAt, &f.UpdatedAt,
	)
	return f, err
}

// Create inserts a new media file in the PENDING state. A zero f.ID is
// replaced with a fresh UUID. Returns the stored row.
func (s *MediaFileStore) Create(ctx context.Context, f MediaFile) (MediaFile, error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.Status == "" {
		f.Status = StatusPending
	}

	const q = `
		INSERT INTO media_files
		    (id, user_id, filename, title, author, description, thumbnail_path,
		     object_key, content_hash, source_url,
		     size_bytes, duration_sec, language, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + mediaFileColumns

	stored, err := scanMediaFile(s.pool.QueryRow(ctx, q,
		f.ID, f.UserID, f.Filename, f.Title, f.Author, f.Description,
		f.ThumbnailPath, f.ObjectKey, f.ContentHash, f.SourceURL,
		f.SizeBytes, f.DurationSec, f.Language, f.Status,
	))
	if err != nil {
		return MediaFile{}, fmt.Errorf("media files: create: %w", err)
	}
	return stored, nil
}

// Get returns the media file with the given ID, or [ErrNotFound].
func (s *MediaFileStore) Get(ctx context.Context, id uuid.UUID) (MediaFile, error) {
	const q = `SELECT ` + mediaFileColumns + ` FROM media_files WHERE id = $1`

	f, err := scanMediaFile(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return MediaFile{}, ErrNotFound
	}
	if err != nil {
		return MediaFile{}, fmt.Errorf("media files: get: %w", err)
	}
	return f, nil
}

// FindByHash returns the user's oldest live media file with the given content
// hash, or [ErrNotFound]. Files in ERROR, CANCELLED, or ORPHANED do not count:
// a failed upload must never block re-uploading the same bytes.
func (s *MediaFileStore) FindByHash(ctx context.Context, userID uuid.UUID, hash string) (MediaFile, error) {
	const q = `
		SELECT ` + mediaFileColumns + `
		FROM   media_files
		WHERE  user_id = $1 AND content_hash = $2
		  AND  status NOT IN ('ERROR', 'CANCELLED', 'ORPHANED')
		ORDER  BY uploaded_at
		LIMIT  1`

	f, err := scanMediaFile(s.pool.QueryRow(ctx, q, userID, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return MediaFile{}, ErrNotFound
	}
	if err != nil {
		return MediaFile{}, fmt.Errorf("media files: find by hash: %w", err)
	}
	return f, nil
}

// ListByStatus returns all media files currently in the given status,
// oldest first.
func (s *MediaFileStore) ListByStatus(ctx context.Context, status FileStatus) ([]MediaFile, error) {
	const q = `
		SELECT ` + mediaFileColumns + `
		FROM   media_files
		WHERE  status = $1
		ORDER  BY uploaded_at`

	rows, err := s.pool.Query(ctx, q, status)
	if err != nil {
		return nil, fmt.Errorf("media files: list by status: %w", err)
	}
	files, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MediaFile, error) {
		return scanMediaFile(row)
	})
	if err != nil {
		return nil, fmt.Errorf("media files: scan rows: %w", err)
	}
	return files, nil
}

// Transition moves the file from its current status to 'to', applying the
// standard side effects: started_at is stamped on the first move to
// PROCESSING, completed_at on any terminal status, and progress plus error
// state are cleared on a reset to PENDING.
//
// The update is guarded by the lifecycle rules and by an optimistic re-check
// of the current status inside the UPDATE, so concurrent transitions cannot
// race a file into an illegal state. Returns [ErrInvalidTransition] if the
// move is not allowed or the row changed underneath us, [ErrNotFound] if the
// file does not exist.
func (s *MediaFileStore) Transition(ctx context.Context, id uuid.UUID, to FileStatus) (MediaFile, error) {
	f, err := s.Get(ctx, id)
	if err != nil {
		return MediaFile{}, err
	}
	if !CanTransition(f.Status, to) {
		return MediaFile{}, fmt.Errorf("media files: %s -> %s: %w", f.Status, to, ErrInvalidTransition)
	}

	const q = `
		UPDATE media_files SET
		    status       = $3,
		    started_at   = CASE WHEN $3 = 'PROCESSING' AND started_at IS NULL THEN now() ELSE started_at END,
		    completed_at = CASE WHEN $3 IN ('COMPLETED', 'ERROR', 'CANCELLED', 'ORPHANED') THEN now() ELSE completed_at END,
		    progress     = CASE WHEN $3 = 'PENDING' THEN 0 ELSE progress END,
		    last_error_message = CASE WHEN $3 = 'PENDING' THEN '' ELSE last_error_message END,
		    updated_at   = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + mediaFileColumns

	updated, err := scanMediaFile(s.pool.QueryRow(ctx, q, id, f.Status, to))
	if errors.Is(err, pgx.ErrNoRows) {
		// Status changed between the read and the update.
		return MediaFile{}, fmt.Errorf("media files: concurrent change on %s: %w", id, ErrInvalidTransition)
	}
	if err != nil {
		return MediaFile{}, fmt.Errorf("media files: transition: %w", err)
	}
	return updated, nil
}

// Fail transitions the file to ERROR and records the classified error
// message ("KIND: detail").
func (s *MediaFileStore) Fail(ctx context.Context, id uuid.UUID, message string) (MediaFile, error) {
	f, err := s.Transition(ctx, id, StatusError)
	if err != nil {
		return MediaFile{}, err
	}

	const q = `
		UPDATE media_files SET last_error_message = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + mediaFileColumns

	updated, err := scanMediaFile(s.pool.QueryRow(ctx, q, f.ID, message))
	if err != nil {
		return MediaFile{}, fmt.Errorf("media files: record error: %w", err)
	}
	return updated, nil
}

// SetProgress updates the aggregate progress. Progress never moves backwards;
// a lower value than the stored one is ignored.
func (s *MediaFileStore) SetProgress(ctx context.Context, id uuid.UUID, progress float64) error {
	const q = `
		UPDATE media_files
		SET    progress = GREATEST(progress, LEAST($2, 100)), updated_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, progress)
	if err != nil {
		return fmt.Errorf("media files: set progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMediaInfo records probed media metadata (duration, size, content hash)
// once the original bytes have been inspected.
func (s *MediaFileStore) SetMediaInfo(ctx context.Context, id uuid.UUID, durationSec float64, sizeBytes int64, contentHash string) error {
	const q = `
		UPDATE media_files
		SET    duration_sec = $2, size_bytes = $3, content_hash = $4, updated_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, durationSec, sizeBytes, contentHash)
	if err != nil {
		return fmt.Errorf("media files: set media info: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDetails records source-derived display metadata. Empty values leave the
// stored column untouched, so a later stage cannot blank out what an earlier
// one resolved.
func (s *MediaFileStore) SetDetails(ctx context.Context, id uuid.UUID, title, author, description, thumbnailPath string) error {
	const q = `
		UPDATE media_files SET
		    title          = CASE WHEN $2 <> '' THEN $2 ELSE title END,
		    author         = CASE WHEN $3 <> '' THEN $3 ELSE author END,
		    description    = CASE WHEN $4 <> '' THEN $4 ELSE description END,
		    thumbnail_path = CASE WHEN $5 <> '' THEN $5 ELSE thumbnail_path END,
		    updated_at     = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, title, author, description, thumbnailPath)
	if err != nil {
		return fmt.Errorf("media files: set details: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSourceMetadata stores the raw extractor/probe metadata and the curated
// subset surfaced in the UI. Kept out of the main scan; use [SourceMetadata].
func (s *MediaFileStore) SetSourceMetadata(ctx context.Context, id uuid.UUID, raw, important map[string]string) error {
	const q = `
		UPDATE media_files
		SET    metadata_raw = $2, metadata_important = $3, updated_at = now()
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, id, raw, important)
	if err != nil {
		return fmt.Errorf("media files: set source metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SourceMetadata returns the stored raw and important metadata maps. Both are
// nil when nothing has been recorded yet.
func (s *MediaFileStore) SourceMetadata(ctx context.Context, id uuid.UUID) (raw, important map[string]string, err error) {
	const q = `SELECT metadata_raw, metadata_important FROM media_files WHERE id = $1`

	err = s.pool.QueryRow(ctx, q, id).Scan(&raw, &important)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("media files: source metadata: %w", err)
	}
	return raw, important, nil
}

// SetWaveform stores the multi-resolution waveform peaks, keyed by bucket
// count.
func (s *MediaFileStore) SetWaveform(ctx context.Context, id uuid.UUID, peaks map[string][]float32) error {
	const q = `UPDATE media_files SET waveform_data = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, peaks)
	if err != nil {
		return fmt.Errorf("media files: set waveform: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Waveform returns the stored peaks, or nil when not yet computed.
func (s *MediaFileStore) Waveform(ctx context.Context, id uuid.UUID) (map[string][]float32, error) {
	const q = `SELECT waveform_data FROM media_files WHERE id = $1`

	var peaks map[string][]float32
	err := s.pool.QueryRow(ctx, q, id).Scan(&peaks)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("media files: waveform: %w", err)
	}
	return peaks, nil
}

// SetLanguage records the detected transcript language.
func (s *MediaFileStore) SetLanguage(ctx context.Context, id uuid.UUID, language string) error {
	const q = `UPDATE media_files SET language = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, language)
	if err != nil {
		return fmt.Errorf("media files: set language: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetForRecovery moves a stuck file back to PENDING and increments its
// recovery attempt counter. The caller decides, based on the returned
// attempt count, whether the file should instead be orphaned.
func (s *MediaFileStore) ResetForRecovery(ctx context.Context, id uuid.UUID) (MediaFile, error) {
	f, err := s.Transition(ctx, id, StatusPending)
	if err != nil {
		return MediaFile{}, err
	}

	const q = `
		UPDATE media_files
		SET    recovery_attempts = recovery_attempts + 1, updated_at = now()
		WHERE  id = $1
		RETURNING ` + mediaFileColumns

	updated, err := scanMediaFile(s.pool.QueryRow(ctx, q, f.ID))
	if err != nil {
		return MediaFile{}, fmt.Errorf("media files: bump recovery attempts: %w", err)
	}
	return updated, nil
}

// RecordRecoveryAttempt increments the recovery attempt counter without
// touching the status. Used when a detection ends in orphaning rather than a
// reset, so the counter still reflects every detection.
func (s *MediaFileStore) RecordRecoveryAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	const q = `
		UPDATE media_files
		SET    recovery_attempts = recovery_attempts + 1, updated_at = now()
		WHERE  id = $1
		RETURNING recovery_attempts`

	var attempts int
	err := s.pool.QueryRow(ctx, q, id).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("media files: record recovery attempt: %w", err)
	}
	return attempts, nil
}

// InconsistentProcessing returns PROCESSING files that have task rows but no
// active ones: the file believes work is in flight while every task already
// finished. Recovery re-derives the file status from the task aggregate.
func (s *MediaFileStore) InconsistentProcessing(ctx context.Context) ([]MediaFile, error) {
	const q = `
		SELECT ` + mediaFileColumns + `
		FROM   media_files f
		WHERE  f.status = 'PROCESSING'
		  AND  EXISTS (SELECT 1 FROM tasks t WHERE t.file_id = f.id)
		  AND  NOT EXISTS (
		           SELECT 1 FROM tasks t
		           WHERE t.file_id = f.id AND t.status IN ('QUEUED', 'RUNNING'))
		ORDER  BY f.uploaded_at`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("media files: inconsistent processing: %w", err)
	}
	files, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MediaFile, error) {
		return scanMediaFile(row)
	})
	if err != nil {
		return nil, fmt.Errorf("media files: scan rows: %w", err)
	}
	return files, nil
}

// StuckSince returns PROCESSING files whose most recent task heartbeat (or,
// for files with no tasks at all, their own updated_at) is older than the
// cutoff. Read-only; reconciliation acts on the result separately.
func (s *MediaFileStore) StuckSince(ctx context.Context, cutoff time.Time) ([]MediaFile, error) {
	const q = `
		SELECT ` + mediaFileColumns + `
		FROM   media_files f
		WHERE  f.status = 'PROCESSING'
		  AND  COALESCE(
		           (SELECT max(t.heartbeat_at) FROM tasks t
		            WHERE t.file_id = f.id AND t.status IN ('QUEUED', 'RUNNING')),
		           f.updated_at
		       ) < $1
		ORDER  BY f.uploaded_at`

	rows, err := s.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("media files: stuck since: %w", err)
	}
	files, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MediaFile, error) {
		return scanMediaFile(row)
	})
	if err != nil {
		return nil, fmt.Errorf("media files: scan rows: %w", err)
	}
	return files, nil
}

// AbandonedSince returns PROCESSING files uploaded before the cutoff that
// have no active tasks at all. These are files whose pipeline died before
// any task could be enqueued, or whose queue entries were lost.
func (s *MediaFileStore) AbandonedSince(ctx context.Context, cutoff time.Time) ([]MediaFile, error) {
	const q = `
		SELECT ` + mediaFileColumns + `
		FROM   media_files f
		WHERE  f.status = 'PROCESSING'
		  AND  f.uploaded_at < $1
		  AND  NOT EXISTS (
		           SELECT 1 FROM tasks t
		           WHERE t.file_id = f.id AND t.status IN ('QUEUED', 'RUNNING'))
		ORDER  BY f.uploaded_at`

	rows, err := s.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("media files: abandoned since: %w", err)
	}
	files, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MediaFile, error) {
		return scanMediaFile(row)
	})
	if err != nil {
		return nil, fmt.Errorf("media files: scan rows: %w", err)
	}
	return files, nil
}

// OrphanedSince returns ORPHANED files whose completed_at is older than the
// cutoff, making them eligible for force deletion.
func (s *MediaFileStore) OrphanedSince(ctx context.Context, cutoff time.Time) ([]MediaFile, error) {
	const q = `
		SELECT ` + mediaFileColumns + `
		FROM   media_files
		WHERE  status = 'ORPHANED' AND completed_at < $1
		ORDER  BY completed_at`

	rows, err := s.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("media files: orphaned since: %w", err)
	}
	files, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MediaFile, error) {
		return scanMediaFile(row)
	})
	if err != nil {
		return nil, fmt.Errorf("media files: scan rows: %w", err)
	}
	return files, nil
}

// SetForceDeleteEligible flags an ORPHANED file as old enough for the UI to
// offer force deletion.
func (s *MediaFileStore) SetForceDeleteEligible(ctx context.Context, id uuid.UUID) error {
	const q = `
		UPDATE media_files
		SET    force_delete_eligible = TRUE, updated_at = now()
		WHERE  id = $1 AND status = 'ORPHANED'`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("media files: set force delete eligible: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the media file row. Tasks, segments, speakers, topic
// suggestions, and summaries cascade; object-store artifacts are the caller's
// responsibility.
func (s *MediaFileStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM media_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("media files: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
