package store

import (
	"time"

	"github.com/google/uuid"
)

// FileStatus is the lifecycle state of a media file.
type FileStatus string

const (
	// StatusPending means the file is registered and waiting for processing
	// to begin.
	StatusPending FileStatus = "PENDING"

	// StatusProcessing means at least one task for this file has started.
	StatusProcessing FileStatus = "PROCESSING"

	// StatusCompleted means the transcription pipeline finished successfully.
	StatusCompleted FileStatus = "COMPLETED"

	// StatusError means processing failed terminally or exhausted its retry
	// budget.
	StatusError FileStatus = "ERROR"

	// StatusCancelling means a user requested cancellation and the system is
	// winding active tasks down.
	StatusCancelling FileStatus = "CANCELLING"

	// StatusCancelled means cancellation completed and the file is inert.
	StatusCancelled FileStatus = "CANCELLED"

	// StatusOrphaned means recovery gave up on the file after exhausting
	// [RecoveryConfig.MaxAttempts]; it is held for operator inspection until
	// force deletion becomes available.
	StatusOrphaned FileStatus = "ORPHANED"
)

// Terminal reports whether no further processing transitions are expected
// from s. CANCELLING is not terminal: it resolves to CANCELLED.
func (s FileStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled, StatusOrphaned:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a single task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "QUEUED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
)

// Active reports whether the task still occupies pipeline capacity.
func (s TaskStatus) Active() bool {
	return s == TaskQueued || s == TaskRunning
}

// User is an account owning media files and speakers. All speaker matching is
// scoped to a single user; embeddings never cross user boundaries.
type User struct {
	ID        uuid.UUID
	Username  string
	Email     string
	IsAdmin   bool
	CreatedAt time.Time
}

// MediaFile is an uploaded or downloaded recording moving through the
// processing pipeline.
type MediaFile struct {
	ID     uuid.UUID
	UserID uuid.UUID

	// Filename is the display name shown to the user.
	Filename string

	// Title, Author, Description and ThumbnailPath come from the download
	// source or an embedded-metadata probe; empty for plain uploads.
	Title         string
	Author        string
	Description   string
	ThumbnailPath string

	// ObjectKey is the object-store key of the original media.
	ObjectKey string

	// ContentHash is the SHA-256 of the media bytes, used for duplicate
	// detection within a user's library. Empty until hashing completes.
	ContentHash string

	// SourceURL is set when the file originated from a URL download rather
	// than a direct upload.
	SourceURL string

	SizeBytes   int64
	DurationSec float64
	Language    string

	Status FileStatus

	// Progress is the aggregate pipeline progress in [0,100]. Derived from
	// task progress; never decreases except on a recovery reset.
	Progress float64

	// LastErrorMessage holds the classified failure ("KIND: detail") when
	// Status is ERROR or ORPHANED.
	LastErrorMessage string

	// RecoveryAttempts counts how many times recovery has reset this file
	// after it was found stuck.
	RecoveryAttempts int

	// ForceDeleteEligible is set by orphan cleanup once an ORPHANED file has
	// aged past the orphan threshold. Only then may the UI offer deletion.
	ForceDeleteEligible bool

	UploadedAt  time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// Task is one unit of pipeline work tied to a media file.
type Task struct {
	ID     uuid.UUID
	FileID uuid.UUID
	UserID uuid.UUID

	// Type names the handler, e.g. "transcription", "download", "waveform".
	Type string

	// Queue is the routed queue name, recorded for observability.
	Queue string

	Status TaskStatus

	// Progress is in [0,100] and only ever increases while the task runs.
	Progress float64

	// Attempt counts executions of this task, starting at 1.
	Attempt int

	ErrorMessage string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// HeartbeatAt is bumped by the worker on every progress update; recovery
	// treats a RUNNING task with a stale heartbeat as stuck.
	HeartbeatAt time.Time
}

// TranscriptSegment is one diarized utterance of a completed transcription.
type TranscriptSegment struct {
	ID     uuid.UUID
	FileID uuid.UUID

	// Index orders segments within the file, starting at 0.
	Index int

	StartSec float64
	EndSec   float64
	Text     string

	// SpeakerID references the resolved speaker, nil while unassigned.
	SpeakerID *uuid.UUID

	// DiarizationLabel is the raw label from the transcription provider
	// ("SPEAKER_00"), kept so retroactive labeling can re-map segments.
	DiarizationLabel string

	// Confidence is the transcription confidence in [0,1].
	Confidence float64
}

// Speaker is a per-file voice identity detected by diarization. Speakers are
// scoped to a user; the same person across files is linked through matches
// and profiles.
type Speaker struct {
	ID     uuid.UUID
	UserID uuid.UUID
	FileID uuid.UUID

	// Name is the display label. Starts as the diarization label and is
	// replaced by user edits or high-confidence matches.
	Name string

	// ProfileID links the speaker to a consolidated identity, nil while
	// unlinked.
	ProfileID *uuid.UUID

	// Verified marks the name as trusted: set by a user edit or by a
	// high-confidence match applied from an already-verified speaker.
	// Only verified names propagate to other speakers.
	Verified bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SpeakerProfile is a consolidated voice identity aggregating one user's
// speakers across files.
type SpeakerProfile struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Name   string

	// SpeakerCount is the number of member speakers folded into the profile
	// embedding, used for incremental mean updates.
	SpeakerCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SpeakerMatch records a cross-file similarity between two speakers of the
// same user. The pair is stored ordered (SpeakerLow < SpeakerHigh by UUID
// string) so each pair appears at most once; re-detections keep the maximum
// confidence seen.
type SpeakerMatch struct {
	SpeakerLow  uuid.UUID
	SpeakerHigh uuid.UUID
	Confidence  float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderPair returns the (low, high) ordering of two speaker IDs used as the
// speaker_matches primary key.
func OrderPair(a, b uuid.UUID) (low, high uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}

// TopicSuggestion is an LLM-extracted topic for a file, pending user review.
type TopicSuggestion struct {
	ID        uuid.UUID
	FileID    uuid.UUID
	Topic     string
	Relevance float64
	Accepted  *bool
	CreatedAt time.Time
}

// Summary is the LLM-generated summary of a transcript.
type Summary struct {
	FileID uuid.UUID

	// BLUF is the bottom-line-up-front one-paragraph summary.
	BLUF string

	// Body is the full structured summary in Markdown.
	Body string

	Model     string
	CreatedAt time.Time
}
