package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/tobfr/verbatim/internal/blob"
	"github.com/tobfr/verbatim/internal/errclass"
	"github.com/tobfr/verbatim/internal/queue"
	"github.com/tobfr/verbatim/internal/store"
	"github.com/tobfr/verbatim/internal/subtitle"
	"github.com/tobfr/verbatim/internal/transcript"
	"github.com/tobfr/verbatim/pkg/provider/transcribe"
)

// transcribeProgressCeiling caps the progress reported while the model runs;
// the remainder covers persistence, speaker identification, and fan-out.
const transcribeProgressCeiling = 90

// errTranscriptionCancelled signals that the task row was cancelled while
// the model ran. Detected on a progress update, not via ctx: cancellation
// comes from another replica through the database.
var errTranscriptionCancelled = errors.New("transcription cancelled mid-run")

// childTypes are the best-effort stages fanned out after a successful
// transcription.
var childTypes = []string{
	queue.TypeWaveform,
	queue.TypeAnalytics,
	queue.TypeSummarization,
	queue.TypeTopicExtraction,
	queue.TypeSpeakerHints,
}

// runTranscription is the pipeline spine: transcribe, clean, persist the
// transcript, identify speakers, render subtitles, fan out the children, and
// complete the file.
func (s *Service) runTranscription(ctx context.Context, task store.Task) error {
	f, err := s.store.Files.Get(ctx, task.FileID)
	if err != nil {
		return err
	}
	switch f.Status {
	case store.StatusCancelling, store.StatusCancelled:
		s.log.Info("transcription skipped, file cancelled", "file_id", f.ID)
		return nil
	case store.StatusPending:
		if f, err = s.store.Files.Transition(ctx, f.ID, store.StatusProcessing); err != nil {
			return err
		}
		s.publishFileStatus(ctx, f)
	}

	result, err := s.transcribeFile(ctx, task, f)
	if errors.Is(err, errTranscriptionCancelled) {
		// Frees the gpu slot; the cancel flow settles the file status.
		s.log.Info("transcription aborted, task cancelled", "file_id", f.ID, "task_id", task.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if len(result.Segments) == 0 {
		return fmt.Errorf("transcription of %q: %w", f.Filename, errclass.ErrNoSpeech)
	}

	segments, err := s.buildSegments(ctx, f.ID, result.Segments)
	if err != nil {
		return err
	}
	if err := s.store.Segments.ReplaceForFile(ctx, f.ID, segments); err != nil {
		return err
	}
	if result.Language != "" {
		if err := s.store.Files.SetLanguage(ctx, f.ID, result.Language); err != nil {
			return err
		}
	}
	if result.Duration > 0 && result.Duration != f.DurationSec {
		if err := s.store.Files.SetMediaInfo(ctx, f.ID, result.Duration, f.SizeBytes, f.ContentHash); err != nil {
			return err
		}
	}

	// The transcript is safe; everything from here on is best-effort.
	names := s.identifySpeakers(ctx, f, segments)
	s.renderSubtitles(ctx, f.ID, segments, names)
	for _, child := range childTypes {
		if _, err := s.Submit(ctx, f.ID, f.UserID, child); err != nil {
			s.log.Warn("submit child task", "file_id", f.ID, "task_type", child, "error", err)
		}
	}

	done, err := s.store.Files.Transition(ctx, f.ID, store.StatusCompleted)
	if errors.Is(err, store.ErrInvalidTransition) {
		// Cancellation won the race; CANCELLING never settles in COMPLETED.
		s.log.Info("transcription finished after cancellation", "file_id", f.ID)
		return nil
	}
	if err != nil {
		return err
	}
	s.publishFileStatus(ctx, done)
	return nil
}

// transcribeFile streams the original media through the transcription
// provider behind the circuit breaker, reporting coarse progress as the model
// runs. UpdateProgress doubles as the cancellation check: it reports
// [store.ErrNotFound] once the task is no longer RUNNING, at which point the
// provider context is cancelled so the slot frees instead of finishing a
// run nobody wants.
func (s *Service) transcribeFile(ctx context.Context, task store.Task, f store.MediaFile) (*transcribe.Result, error) {
	audio, err := s.blobs.Get(ctx, blob.OriginalKey(f.ID))
	if err != nil {
		return nil, err
	}
	defer audio.Close()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	cancelled := false
	onProgress := func(fraction float64) {
		pct := fraction * transcribeProgressCeiling
		err := s.store.Tasks.UpdateProgress(ctx, task.ID, pct)
		if errors.Is(err, store.ErrNotFound) {
			cancelled = true
			stop()
			return
		}
		if err != nil {
			s.log.Debug("task progress", "task_id", task.ID, "error", err)
		}
		s.syncFileProgress(ctx, task)
	}

	var result *transcribe.Result
	err = s.modelBreaker.Execute(func() error {
		var tErr error
		result, tErr = s.transcriber.Transcribe(ctx, transcribe.Request{
			Audio:    audio,
			Filename: f.Filename,
			Language: f.Language,
			Progress: onProgress,
		})
		return tErr
	})
	if cancelled {
		return nil, errTranscriptionCancelled
	}
	if err != nil {
		return nil, fmt.Errorf("transcribe %q: %w", f.Filename, err)
	}
	return result, nil
}

// buildSegments converts provider segments into transcript rows, applying
// the runtime-tunable garbage cleanup. Segments whose text cleans down to
// nothing are dropped and the remainder reindexed.
func (s *Service) buildSegments(ctx context.Context, fileID uuid.UUID, raw []transcribe.Segment) ([]store.TranscriptSegment, error) {
	opts, err := s.cleanupOptions(ctx)
	if err != nil {
		return nil, err
	}

	segments := make([]store.TranscriptSegment, 0, len(raw))
	for _, seg := range raw {
		text, _ := transcript.Clean(seg.Text, opts)
		if strings.TrimSpace(text) == "" {
			continue
		}
		segments = append(segments, store.TranscriptSegment{
			ID:               uuid.New(),
			FileID:           fileID,
			Index:            len(segments),
			StartSec:         seg.Start,
			EndSec:           seg.End,
			Text:             text,
			DiarizationLabel: seg.Speaker,
			Confidence:       seg.Confidence,
		})
	}
	return segments, nil
}

func (s *Service) cleanupOptions(ctx context.Context) (transcript.CleanupOptions, error) {
	enabled, err := s.store.Settings.GetBool(ctx, store.SettingGarbageCleanupEnabled, true)
	if err != nil {
		return transcript.CleanupOptions{}, err
	}
	if !enabled {
		return transcript.CleanupOptions{}, nil
	}
	maxLen, err := s.store.Settings.GetInt(ctx, store.SettingMaxWordLength, transcript.DefaultMaxWordLength)
	if err != nil {
		return transcript.CleanupOptions{}, err
	}
	return transcript.CleanupOptions{
		DropLongWords:   true,
		MaxWordLength:   maxLen,
		CollapseRepeats: true,
	}, nil
}

// identifySpeakers runs the identity engine inline and returns the resulting
// speaker display names keyed by speaker ID, for subtitle prefixes. Returns
// nil when identification was skipped or failed.
func (s *Service) identifySpeakers(ctx context.Context, f store.MediaFile, segments []store.TranscriptSegment) map[uuid.UUID]string {
	if s.speakers == nil {
		return nil
	}
	open := func(ctx context.Context) (io.ReadCloser, error) {
		return s.blobs.Get(ctx, blob.OriginalKey(f.ID))
	}
	created, err := s.speakers.ProcessFile(ctx, f, segments, open)
	if err != nil {
		s.log.Warn("speaker identification", "file_id", f.ID, "error", err)
	}
	if len(created) == 0 {
		return nil
	}

	// ProcessFile returns the speakers as created, before any rename from a
	// high-confidence match: each Name still carries its diarization label.
	// Re-read for the current display name and stitch segment ownership in
	// memory so the subtitle pass sees it.
	byLabel := make(map[string]uuid.UUID, len(created))
	names := make(map[uuid.UUID]string, len(created))
	for _, sp := range created {
		byLabel[sp.Name] = sp.ID
		current, err := s.store.Speakers.Get(ctx, sp.ID)
		if err != nil {
			current = sp
		}
		names[sp.ID] = current.Name
	}
	for i := range segments {
		if id, ok := byLabel[segments[i].DiarizationLabel]; ok {
			segments[i].SpeakerID = &id
		}
	}
	return names
}

// renderSubtitles writes the SRT and VTT artifacts next to the original.
func (s *Service) renderSubtitles(ctx context.Context, fileID uuid.UUID, segments []store.TranscriptSegment, names map[uuid.UUID]string) {
	cues := subtitle.Build(segments, names, subtitle.DefaultOptions())
	if len(cues) == 0 {
		return
	}
	srt := subtitle.FormatSRT(cues)
	if err := s.blobs.Put(ctx, blob.SubtitleKey(fileID, "srt"), strings.NewReader(srt), int64(len(srt)), "application/x-subrip"); err != nil {
		s.log.Warn("store srt subtitles", "file_id", fileID, "error", err)
	}
	vtt := subtitle.FormatVTT(cues)
	if err := s.blobs.Put(ctx, blob.SubtitleKey(fileID, "vtt"), strings.NewReader(vtt), int64(len(vtt)), "text/vtt"); err != nil {
		s.log.Warn("store vtt subtitles", "file_id", fileID, "error", err)
	}
}
